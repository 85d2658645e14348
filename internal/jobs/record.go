// Package jobs persists the generation job ledger.
//
// Jobs are the source of truth for pipeline progress. Workers never own a
// job by holding it in memory: ownership is a conditional status transition
// in the database, so a redelivered queue message finds the job already
// running (or finished) and skips it.
package jobs

import (
	"time"
)

// Status represents the current state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job types.
const (
	TypeAnalyze Type = "analyze"
	TypePanels  Type = "panels"
	TypeEdit    Type = "edit"
)

// Type identifies what kind of work a job performs.
type Type string

// Progress is the aggregated view of how far a job has gotten. It is
// updated in place as workers move through stages.
type Progress struct {
	Percentage     int    `json:"percentage"`
	Stage          string `json:"stage,omitempty"`
	CurrentChapter int    `json:"currentChapter,omitempty"`
	TotalChapters  int    `json:"totalChapters,omitempty"`
	PanelsDone     int    `json:"panelsDone,omitempty"`
	PanelsFailed   int    `json:"panelsFailed,omitempty"`
	PanelsTotal    int    `json:"panelsTotal,omitempty"`
}

// RecalcPanelPercentage derives Percentage from the panel counters. A job
// with no known total keeps its stage-driven percentage.
func (p *Progress) RecalcPanelPercentage() {
	if p.PanelsTotal <= 0 {
		return
	}
	p.Percentage = (p.PanelsDone + p.PanelsFailed) * 100 / p.PanelsTotal
}

// Record is one row of the job ledger.
type Record struct {
	ID           string         `json:"id"`
	Type         Type           `json:"type"`
	Status       Status         `json:"status"`
	SubjectID    string         `json:"subjectId,omitempty"`
	StoryboardID string         `json:"storyboardId,omitempty"`
	Mode         string         `json:"mode,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	Progress     Progress       `json:"progress"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (r *Record) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CreateParams describes a new job.
type CreateParams struct {
	Type         Type
	SubjectID    string
	StoryboardID string
	Mode         string
	UserID       string
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status       Status
	Type         Type
	StoryboardID string
	Limit        int
}
