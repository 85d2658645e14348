package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/api"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/pipeline"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/svcctx"
	"github.com/jackzampolin/easel/internal/tasks"
)

// ListJobsResponse contains a filtered page of the job ledger.
type ListJobsResponse struct {
	Jobs  []*jobs.Record `json:"jobs"`
	Count int            `json:"count"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List jobs
//	@Description	List jobs from the ledger, newest first, with optional filters
//	@Tags			jobs
//	@Produce		json
//	@Param			status		query		string	false	"Filter by status (queued, running, completed, failed, cancelled)"
//	@Param			type		query		string	false	"Filter by type (analyze, panels)"
//	@Param			storyboard	query		string	false	"Filter by storyboard ID"
//	@Param			limit		query		int		false	"Maximum number of jobs"
//	@Success		200			{object}	ListJobsResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobsFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	q := r.URL.Query()
	filter := jobs.ListFilter{
		Status:       jobs.Status(q.Get("status")),
		Type:         jobs.Type(q.Get("type")),
		StoryboardID: q.Get("storyboard"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	list, err := jm.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: list, Count: len(list)})
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status, jobType string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if status != "" {
				params.Set("status", status)
			}
			if jobType != "" {
				params.Set("type", jobType)
			}
			path := "/api/jobs"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			client := api.NewClient(getServerURL())
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&jobType, "type", "", "Filter by type")
	return cmd
}

// GetJobResponse is the job record plus the panel task summary for
// panels jobs.
type GetJobResponse struct {
	*jobs.Record

	Tasks *tasks.Summary `json:"tasks,omitempty"`
}

// GetJobEndpoint handles GET /api/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get job by ID
//	@Description	Get one job, including per-panel task counts for panels jobs
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	GetJobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/jobs/{id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
		return
	}

	job, err := svcs.Jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := GetJobResponse{Record: job}
	if job.Type == jobs.TypePanels {
		if summary, err := svcs.Tasks.Summarize(r.Context(), job.ID, job.Mode); err == nil {
			resp.Tasks = &summary
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetJobResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CancelJobEndpoint handles POST /api/jobs/{id}/cancel.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/cancel", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel a job
//	@Description	Cancel a queued or failed job. Running jobs cannot be cancelled.
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	jobs.Record
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/cancel [post]
func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	jm := svcctx.JobsFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	if _, err := jm.Get(r.Context(), id); err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := jm.Cancel(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	job, err := jm.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-job <id>",
		Short: "Cancel a queued or failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.Record
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Job %s: %s\n", resp.ID, resp.Status)
			return nil
		},
	}
}

// RetryJobEndpoint handles POST /api/jobs/{id}/retry.
type RetryJobEndpoint struct{}

func (e *RetryJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/retry", e.handler
}

func (e *RetryJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Retry a failed job
//	@Description	Re-enqueue a failed job. Analyze jobs restart from the top; panels jobs requeue only their failed panels.
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		202	{object}	jobs.Record
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/retry [post]
func (e *RetryJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
		return
	}

	job, err := svcs.Jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job.Status != jobs.StatusFailed {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, only failed jobs can be retried", job.Status))
		return
	}

	switch job.Type {
	case jobs.TypeAnalyze:
		body, _ := json.Marshal(pipeline.AnalyzeMessage{JobID: job.ID, NovelID: job.SubjectID})
		if _, err := svcs.Queue.Enqueue(r.Context(), queue.TopicAnalyze, body, 0); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

	case jobs.TypePanels:
		if err := e.retryPanels(r, svcs, job); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

	default:
		writeError(w, http.StatusConflict, "unknown job type "+string(job.Type))
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// retryPanels resets every exhausted task to a fresh attempt and enqueues
// a message for it. The worker re-claims the job on the first message.
func (e *RetryJobEndpoint) retryPanels(r *http.Request, svcs *svcctx.Services, job *jobs.Record) error {
	list, err := svcs.Tasks.ListByJob(r.Context(), job.ID, job.Mode)
	if err != nil {
		return err
	}

	requeued := 0
	for _, task := range list {
		if task.Status != tasks.StatusFailed {
			continue
		}
		if err := svcs.Tasks.Reset(r.Context(), task.Key); err != nil {
			return err
		}
		body, _ := json.Marshal(pipeline.PanelMessage{
			JobID:        job.ID,
			PanelID:      task.PanelID,
			StoryboardID: task.StoryboardID,
			Mode:         task.Mode,
		})
		if _, err := svcs.Queue.Enqueue(r.Context(), queue.TopicPanels, body, 0); err != nil {
			return err
		}
		requeued++
	}
	if requeued == 0 {
		return errors.New("no failed panels to retry")
	}

	return svcs.Jobs.UpdateProgress(r.Context(), job.ID, func(p *jobs.Progress) {
		p.PanelsFailed -= requeued
		if p.PanelsFailed < 0 {
			p.PanelsFailed = 0
		}
		p.RecalcPanelPercentage()
	})
}

func (e *RetryJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-job <id>",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp jobs.Record
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/retry", nil, &resp); err != nil {
				return err
			}
			fmt.Printf("Job %s requeued\n", resp.ID)
			return nil
		},
	}
}
