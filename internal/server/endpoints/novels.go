package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/api"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/novels"
	"github.com/jackzampolin/easel/internal/pipeline"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/svcctx"
)

// UploadNovelRequest is the request body for uploading a novel.
type UploadNovelRequest struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
	UserID string `json:"userId,omitempty"`
}

// UploadNovelResponse returns the stored novel and the analyze job that
// was queued for it.
type UploadNovelResponse struct {
	Novel *novels.Novel `json:"novel"`
	Job   *jobs.Record  `json:"job"`
}

// UploadNovelEndpoint handles POST /api/novels.
type UploadNovelEndpoint struct{}

func (e *UploadNovelEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/novels", e.handler
}

func (e *UploadNovelEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Upload a novel
//	@Description	Store the novel text and queue an analyze job that builds its storyboard
//	@Tags			novels
//	@Accept			json
//	@Produce		json
//	@Param			request	body		UploadNovelRequest	true	"Novel to upload"
//	@Success		202		{object}	UploadNovelResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/novels [post]
func (e *UploadNovelEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req UploadNovelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
		return
	}

	novel, err := svcs.Novels.Create(r.Context(), req.Title, req.Author, req.Text, req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := svcs.Jobs.Create(r.Context(), jobs.CreateParams{
		Type:      jobs.TypeAnalyze,
		SubjectID: novel.ID,
		UserID:    req.UserID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body, _ := json.Marshal(pipeline.AnalyzeMessage{JobID: job.ID, NovelID: novel.ID})
	if _, err := svcs.Queue.Enqueue(r.Context(), queue.TopicAnalyze, body, 0); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, UploadNovelResponse{Novel: novel, Job: job})
}

func (e *UploadNovelEndpoint) Command(getServerURL func() string) *cobra.Command {
	var title, author string
	cmd := &cobra.Command{
		Use:   "upload <text-file>",
		Short: "Upload a novel and queue storyboard analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			client := api.NewClient(getServerURL())
			var resp UploadNovelResponse
			req := UploadNovelRequest{Title: title, Author: author, Text: string(text)}
			if err := client.Post(cmd.Context(), "/api/novels", req, &resp); err != nil {
				return err
			}
			fmt.Printf("Novel: %s (%s)\n", resp.Novel.Title, resp.Novel.ID)
			fmt.Printf("Job:   %s (%s)\n", resp.Job.ID, resp.Job.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Novel title (defaults to the file name)")
	cmd.Flags().StringVar(&author, "author", "", "Novel author")
	return cmd
}

// ListNovelsResponse contains the stored novels.
type ListNovelsResponse struct {
	Novels []*novels.Novel `json:"novels"`
	Count  int             `json:"count"`
}

// ListNovelsEndpoint handles GET /api/novels.
type ListNovelsEndpoint struct{}

func (e *ListNovelsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/novels", e.handler
}

func (e *ListNovelsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List novels
//	@Description	List uploaded novels, newest first
//	@Tags			novels
//	@Produce		json
//	@Param			limit	query		int	false	"Maximum number of novels"
//	@Success		200		{object}	ListNovelsResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/novels [get]
func (e *ListNovelsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ns := svcctx.NovelsFrom(r.Context())
	if ns == nil {
		writeError(w, http.StatusServiceUnavailable, "novel store not initialized")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := ns.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListNovelsResponse{Novels: list, Count: len(list)})
}

func (e *ListNovelsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "novels",
		Short: "List uploaded novels",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListNovelsResponse
			if err := client.Get(cmd.Context(), "/api/novels", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetNovelEndpoint handles GET /api/novels/{id}.
type GetNovelEndpoint struct{}

func (e *GetNovelEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/novels/{id}", e.handler
}

func (e *GetNovelEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get novel by ID
//	@Description	Get one novel record (metadata only, not the full text)
//	@Tags			novels
//	@Produce		json
//	@Param			id	path		string	true	"Novel ID"
//	@Success		200	{object}	novels.Novel
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/novels/{id} [get]
func (e *GetNovelEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "novel id is required")
		return
	}

	ns := svcctx.NovelsFrom(r.Context())
	if ns == nil {
		writeError(w, http.StatusServiceUnavailable, "novel store not initialized")
		return
	}

	novel, err := ns.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, novels.ErrNovelNotFound) {
			writeError(w, http.StatusNotFound, "novel not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, novel)
}

func (e *GetNovelEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "novel <id>",
		Short: "Get a novel by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp novels.Novel
			if err := client.Get(cmd.Context(), "/api/novels/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
