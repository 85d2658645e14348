package endpoints

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/api"
	"github.com/jackzampolin/easel/internal/metrics"
	"github.com/jackzampolin/easel/internal/svcctx"
)

// ListMetricsResponse contains recorded generation calls.
type ListMetricsResponse struct {
	Calls []metrics.Call `json:"calls"`
	Count int            `json:"count"`
}

// ListMetricsEndpoint handles GET /api/metrics.
type ListMetricsEndpoint struct{}

func (e *ListMetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics", e.handler
}

func (e *ListMetricsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List generation calls
//	@Description	List recorded provider calls, newest first, with optional filters
//	@Tags			metrics
//	@Produce		json
//	@Param			job			query		string	false	"Filter by job ID"
//	@Param			provider	query		string	false	"Filter by provider"
//	@Param			kind		query		string	false	"Filter by kind (storyboard, image)"
//	@Param			limit		query		int		false	"Maximum number of calls"
//	@Success		200			{object}	ListMetricsResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/api/metrics [get]
func (e *ListMetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec := svcctx.MetricsFrom(r.Context())
	if rec == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics recorder not initialized")
		return
	}

	q := r.URL.Query()
	filter := metrics.Filter{
		JobID:    q.Get("job"),
		Provider: q.Get("provider"),
		Kind:     q.Get("kind"),
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	calls, err := rec.List(r.Context(), filter, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListMetricsResponse{Calls: calls, Count: len(calls)})
}

func (e *ListMetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded generation calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/metrics"
			if jobID != "" {
				path += "?job=" + url.QueryEscape(jobID)
			}
			client := api.NewClient(getServerURL())
			var resp ListMetricsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Filter by job ID")
	return cmd
}

// MetricsSummaryResponse aggregates calls by provider and kind.
type MetricsSummaryResponse struct {
	Providers []metrics.ProviderSummary `json:"providers"`
}

// MetricsSummaryEndpoint handles GET /api/metrics/summary.
type MetricsSummaryEndpoint struct{}

func (e *MetricsSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics/summary", e.handler
}

func (e *MetricsSummaryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Summarize generation calls
//	@Description	Aggregate call counts, failures and total time by provider and kind
//	@Tags			metrics
//	@Produce		json
//	@Param			job	query		string	false	"Filter by job ID"
//	@Success		200	{object}	MetricsSummaryResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/metrics/summary [get]
func (e *MetricsSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec := svcctx.MetricsFrom(r.Context())
	if rec == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics recorder not initialized")
		return
	}

	summaries, err := rec.Summarize(r.Context(), metrics.Filter{JobID: r.URL.Query().Get("job")})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MetricsSummaryResponse{Providers: summaries})
}

func (e *MetricsSummaryEndpoint) Command(getServerURL func() string) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize generation calls by provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/metrics/summary"
			if jobID != "" {
				path += "?job=" + url.QueryEscape(jobID)
			}
			client := api.NewClient(getServerURL())
			var resp MetricsSummaryResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "Filter by job ID")
	return cmd
}
