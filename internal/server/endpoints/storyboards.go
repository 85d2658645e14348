package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/api"
	"github.com/jackzampolin/easel/internal/jobs"
	"github.com/jackzampolin/easel/internal/panels"
	"github.com/jackzampolin/easel/internal/pipeline"
	"github.com/jackzampolin/easel/internal/queue"
	"github.com/jackzampolin/easel/internal/svcctx"
)

// GetStoryboardResponse is a storyboard with its panels.
type GetStoryboardResponse struct {
	Storyboard *panels.Storyboard `json:"storyboard"`
	Panels     []*panels.Panel    `json:"panels"`
}

// GetStoryboardEndpoint handles GET /api/storyboards/{id}.
type GetStoryboardEndpoint struct{}

func (e *GetStoryboardEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/storyboards/{id}", e.handler
}

func (e *GetStoryboardEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get storyboard by ID
//	@Description	Get a storyboard and its panels in order
//	@Tags			storyboards
//	@Produce		json
//	@Param			id	path		string	true	"Storyboard ID"
//	@Success		200	{object}	GetStoryboardResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/storyboards/{id} [get]
func (e *GetStoryboardEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "storyboard id is required")
		return
	}

	ps := svcctx.PanelsFrom(r.Context())
	if ps == nil {
		writeError(w, http.StatusServiceUnavailable, "panel store not initialized")
		return
	}

	sb, err := ps.GetStoryboard(r.Context(), id)
	if err != nil {
		if errors.Is(err, panels.ErrStoryboardNotFound) {
			writeError(w, http.StatusNotFound, "storyboard not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	list, err := ps.ListPanels(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GetStoryboardResponse{Storyboard: sb, Panels: list})
}

func (e *GetStoryboardEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "storyboard <id>",
		Short: "Get a storyboard with its panels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetStoryboardResponse
			if err := client.Get(cmd.Context(), "/api/storyboards/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GeneratePanelsRequest asks for panel images in one mode.
type GeneratePanelsRequest struct {
	Mode   string `json:"mode"`
	UserID string `json:"userId,omitempty"`
}

// GeneratePanelsResponse returns the panels job that was queued.
type GeneratePanelsResponse struct {
	Job    *jobs.Record `json:"job"`
	Panels int          `json:"panels"`
}

// GeneratePanelsEndpoint handles POST /api/storyboards/{id}/panels.
type GeneratePanelsEndpoint struct{}

func (e *GeneratePanelsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/storyboards/{id}/panels", e.handler
}

func (e *GeneratePanelsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Generate panel images
//	@Description	Queue a panels job that renders every panel of the storyboard in the requested mode. One queue message per panel; panels already rendered in this mode are re-rendered.
//	@Tags			storyboards
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Storyboard ID"
//	@Param			request	body		GeneratePanelsRequest	true	"Generation mode"
//	@Success		202		{object}	GeneratePanelsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/storyboards/{id}/panels [post]
func (e *GeneratePanelsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "storyboard id is required")
		return
	}

	var req GeneratePanelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = panels.ModePreview
	}
	if req.Mode != panels.ModePreview && req.Mode != panels.ModeHD {
		writeError(w, http.StatusBadRequest, "mode must be preview or hd")
		return
	}

	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
		return
	}

	sb, err := svcs.Panels.GetStoryboard(r.Context(), id)
	if err != nil {
		if errors.Is(err, panels.ErrStoryboardNotFound) {
			writeError(w, http.StatusNotFound, "storyboard not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	list, err := svcs.Panels.ListPanels(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(list) == 0 {
		writeError(w, http.StatusConflict, "storyboard has no panels")
		return
	}

	job, err := svcs.Jobs.Create(r.Context(), jobs.CreateParams{
		Type:         jobs.TypePanels,
		SubjectID:    sb.NovelID,
		StoryboardID: sb.ID,
		Mode:         req.Mode,
		UserID:       req.UserID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	panelIDs := make([]string, len(list))
	for i, p := range list {
		panelIDs[i] = p.ID
	}
	if err := svcs.Tasks.CreateBatch(r.Context(), job.ID, sb.ID, req.Mode, panelIDs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := svcs.Jobs.UpdateProgress(r.Context(), job.ID, func(p *jobs.Progress) {
		p.PanelsTotal = len(panelIDs)
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, panelID := range panelIDs {
		body, _ := json.Marshal(pipeline.PanelMessage{
			JobID:        job.ID,
			PanelID:      panelID,
			StoryboardID: sb.ID,
			Mode:         req.Mode,
		})
		if _, err := svcs.Queue.Enqueue(r.Context(), queue.TopicPanels, body, 0); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusAccepted, GeneratePanelsResponse{Job: job, Panels: len(panelIDs)})
}

func (e *GeneratePanelsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "generate-panels <storyboard-id>",
		Short: "Queue image generation for every panel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GeneratePanelsResponse
			req := GeneratePanelsRequest{Mode: mode}
			if err := client.Post(cmd.Context(), "/api/storyboards/"+args[0]+"/panels", req, &resp); err != nil {
				return err
			}
			fmt.Printf("Job %s queued for %d panels (%s)\n", resp.Job.ID, resp.Panels, mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", panels.ModePreview, "Generation mode (preview or hd)")
	return cmd
}

// EditPanelRequest asks for a single panel to be regenerated with a
// natural-language change applied.
type EditPanelRequest struct {
	Instruction string `json:"instruction"`
	Mode        string `json:"mode"`
	UserID      string `json:"userId,omitempty"`
}

// EditPanelResponse returns the edit job that was queued.
type EditPanelResponse struct {
	Job *jobs.Record `json:"job"`
}

// EditPanelEndpoint handles POST /api/panels/{id}/edit.
type EditPanelEndpoint struct{}

func (e *EditPanelEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/panels/{id}/edit", e.handler
}

func (e *EditPanelEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Edit a panel
//	@Description	Queue an edit job that re-renders one panel with the given instruction folded into its prompt. The new image replaces the panel's image in the requested mode.
//	@Tags			storyboards
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Panel ID"
//	@Param			request	body		EditPanelRequest	true	"Change instruction and mode"
//	@Success		202		{object}	EditPanelResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/panels/{id}/edit [post]
func (e *EditPanelEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "panel id is required")
		return
	}

	var req EditPanelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Instruction == "" {
		writeError(w, http.StatusBadRequest, "instruction is required")
		return
	}
	if req.Mode == "" {
		req.Mode = panels.ModePreview
	}
	if req.Mode != panels.ModePreview && req.Mode != panels.ModeHD {
		writeError(w, http.StatusBadRequest, "mode must be preview or hd")
		return
	}

	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
		return
	}

	panel, err := svcs.Panels.GetPanel(r.Context(), id)
	if err != nil {
		if errors.Is(err, panels.ErrPanelNotFound) {
			writeError(w, http.StatusNotFound, "panel not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sb, err := svcs.Panels.GetStoryboard(r.Context(), panel.StoryboardID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := svcs.Jobs.Create(r.Context(), jobs.CreateParams{
		Type:         jobs.TypeEdit,
		SubjectID:    sb.NovelID,
		StoryboardID: sb.ID,
		Mode:         req.Mode,
		UserID:       req.UserID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := svcs.Tasks.CreateBatch(r.Context(), job.ID, sb.ID, req.Mode, []string{panel.ID}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := svcs.Jobs.UpdateProgress(r.Context(), job.ID, func(p *jobs.Progress) {
		p.PanelsTotal = 1
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body, _ := json.Marshal(pipeline.PanelMessage{
		JobID:        job.ID,
		PanelID:      panel.ID,
		StoryboardID: sb.ID,
		Mode:         req.Mode,
		Instruction:  req.Instruction,
	})
	if _, err := svcs.Queue.Enqueue(r.Context(), queue.TopicPanels, body, 0); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, EditPanelResponse{Job: job})
}

func (e *EditPanelEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "edit-panel <panel-id> <instruction>",
		Short: "Re-render one panel with a change instruction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp EditPanelResponse
			req := EditPanelRequest{Instruction: args[1], Mode: mode}
			if err := client.Post(cmd.Context(), "/api/panels/"+args[0]+"/edit", req, &resp); err != nil {
				return err
			}
			fmt.Printf("Job %s queued for panel %s (%s)\n", resp.Job.ID, args[0], mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", panels.ModePreview, "Generation mode (preview or hd)")
	return cmd
}

// PanelImageEndpoint handles GET /api/panels/{id}/image.
type PanelImageEndpoint struct{}

func (e *PanelImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/panels/{id}/image", e.handler
}

func (e *PanelImageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get panel image
//	@Description	Serve the rendered image for a panel in the requested mode
//	@Tags			storyboards
//	@Produce		image/png
//	@Param			id		path	string	true	"Panel ID"
//	@Param			mode	query	string	false	"Image mode (preview or hd, default preview)"
//	@Success		200
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/panels/{id}/image [get]
func (e *PanelImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "panel id is required")
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = panels.ModePreview
	}

	svcs := svcctx.ServicesFrom(r.Context())
	if svcs == nil {
		writeError(w, http.StatusServiceUnavailable, "services not initialized")
		return
	}

	panel, err := svcs.Panels.GetPanel(r.Context(), id)
	if err != nil {
		if errors.Is(err, panels.ErrPanelNotFound) {
			writeError(w, http.StatusNotFound, "panel not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	locator := panel.Image(mode)
	if locator == "" {
		writeError(w, http.StatusNotFound, "panel has no "+mode+" image")
		return
	}

	data, err := svcs.Blobs.Get(locator)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (e *PanelImageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode, out string
	cmd := &cobra.Command{
		Use:   "panel-image <panel-id>",
		Short: "Download a panel image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := getServerURL() + "/api/panels/" + args[0] + "/image?mode=" + mode
			resp, err := http.Get(url)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				var apiErr ErrorResponse
				if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
					return errors.New(apiErr.Error)
				}
				return fmt.Errorf("server returned %s", resp.Status)
			}

			if out == "" {
				out = args[0] + "-" + mode + ".png"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := f.ReadFrom(resp.Body); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", panels.ModePreview, "Image mode (preview or hd)")
	cmd.Flags().StringVar(&out, "output", "", "Output file (default <panel>-<mode>.png)")
	return cmd
}
