package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/easel/internal/api"
	"github.com/jackzampolin/easel/internal/bible"
	"github.com/jackzampolin/easel/internal/svcctx"
)

// GetBibleEndpoint handles GET /api/bibles/{subject}.
type GetBibleEndpoint struct{}

func (e *GetBibleEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/bibles/{subject}", e.handler
}

func (e *GetBibleEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a bible
//	@Description	Get the latest bible for a subject, or a pinned version via ?version=N. Subjects that were never written return an empty version 0 bible.
//	@Tags			bibles
//	@Produce		json
//	@Param			subject	path		string	true	"Subject (novel) ID"
//	@Param			version	query		int		false	"Specific version"
//	@Success		200		{object}	bible.Bible
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/bibles/{subject} [get]
func (e *GetBibleEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	if subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	bs := svcctx.BiblesFrom(r.Context())
	if bs == nil {
		writeError(w, http.StatusServiceUnavailable, "bible store not initialized")
		return
	}

	var (
		b   *bible.Bible
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
		b, err = bs.GetVersion(r.Context(), subject, version)
	} else {
		b, err = bs.GetLatest(r.Context(), subject)
	}
	if err != nil {
		if errors.Is(err, bible.ErrBibleNotFound) {
			writeError(w, http.StatusNotFound, "bible version not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (e *GetBibleEndpoint) Command(getServerURL func() string) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "bible <subject>",
		Short: "Get the bible for a novel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/bibles/" + args[0]
			if version > 0 {
				path += "?version=" + strconv.Itoa(version)
			}
			client := api.NewClient(getServerURL())
			var resp bible.Bible
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Specific bible version (default latest)")
	return cmd
}

// BibleHistoryResponse lists version metadata for a subject.
type BibleHistoryResponse struct {
	SubjectID string              `json:"subjectId"`
	Versions  []bible.VersionInfo `json:"versions"`
}

// BibleHistoryEndpoint handles GET /api/bibles/{subject}/history.
type BibleHistoryEndpoint struct{}

func (e *BibleHistoryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/bibles/{subject}/history", e.handler
}

func (e *BibleHistoryEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get bible version history
//	@Description	List version metadata for a subject, newest first
//	@Tags			bibles
//	@Produce		json
//	@Param			subject	path		string	true	"Subject (novel) ID"
//	@Param			limit	query		int		false	"Maximum number of versions"
//	@Success		200		{object}	BibleHistoryResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/bibles/{subject}/history [get]
func (e *BibleHistoryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	if subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	bs := svcctx.BiblesFrom(r.Context())
	if bs == nil {
		writeError(w, http.StatusServiceUnavailable, "bible store not initialized")
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

	versions, err := bs.ListHistory(r.Context(), subject, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BibleHistoryResponse{SubjectID: subject, Versions: versions})
}

func (e *BibleHistoryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "bible-history <subject>",
		Short: "List bible versions for a novel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp BibleHistoryResponse
			if err := client.Get(cmd.Context(), "/api/bibles/"+args[0]+"/history", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// UpdateCharacterRequest carries manual field overrides for a character.
// Omitted fields are left alone; present fields replace outright.
type UpdateCharacterRequest struct {
	Role        *string           `json:"role,omitempty"`
	Appearance  *bible.Appearance `json:"appearance,omitempty"`
	Personality *[]string         `json:"personality,omitempty"`
	UpdatedBy   string            `json:"updatedBy,omitempty"`
}

// UpdateCharacterEndpoint handles PATCH /api/bibles/{subject}/characters/{id}.
type UpdateCharacterEndpoint struct{}

func (e *UpdateCharacterEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/bibles/{subject}/characters/{id}", e.handler
}

func (e *UpdateCharacterEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update a character
//	@Description	Manually override character fields. Writes a new bible version.
//	@Tags			bibles
//	@Accept			json
//	@Produce		json
//	@Param			subject	path		string					true	"Subject (novel) ID"
//	@Param			id		path		string					true	"Character ID"
//	@Param			request	body		UpdateCharacterRequest	true	"Fields to replace"
//	@Success		200		{object}	bible.Bible
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/bibles/{subject}/characters/{id} [patch]
func (e *UpdateCharacterEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	id := r.PathValue("id")

	var req UpdateCharacterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UpdatedBy == "" {
		req.UpdatedBy = "api"
	}

	bs := svcctx.BiblesFrom(r.Context())
	if bs == nil {
		writeError(w, http.StatusServiceUnavailable, "bible store not initialized")
		return
	}

	patch := bible.CharacterPatch{
		Role:        req.Role,
		Appearance:  req.Appearance,
		Personality: req.Personality,
	}
	b, err := bs.UpdateCharacter(r.Context(), subject, id, patch, req.UpdatedBy)
	if err != nil {
		writeBibleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (e *UpdateCharacterEndpoint) Command(getServerURL func() string) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "update-character <subject> <character-id>",
		Short: "Override character fields in the bible",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := UpdateCharacterRequest{UpdatedBy: "cli"}
			if cmd.Flags().Changed("role") {
				req.Role = &role
			}

			client := api.NewClient(getServerURL())
			var resp bible.Bible
			path := "/api/bibles/" + args[0] + "/characters/" + args[1]
			if err := client.Patch(cmd.Context(), path, req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "New role for the character")
	return cmd
}

// UpdateSceneRequest carries manual field overrides for a scene.
type UpdateSceneRequest struct {
	Name                  *string                   `json:"name,omitempty"`
	Type                  *string                   `json:"type,omitempty"`
	Description           *string                   `json:"description,omitempty"`
	VisualCharacteristics *bible.VisualTraits       `json:"visualCharacteristics,omitempty"`
	SpatialLayout         *bible.SpatialLayout      `json:"spatialLayout,omitempty"`
	TimeVariations        *[]bible.TimeVariation    `json:"timeVariations,omitempty"`
	WeatherVariations     *[]bible.WeatherVariation `json:"weatherVariations,omitempty"`
	UpdatedBy             string                    `json:"updatedBy,omitempty"`
}

// UpdateSceneEndpoint handles PATCH /api/bibles/{subject}/scenes/{id}.
type UpdateSceneEndpoint struct{}

func (e *UpdateSceneEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/api/bibles/{subject}/scenes/{id}", e.handler
}

func (e *UpdateSceneEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Update a scene
//	@Description	Manually override scene fields. Writes a new bible version.
//	@Tags			bibles
//	@Accept			json
//	@Produce		json
//	@Param			subject	path		string				true	"Subject (novel) ID"
//	@Param			id		path		string				true	"Scene ID"
//	@Param			request	body		UpdateSceneRequest	true	"Fields to replace"
//	@Success		200		{object}	bible.Bible
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/bibles/{subject}/scenes/{id} [patch]
func (e *UpdateSceneEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	id := r.PathValue("id")

	var req UpdateSceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UpdatedBy == "" {
		req.UpdatedBy = "api"
	}

	bs := svcctx.BiblesFrom(r.Context())
	if bs == nil {
		writeError(w, http.StatusServiceUnavailable, "bible store not initialized")
		return
	}

	patch := bible.ScenePatch{
		Name:                  req.Name,
		Type:                  req.Type,
		Description:           req.Description,
		VisualCharacteristics: req.VisualCharacteristics,
		SpatialLayout:         req.SpatialLayout,
		TimeVariations:        req.TimeVariations,
		WeatherVariations:     req.WeatherVariations,
	}
	b, err := bs.UpdateScene(r.Context(), subject, id, patch, req.UpdatedBy)
	if err != nil {
		writeBibleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (e *UpdateSceneEndpoint) Command(getServerURL func() string) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "update-scene <subject> <scene-id>",
		Short: "Override scene fields in the bible",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := UpdateSceneRequest{UpdatedBy: "cli"}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}

			client := api.NewClient(getServerURL())
			var resp bible.Bible
			path := "/api/bibles/" + args[0] + "/scenes/" + args[1]
			if err := client.Patch(cmd.Context(), path, req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "New scene description")
	return cmd
}

// AddImageRequest attaches a reference image to a character or scene.
// Exactly one of storageLocation or externalUrl must be set.
type AddImageRequest struct {
	StorageLocation string `json:"storageLocation,omitempty"`
	ExternalURL     string `json:"externalUrl,omitempty"`
	Label           string `json:"label,omitempty"`
	UploadedBy      string `json:"uploadedBy,omitempty"`
}

func (req AddImageRequest) image() bible.ReferenceImage {
	img := bible.ReferenceImage{
		StorageLocation: req.StorageLocation,
		ExternalURL:     req.ExternalURL,
		Source:          "user",
		Label:           req.Label,
		UploadedBy:      req.UploadedBy,
	}
	if img.UploadedBy == "" {
		img.UploadedBy = "api"
	}
	return img
}

// AddCharacterImageEndpoint handles POST /api/bibles/{subject}/characters/{id}/images.
type AddCharacterImageEndpoint struct{}

func (e *AddCharacterImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/bibles/{subject}/characters/{id}/images", e.handler
}

func (e *AddCharacterImageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Add a character reference image
//	@Description	Attach a reference image to a character. Duplicate locations are ignored.
//	@Tags			bibles
//	@Accept			json
//	@Produce		json
//	@Param			subject	path		string			true	"Subject (novel) ID"
//	@Param			id		path		string			true	"Character ID"
//	@Param			request	body		AddImageRequest	true	"Image to attach"
//	@Success		200		{object}	bible.Bible
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/bibles/{subject}/characters/{id}/images [post]
func (e *AddCharacterImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	id := r.PathValue("id")

	var req AddImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bs := svcctx.BiblesFrom(r.Context())
	if bs == nil {
		writeError(w, http.StatusServiceUnavailable, "bible store not initialized")
		return
	}

	b, err := bs.AppendCharacterImage(r.Context(), subject, id, req.image())
	if err != nil {
		writeBibleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (e *AddCharacterImageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "add-character-image <subject> <character-id> <url>",
		Short: "Attach a reference image to a character",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := AddImageRequest{ExternalURL: args[2], Label: label, UploadedBy: "cli"}
			client := api.NewClient(getServerURL())
			var resp bible.Bible
			path := "/api/bibles/" + args[0] + "/characters/" + args[1] + "/images"
			if err := client.Post(cmd.Context(), path, req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Image label")
	return cmd
}

// AddSceneImageEndpoint handles POST /api/bibles/{subject}/scenes/{id}/images.
type AddSceneImageEndpoint struct{}

func (e *AddSceneImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/bibles/{subject}/scenes/{id}/images", e.handler
}

func (e *AddSceneImageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Add a scene reference image
//	@Description	Attach a reference image to a scene. Duplicate locations are ignored.
//	@Tags			bibles
//	@Accept			json
//	@Produce		json
//	@Param			subject	path		string			true	"Subject (novel) ID"
//	@Param			id		path		string			true	"Scene ID"
//	@Param			request	body		AddImageRequest	true	"Image to attach"
//	@Success		200		{object}	bible.Bible
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/bibles/{subject}/scenes/{id}/images [post]
func (e *AddSceneImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	id := r.PathValue("id")

	var req AddImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bs := svcctx.BiblesFrom(r.Context())
	if bs == nil {
		writeError(w, http.StatusServiceUnavailable, "bible store not initialized")
		return
	}

	b, err := bs.AppendSceneImage(r.Context(), subject, id, req.image())
	if err != nil {
		writeBibleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (e *AddSceneImageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "add-scene-image <subject> <scene-id> <url>",
		Short: "Attach a reference image to a scene",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := AddImageRequest{ExternalURL: args[2], Label: label, UploadedBy: "cli"}
			client := api.NewClient(getServerURL())
			var resp bible.Bible
			path := "/api/bibles/" + args[0] + "/scenes/" + args[1] + "/images"
			if err := client.Post(cmd.Context(), path, req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Image label")
	return cmd
}

// writeBibleError maps bible store errors onto HTTP statuses.
func writeBibleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bible.ErrBibleNotFound):
		writeError(w, http.StatusNotFound, "bible not found")
	case errors.Is(err, bible.ErrCharacterNotFound):
		writeError(w, http.StatusNotFound, "character not found")
	case errors.Is(err, bible.ErrSceneNotFound):
		writeError(w, http.StatusNotFound, "scene not found")
	case errors.Is(err, bible.ErrInvalidImage):
		writeError(w, http.StatusBadRequest, "image needs exactly one of storageLocation or externalUrl")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
