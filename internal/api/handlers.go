package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bobarin/listingreels/internal/clipgen"
	"github.com/bobarin/listingreels/internal/logger"
	"github.com/bobarin/listingreels/internal/models"
	"github.com/bobarin/listingreels/internal/orchestrator"
	"github.com/bobarin/listingreels/internal/providers"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var log = logger.For("api")

type ProjectReader interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.VideoProject, error)
	GetClips(ctx context.Context, projectID uuid.UUID) ([]models.VideoClip, error)
	GetClip(ctx context.Context, id uuid.UUID) (*models.VideoClip, error)
}

type Orchestrator interface {
	StartGeneration(ctx context.Context, projectID uuid.UUID) (*orchestrator.Summary, error)
	RetriggerCompilation(ctx context.Context, projectID uuid.UUID) (*orchestrator.Summary, error)
}

type ClipGenerator interface {
	Generate(ctx context.Context, clipID uuid.UUID, opts clipgen.Options) (string, error)
}

// JobQueue backs ?async=true. A nil queue makes every call synchronous.
type JobQueue interface {
	EnqueueStartGeneration(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
	EnqueueGenerateClip(ctx context.Context, projectID, clipID uuid.UUID, tailImageURL, roomLabel, provider string) (uuid.UUID, error)
	GetStatus(ctx context.Context, jobID uuid.UUID) (*models.JobState, error)
}

type Handler struct {
	store     ProjectReader
	orch      Orchestrator
	generator ClipGenerator
	queue     JobQueue
	validate  *validator.Validate
}

func NewHandler(store ProjectReader, orch Orchestrator, generator ClipGenerator, q JobQueue) *Handler {
	return &Handler{
		store:     store,
		orch:      orch,
		generator: generator,
		queue:     q,
		validate:  validator.New(),
	}
}

// StartGeneration handles POST /v1/generation/start
func (h *Handler) StartGeneration(w http.ResponseWriter, r *http.Request) {
	var req models.StartGenerationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if wantsAsync(r) && h.queue != nil {
		if _, err := h.store.GetProject(r.Context(), req.ProjectID); err != nil {
			respondErr(w, err)
			return
		}
		jobID, err := h.queue.EnqueueStartGeneration(r.Context(), req.ProjectID)
		if err != nil {
			log.WithError(err).Error("failed to enqueue start_generation")
			respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
			return
		}
		respondJSON(w, http.StatusAccepted, models.AcceptedResponse{JobID: jobID, Status: string(models.JobStatusQueued)})
		return
	}

	// A disconnecting client must not abandon clips already at a provider
	summary, err := h.orch.StartGeneration(context.WithoutCancel(r.Context()), req.ProjectID)
	if summary == nil {
		respondErr(w, err)
		return
	}

	resp := models.StartGenerationResponse{
		ProjectID:        summary.ProjectID,
		Status:           summary.Status,
		SuccessfulClips:  summary.SuccessfulClips,
		FailedClips:      summary.FailedClips,
		HandoffReference: summary.HandoffReference,
	}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, statusFor(err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GenerateClip handles POST /v1/generation/clip
func (h *Handler) GenerateClip(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateClipRequest
	if !h.decode(w, r, &req) {
		return
	}
	opts := clipgen.Options{
		TailImageURL: deref(req.TailImageURL),
		RoomLabel:    deref(req.TargetRoomLabel),
		Provider:     deref(req.Provider),
	}

	if wantsAsync(r) && h.queue != nil {
		clip, err := h.store.GetClip(r.Context(), req.ClipID)
		if err != nil {
			respondErr(w, err)
			return
		}
		jobID, err := h.queue.EnqueueGenerateClip(r.Context(), clip.VideoProjectID, clip.ID, opts.TailImageURL, opts.RoomLabel, opts.Provider)
		if err != nil {
			log.WithError(err).Error("failed to enqueue generate_clip")
			respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
			return
		}
		respondJSON(w, http.StatusAccepted, models.AcceptedResponse{JobID: jobID, Status: string(models.JobStatusQueued)})
		return
	}

	url, err := h.generator.Generate(context.WithoutCancel(r.Context()), req.ClipID, opts)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, models.GenerateClipResponse{ClipID: req.ClipID, ClipURL: url})
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	project, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		respondErr(w, err)
		return
	}
	clips, err := h.store.GetClips(r.Context(), projectID)
	if err != nil {
		respondErr(w, err)
		return
	}
	if clips == nil {
		clips = []models.VideoClip{}
	}

	respondJSON(w, http.StatusOK, models.ProjectResponse{VideoProject: *project, Clips: clips})
}

// RetriggerCompilation handles POST /v1/projects/{id}/compile
func (h *Handler) RetriggerCompilation(w http.ResponseWriter, r *http.Request) {
	projectID, ok := parseID(w, r, "id")
	if !ok {
		return
	}

	summary, err := h.orch.RetriggerCompilation(r.Context(), projectID)
	if summary == nil {
		respondErr(w, err)
		return
	}

	resp := models.StartGenerationResponse{
		ProjectID:        summary.ProjectID,
		Status:           summary.Status,
		SuccessfulClips:  summary.SuccessfulClips,
		FailedClips:      summary.FailedClips,
		HandoffReference: summary.HandoffReference,
	}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, statusFor(err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if h.queue == nil {
		respondError(w, http.StatusNotFound, "Async jobs are not enabled")
		return
	}

	state, err := h.queue.GetStatus(r.Context(), jobID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode parses and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		fetchErr    *clipgen.FetchError
		storageErr  *clipgen.StorageError
		providerErr *providers.Error
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoClips), errors.Is(err, orchestrator.ErrAllClipsFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrHandoff):
		return http.StatusBadGateway
	case errors.As(err, &fetchErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &providerErr), errors.As(err, &storageErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		msg = "Internal server error"
	}
	respondError(w, status, msg)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func wantsAsync(r *http.Request) bool {
	v := r.URL.Query().Get("async")
	return v == "1" || v == "true"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
