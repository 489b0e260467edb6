package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/furniture-recommender/internal/database"
	"github.com/maltedev/furniture-recommender/internal/gallery"
	"github.com/maltedev/furniture-recommender/internal/models"
	"github.com/maltedev/furniture-recommender/internal/similarity"
)

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

// Gallery is the part of gallery.Service the handlers use.
type Gallery interface {
	MatrixLoaded() bool
	Recommend(name string, k int) similarity.Result
	ListImages(ctx context.Context) ([]*models.GalleryImage, error)
	GetImage(ctx context.Context, name string) (*gallery.ImageDetail, error)
}

// Pinger checks the gallery database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OutboxStats reports the relay backlog. It is optional.
type OutboxStats interface {
	Backlog(ctx context.Context) (database.Backlog, error)
}

type Handlers struct {
	gallery Gallery
	db      Pinger
	outbox  OutboxStats
	logger  *slog.Logger
}

// NewHandlers builds the handlers. db and outbox may be nil; health then
// skips those checks.
func NewHandlers(g Gallery, db Pinger, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		gallery: g,
		db:      db,
		outbox:  outbox,
		logger:  logger.With("component", "api"),
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	MatrixLoaded bool              `json:"matrix_loaded"`
	Database     string            `json:"database,omitempty"`
	Outbox       *database.Backlog `json:"outbox,omitempty"`
}

// Health reports whether the similarity matrix is loaded, whether the
// database answers and how far the outbox relay is behind.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       "ok",
		MatrixLoaded: h.gallery.MatrixLoaded(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		backlog, err := h.outbox.Backlog(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox backlog", "error", err)
		} else {
			resp.Outbox = &backlog

			if backlog.Pending > pendingWarnThreshold {
				resp.Status = "warning"
				resp.Message = "High number of pending outbox events"
			}
			if backlog.DeadLetter > deadLetterFailThreshold {
				resp.Status = "error"
				resp.Message = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	if h.db != nil {
		resp.Database = "ok"
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("database ping failed", "error", err)
			resp.Database = "unreachable"
			resp.Status = "error"
			resp.Message = "Database unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, resp)
}

// ListImages returns every imported gallery image
func (h *Handlers) ListImages(w http.ResponseWriter, r *http.Request) {
	images, err := h.gallery.ListImages(r.Context())
	if err != nil {
		h.logger.Error("failed to list images", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list images")
		return
	}
	if images == nil {
		images = []*models.GalleryImage{}
	}

	h.respondJSON(w, http.StatusOK, images)
}

// GetImage returns one image with its stored recommendations
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "image name is required")
		return
	}

	detail, err := h.gallery.GetImage(r.Context(), name)
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get image", "error", err, "image", name)
		h.respondError(w, http.StatusInternalServerError, "failed to get image")
		return
	}

	h.respondJSON(w, http.StatusOK, detail)
}

// Recommend runs a live lookup against the loaded matrix. An unknown name or a
// missing matrix is reported through the result status, not the HTTP status.
func (h *Handlers) Recommend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "image name is required")
		return
	}

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "k must be a non-negative integer")
			return
		}
		k = n
	}

	h.respondJSON(w, http.StatusOK, h.gallery.Recommend(name, k))
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
