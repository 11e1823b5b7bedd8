package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrasewatch/phrasewatch/internal/intake"
	"github.com/phrasewatch/phrasewatch/internal/intake/publisher"
	"github.com/phrasewatch/phrasewatch/internal/intake/validator"
	apperrors "github.com/phrasewatch/phrasewatch/pkg/errors"
	"github.com/phrasewatch/phrasewatch/pkg/logger"
)

// Handler serves the intake HTTP API.
type Handler struct {
	publisher *publisher.Publisher
	limits    validator.Limits
	logger    *slog.Logger
}

// New creates an intake Handler with the given batch limits.
func New(pub *publisher.Publisher, limits validator.Limits) *Handler {
	return &Handler{
		publisher: pub,
		limits:    limits,
		logger:    slog.Default().With("component", "intake-handler"),
	}
}

// SubmitBatch accepts a completion batch, validates it, and hands it to the
// publisher.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req intake.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateBatchRequest(&req, h.limits); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.publisher.Submit(ctx, &req)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("batch submission failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "batch submission failed")
		return
	}

	log.Info("batch accepted",
		"batch_id", resp.BatchID,
		"producer_id", req.ProducerID,
		"model", req.Model,
		"completions", resp.Completions,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// GetBatch serves one batch row by id.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "batch id is required")
		return
	}

	rec, err := h.publisher.GetBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrBatchNotFound) {
			h.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		h.logger.Error("failed to fetch batch", "batch_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to fetch batch")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// Health reports the intake service is serving.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
