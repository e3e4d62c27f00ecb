package usage

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/aiox-platform/personachat/internal/api"
	"github.com/aiox-platform/personachat/internal/auth"
)

// StatusReader reports a user's current usage.
type StatusReader interface {
	Status(ctx context.Context, userID uuid.UUID) (*Status, error)
}

// Handler provides HTTP handlers for usage endpoints.
type Handler struct {
	status StatusReader
}

// NewHandler creates a new usage Handler.
func NewHandler(status StatusReader) *Handler {
	return &Handler{status: status}
}

// GetUsage returns the authenticated user's counters and daily limit.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.status.Status(r.Context(), userID)
	if err != nil {
		slog.Error("loading usage status", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, status)
}
