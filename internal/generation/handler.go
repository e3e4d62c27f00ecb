package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/personachat/internal/api"
	"github.com/aiox-platform/personachat/internal/auth"
	"github.com/aiox-platform/personachat/internal/personas"
	"github.com/aiox-platform/personachat/internal/sentiment"
	"github.com/aiox-platform/personachat/internal/usage"
)

// maxRequestBody bounds generation request bodies, history included.
const maxRequestBody = 1 << 20

// Generations is the part of Service the HTTP layer needs.
type Generations interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
	GenerateStream(ctx context.Context, req *Request) (<-chan Event, error)
}

type Handler struct {
	svc      Generations
	validate *validator.Validate
}

func NewHandler(svc Generations) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type quotaBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Window  string `json:"window,omitempty"`
	Limit   int    `json:"limit"`
	Used    int    `json:"used"`
}

type sentimentRequest struct {
	Text string `json:"text" validate:"required,max=8000"`
}

// Generate returns a complete reply.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Generate(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	api.JSON(w, http.StatusOK, res)
}

// Stream writes the reply as server-sent events, one JSON event per data line.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	events, err := h.svc.GenerateStream(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	// Streams outlive the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("clearing write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Error("encoding stream event", "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// The client is gone; the request context cancels the producer.
			slog.Debug("writing stream event", "error", err)
			continue
		}
		flusher.Flush()
	}
}

// Sentiment classifies arbitrary text with the reply heuristic.
func (h *Handler) Sentiment(w http.ResponseWriter, r *http.Request) {
	var req sentimentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	api.JSON(w, http.StatusOK, sentiment.Analyze(req.Text))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*Request, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return nil, false
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return nil, false
	}

	req.UserID = userID
	return &req, true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if qe, ok := IsQuotaExceeded(err); ok {
		if qe.Window == usage.WindowMinute {
			w.Header().Set("Retry-After", "60")
		}
		api.JSONBody(w, http.StatusTooManyRequests, quotaBody{
			Error:   "quota_exceeded",
			Message: qe.Reason,
			Window:  qe.Window,
			Limit:   qe.Limit,
			Used:    qe.Used,
		})
		return
	}

	var ge *GenerationError
	switch {
	case errors.Is(err, personas.ErrPersonaNotFound):
		api.HandleError(w, api.NewNotFoundError("persona not found"))
	case errors.As(err, &ge) && ge.Kind == KindRejected:
		api.HandleError(w, api.NewBadGatewayError(ge.Error()))
	case errors.As(err, &ge):
		api.HandleError(w, api.ErrServiceUnavailable)
	case r.Context().Err() != nil:
		// Client went away; nobody reads the response.
		slog.Debug("generation canceled by client", "error", err)
	default:
		slog.Error("generation failed", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}
