package email

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

type Handler struct {
	validate *validator.Validate
	delay    func() time.Duration
	logger   *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		delay:    simulatedLatency,
		logger:   logger,
	}
}

// simulatedLatency stands in for an SMTP round trip.
func simulatedLatency() time.Duration {
	return time.Duration(50+rand.IntN(151)) * time.Millisecond
}

type sendRequest struct {
	To      string `json:"to" validate:"required,email,max=255"`
	Subject string `json:"subject" validate:"required,max=255"`
	Body    string `json:"body" validate:"max=10000"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			h.writeError(w, http.StatusBadRequest, "invalid field: "+fieldErrs[0].Field())
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	select {
	case <-time.After(h.delay()):
	case <-r.Context().Done():
		h.logger.Warn("email send aborted", "to", req.To, "error", r.Context().Err())
		return
	}

	h.logger.Info("email sent", "to", req.To, "subject", req.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
