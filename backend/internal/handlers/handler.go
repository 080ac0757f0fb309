package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/docease/telecare/backend/internal/chat"
	"github.com/docease/telecare/backend/internal/signaling"
	"github.com/docease/telecare/backend/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	chat     *chat.Service
	registry *signaling.Registry
	log      zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *chat.Service, registry *signaling.Registry, logger zerolog.Logger) *Handler {
	return &Handler{chat: svc, registry: registry, log: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a failure envelope with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, FailureResponse{Success: false, Message: message})
}

// FailureResponse is the body of every unsuccessful API call.
type FailureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// fail maps a chat or store error to its status code.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrEmptyText),
		errors.Is(err, store.ErrMissingField),
		errors.Is(err, store.ErrInvalidRole),
		errors.Is(err, store.ErrTextTooLong):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrParticipantMismatch),
		errors.Is(err, chat.ErrNotParticipant):
		h.Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		h.log.Error().Err(err).Msg("message store unavailable")
		h.Error(w, http.StatusServiceUnavailable, "message store unavailable")
	default:
		h.log.Error().Err(err).Msg("chat request failed")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}
