package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docease/telecare/backend/internal/chat"
	"github.com/docease/telecare/internal/models"
)

// SendRequest represents the send message request body.
type SendRequest struct {
	AppointmentID string      `json:"appointmentId"`
	SenderID      string      `json:"senderId"`
	SenderRole    models.Role `json:"senderRole"`
	RecipientID   string      `json:"recipientId"`
	Text          string      `json:"text"`
}

// SendResponse represents the send message response.
type SendResponse struct {
	Success bool            `json:"success"`
	Message *models.Message `json:"message"`
}

// ListRequest represents the history request body.
type ListRequest struct {
	AppointmentID string `json:"appointmentId"`
	RequesterID   string `json:"requesterId,omitempty"`
}

// ListResponse represents the history response.
type ListResponse struct {
	Success  bool             `json:"success"`
	Messages []models.Message `json:"messages"`
}

// SendMessage handles POST /api/chat/send.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.send(w, r, chat.SendRequest{
		AppointmentID: req.AppointmentID,
		SenderID:      req.SenderID,
		SenderRole:    req.SenderRole,
		RecipientID:   req.RecipientID,
		Text:          req.Text,
	})
}

// GetMessages handles POST /api/chat/messages.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.list(w, r, req.AppointmentID, req.RequesterID)
}

// RoleRequest is the body used by the patient and doctor apps. Which of
// userId and docId is the sender follows from the role in the path.
type RoleRequest struct {
	AppointmentID string `json:"appointmentId"`
	UserID        string `json:"userId"`
	DocID         string `json:"docId"`
	Message       string `json:"message"`
}

// RoleSendMessage handles POST /api/{role}/send-message.
func (h *Handler) RoleSendMessage(w http.ResponseWriter, r *http.Request) {
	role := models.Role(chi.URLParam(r, "role"))
	if !role.Valid() {
		h.Error(w, http.StatusNotFound, "unknown role")
		return
	}
	var req RoleRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sender, recipient := req.UserID, req.DocID
	if role == models.RoleDoctor {
		sender, recipient = req.DocID, req.UserID
	}
	h.send(w, r, chat.SendRequest{
		AppointmentID: req.AppointmentID,
		SenderID:      sender,
		SenderRole:    role,
		RecipientID:   recipient,
		Text:          req.Message,
	})
}

// RoleGetMessages handles POST /api/{role}/get-messages.
func (h *Handler) RoleGetMessages(w http.ResponseWriter, r *http.Request) {
	role := models.Role(chi.URLParam(r, "role"))
	if !role.Valid() {
		h.Error(w, http.StatusNotFound, "unknown role")
		return
	}
	var req RoleRequest
	if err := decode(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requester := req.UserID
	if role == models.RoleDoctor {
		requester = req.DocID
	}
	h.list(w, r, req.AppointmentID, requester)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, req chat.SendRequest) {
	msg, err := h.chat.Send(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, SendResponse{Success: true, Message: msg})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, appointmentID, requesterID string) {
	msgs, err := h.chat.List(r.Context(), appointmentID, requesterID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, ListResponse{Success: true, Messages: msgs})
}
