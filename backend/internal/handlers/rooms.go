package handlers

import (
	"net/http"

	"github.com/docease/telecare/backend/internal/signaling"
)

// RoomsResponse represents the live rooms listing.
type RoomsResponse struct {
	Rooms []signaling.RoomInfo `json:"rooms"`
	Total int                  `json:"total"`
}

// ListRooms handles GET /api/rooms.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.registry.Snapshot()
	if rooms == nil {
		rooms = []signaling.RoomInfo{}
	}
	h.JSON(w, http.StatusOK, RoomsResponse{Rooms: rooms, Total: len(rooms)})
}
