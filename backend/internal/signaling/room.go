package signaling

import "time"

// MaxRoomSize is the number of handles a room can hold. Calls are two-party.
const MaxRoomSize = 2

// Handle is a live connection endpoint that can be bound to a room.
type Handle interface {
	ID() string
}

// member is one binding of a handle to a room.
type member struct {
	handle        Handle
	participantID string
	joinedAt      time.Time
}

// Room groups the participant handles of a single appointment.
// Members are kept in join order, oldest first.
type Room struct {
	// ID is the appointment identifier.
	ID string

	CreatedAt time.Time

	members []*member
}

func newRoom(id string, now time.Time) *Room {
	return &Room{ID: id, CreatedAt: now}
}

func (r *Room) indexOf(h Handle) int {
	for i, m := range r.members {
		if m.handle.ID() == h.ID() {
			return i
		}
	}
	return -1
}

func (r *Room) indexOfParticipant(participantID string) int {
	if participantID == "" {
		return -1
	}
	for i, m := range r.members {
		if m.participantID == participantID {
			return i
		}
	}
	return -1
}

func (r *Room) remove(i int) *member {
	m := r.members[i]
	r.members = append(r.members[:i], r.members[i+1:]...)
	return m
}

func (r *Room) others(h Handle) []Handle {
	out := make([]Handle, 0, len(r.members))
	for _, m := range r.members {
		if m.handle.ID() != h.ID() {
			out = append(out, m.handle)
		}
	}
	return out
}

// RoomInfo is a read-only view of a room for listings.
type RoomInfo struct {
	AppointmentID string    `json:"appointmentId"`
	Members       int       `json:"members"`
	Participants  []string  `json:"participants"`
	CreatedAt     time.Time `json:"createdAt"`
}
