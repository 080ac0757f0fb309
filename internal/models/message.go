package models

import "time"

// Role identifies which side of an appointment sent a message.
type Role string

const (
	RolePatient Role = "user"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r is one of the two appointment roles.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// Message is a stored chat message. Immutable once created.
type Message struct {
	ID            string    `json:"id" msgpack:"id"` // ULID
	AppointmentID string    `json:"appointmentId" msgpack:"appointment_id"`
	SenderID      string    `json:"senderId" msgpack:"sender_id"`
	SenderRole    Role      `json:"senderRole" msgpack:"sender_role"`
	RecipientID   string    `json:"recipientId" msgpack:"recipient_id"`
	Text          string    `json:"text" msgpack:"text"`
	CreatedAt     time.Time `json:"createdAt" msgpack:"created_at"`
	Seq           int64     `json:"seq" msgpack:"seq"` // insertion order within the store
}

// NewMessage is the input to a store append.
type NewMessage struct {
	AppointmentID string
	SenderID      string
	SenderRole    Role
	RecipientID   string
	Text          string
}
