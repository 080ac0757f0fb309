package signaling

import (
	"encoding/json"
	"errors"
)

// Message types understood by the relay.
const (
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeHangup       = "hangup"

	TypeJoined     = "joined"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeError      = "error"
)

// Error codes carried by S2C error frames.
const (
	CodeRoomFull       = "room_full"
	CodeNotInRoom      = "not_in_room"
	CodeEvicted        = "evicted"
	CodeBadFrame       = "bad_frame"
	CodeNotParticipant = "not_participant"
)

var errMalformed = errors.New("malformed frame")

// Message is the envelope of every websocket frame exchanged with a client.
// Only the routing fields are decoded; the rest of a signaling frame is
// relayed as the raw bytes that arrived.
type Message struct {
	Type          string `json:"type"`
	AppointmentID string `json:"appointmentId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`

	// From is the participant id a signal claims to come from.
	From string `json:"from,omitempty"`

	// denied is set on a join the roster refused before it reached the hub.
	denied error `json:"-"`

	// raw is the frame exactly as it was read off the wire.
	raw []byte `json:"-"`

	// client is the sender. Used internally by the Hub and not sent over JSON.
	client *Client `json:"-"`
}

// isSignal reports whether the message is relayed to the other room member.
func (m *Message) isSignal() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeHangup:
		return true
	}
	return false
}

// decodeMessage parses the routing envelope of a frame and keeps the frame.
func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errMalformed
	}
	if msg.Type == "" {
		return nil, errMalformed
	}
	msg.raw = data
	return &msg, nil
}

// JoinedPayload acknowledges a join-room request.
type JoinedPayload struct {
	Type          string `json:"type"`
	AppointmentID string `json:"appointmentId"`
	HandleID      string `json:"handleId"`
	Peers         int    `json:"peers"`
}

// PeerPayload notifies a member that the other side joined or left.
type PeerPayload struct {
	Type          string `json:"type"`
	AppointmentID string `json:"appointmentId"`
	ParticipantID string `json:"participantId,omitempty"`
}

// ErrorPayload is sent back to a client whose request could not be served.
type ErrorPayload struct {
	Type          string `json:"type"`
	Code          string `json:"code"`
	Error         string `json:"error"`
	AppointmentID string `json:"appointmentId,omitempty"`
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every payload above is a plain struct of strings and ints.
		panic(err)
	}
	return b
}
