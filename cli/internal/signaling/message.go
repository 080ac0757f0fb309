package signaling

import "strconv"

// Message represents all WebSocket frames between the CLI and the relay.
type Message struct {
	Type          string `json:"type"`
	AppointmentID string `json:"appointmentId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`

	// From is the sender's participant id on relayed signals.
	From string `json:"from,omitempty"`

	SessionDescription *SessionDescription `json:"sessionDescription,omitempty"`
	Candidate          *Candidate          `json:"candidate,omitempty"`

	// Server acknowledgements and errors.
	HandleID string `json:"handleId,omitempty"`
	Peers    int    `json:"peers,omitempty"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoinRoom     = "join-room"
	MessageTypeLeaveRoom    = "leave-room"
	MessageTypeOffer        = "offer"
	MessageTypeAnswer       = "answer"
	MessageTypeICECandidate = "ice-candidate"
	MessageTypeHangup       = "hangup"

	MessageTypeJoined     = "joined"
	MessageTypePeerJoined = "peer-joined"
	MessageTypePeerLeft   = "peer-left"
	MessageTypeError      = "error"
)

// Error codes sent by the relay.
const (
	CodeRoomFull = "room_full"
	CodeEvicted  = "evicted"
)

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one ICE candidate, shaped like the browser's RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Key identifies a candidate for duplicate suppression.
func (c Candidate) Key() string {
	key := c.Candidate + "|"
	if c.SDPMid != nil {
		key += *c.SDPMid
	}
	key += "|"
	if c.SDPMLineIndex != nil {
		key += strconv.FormatUint(uint64(*c.SDPMLineIndex), 10)
	}
	return key
}

// ServerError is an error frame from the relay.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
