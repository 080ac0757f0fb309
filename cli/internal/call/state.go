package call

import "github.com/docease/telecare/cli/internal/signaling"

// State is the phase of a participant's call session.
type State int

const (
	Idle State = iota
	AwaitingMedia
	Offering
	AwaitingAnswer
	Negotiating
	Connected
	// Ended is reported while a call is being torn down. The session is
	// back in Idle as soon as teardown has run.
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingMedia:
		return "awaiting-media"
	case Offering:
		return "offering"
	case AwaitingAnswer:
		return "awaiting-answer"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	}
	return "unknown"
}

// Active reports whether a call is being set up or is up.
func (s State) Active() bool {
	return s != Idle && s != Ended
}

// EventKind enumerates the inputs of the state machine.
type EventKind int

const (
	// User actions.
	EventStartCall EventKind = iota + 1
	EventAcceptCall
	EventRejectCall
	EventEndCall

	// Local results.
	EventMediaReady
	EventMediaFailed
	EventLocalOfferSent
	EventLocalAnswerSent
	EventConnectionFailed
	EventOfferTimeout

	// Remote input.
	EventRemoteOffer
	EventRemoteAnswer
	EventRemoteCandidate
	EventRemoteHangup
	EventPeerLeft
)

var eventNames = map[EventKind]string{
	EventStartCall:        "start-call",
	EventAcceptCall:       "accept-call",
	EventRejectCall:       "reject-call",
	EventEndCall:          "end-call",
	EventMediaReady:       "media-ready",
	EventMediaFailed:      "media-failed",
	EventLocalOfferSent:   "local-offer-sent",
	EventLocalAnswerSent:  "local-answer-sent",
	EventConnectionFailed: "connection-failed",
	EventOfferTimeout:     "offer-timeout",
	EventRemoteOffer:      "remote-offer",
	EventRemoteAnswer:     "remote-answer",
	EventRemoteCandidate:  "remote-candidate",
	EventRemoteHangup:     "remote-hangup",
	EventPeerLeft:         "peer-left",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// Event is one input to Machine.Step.
type Event struct {
	Kind EventKind

	// SDP is set for remote offers and answers.
	SDP *signaling.SessionDescription

	// Candidate is set for remote candidates.
	Candidate *signaling.Candidate

	// From is the remote participant id of a remote offer.
	From string

	// Err is set for failures.
	Err error

	// gen ties asynchronous results to the call that requested them.
	gen uint64

	// local is the media delivered with EventMediaReady.
	local *LocalMedia
}

// EffectKind enumerates what the runtime must do after a step.
type EffectKind int

const (
	EffectAcquireMedia EffectKind = iota + 1
	// EffectCreateOffer creates the peer connection if needed, then creates,
	// applies and sends a local offer.
	EffectCreateOffer
	// EffectCreateAnswer creates the peer connection if needed, applies the
	// remote offer, then creates, applies and sends the local answer.
	EffectCreateAnswer
	EffectApplyAnswer
	EffectAddCandidates
	// EffectClosePeer closes the peer connection but keeps local media.
	EffectClosePeer
	EffectSendHangup
	EffectStartOfferTimer
	EffectStopOfferTimer
	// EffectTeardown stops local media, closes the peer connection and
	// forgets all per-call runtime state.
	EffectTeardown
	EffectNotifyState
	EffectNotifyIncoming
	EffectNotifyError
)

// Effect is one side effect requested by the machine. Effects of a step
// run in order.
type Effect struct {
	Kind       EffectKind
	State      State
	SDP        *signaling.SessionDescription
	Candidates []signaling.Candidate
	From       string
	Err        error
}
