package call

import "github.com/docease/telecare/cli/internal/signaling"

// Machine is the call session state machine of one participant. It does no
// I/O: Step maps the current state and an event to the next state and the
// effects the runtime has to carry out. It is not safe for concurrent use.
//
// Remote candidates are held until the remote description they belong to
// has been applied, then released in arrival order.
type Machine struct {
	self string

	// offerTimer asks the runtime for an answer deadline.
	offerTimer bool

	state     State
	initiator bool

	// incoming is a remote offer waiting for the user (in Idle) or for local
	// media (acceptor in AwaitingMedia).
	incoming     *signaling.SessionDescription
	incomingFrom string

	remoteApplied bool
	pending       []signaling.Candidate
	seen          map[string]struct{}
}

// NewMachine returns an idle machine for the participant self. With
// offerTimer set, an outstanding offer is guarded by a timer effect.
func NewMachine(self string, offerTimer bool) *Machine {
	return &Machine{
		self:       self,
		offerTimer: offerTimer,
		seen:       make(map[string]struct{}),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Pending returns a copy of the buffered remote candidates.
func (m *Machine) Pending() []signaling.Candidate {
	return append([]signaling.Candidate(nil), m.pending...)
}

// Incoming returns the remote offer waiting for the user, if any.
func (m *Machine) Incoming() (*signaling.SessionDescription, string) {
	if m.state != Idle {
		return nil, ""
	}
	return m.incoming, m.incomingFrom
}

// Step applies ev and returns the effects to run.
func (m *Machine) Step(ev Event) []Effect {
	switch ev.Kind {
	case EventEndCall:
		if !m.state.Active() {
			return nil
		}
		return m.end(nil, true)
	case EventRemoteHangup, EventPeerLeft:
		if !m.state.Active() {
			return m.dropIncoming()
		}
		return m.end(nil, false)
	case EventConnectionFailed:
		if !m.state.Active() {
			return nil
		}
		return m.end(orDefault(ev.Err, ErrConnectionFailed), false)
	case EventRemoteCandidate:
		return m.candidate(ev.Candidate)
	}

	switch m.state {
	case Idle:
		return m.stepIdle(ev)
	case AwaitingMedia:
		return m.stepAwaitingMedia(ev)
	case Offering, AwaitingAnswer:
		return m.stepOffering(ev)
	case Negotiating:
		return m.stepNegotiating(ev)
	case Connected:
		return m.stepConnected(ev)
	}
	return nil
}

func (m *Machine) stepIdle(ev Event) []Effect {
	switch ev.Kind {
	case EventStartCall:
		// Candidates left over from an earlier call must not reach this one.
		m.reset()
		m.initiator = true
		return m.enter(AwaitingMedia, Effect{Kind: EffectAcquireMedia})

	case EventRemoteOffer:
		if ev.SDP == nil {
			return nil
		}
		m.incoming, m.incomingFrom = ev.SDP, ev.From
		return []Effect{{Kind: EffectNotifyIncoming, SDP: ev.SDP, From: ev.From}}

	case EventAcceptCall:
		if m.incoming == nil {
			return []Effect{{Kind: EffectNotifyError, Err: ErrNoIncomingCall}}
		}
		m.initiator = false
		return m.enter(AwaitingMedia, Effect{Kind: EffectAcquireMedia})

	case EventRejectCall:
		// Rejecting sends nothing; the caller keeps waiting or times out.
		m.reset()
		return nil

	case EventMediaReady:
		// Media granted after the call was already ended.
		return []Effect{{Kind: EffectTeardown}}
	}
	return nil
}

func (m *Machine) stepAwaitingMedia(ev Event) []Effect {
	switch ev.Kind {
	case EventMediaReady:
		if m.initiator {
			return m.enter(Offering, Effect{Kind: EffectCreateOffer})
		}
		offer := m.incoming
		m.incoming = nil
		return m.enter(Negotiating, Effect{Kind: EffectCreateAnswer, SDP: offer, From: m.incomingFrom})

	case EventMediaFailed:
		err := orDefault(ev.Err, &CapabilityError{})
		m.reset()
		m.state = Idle
		return []Effect{
			{Kind: EffectTeardown},
			{Kind: EffectNotifyError, Err: err},
			{Kind: EffectNotifyState, State: Idle},
		}

	case EventStartCall:
		return []Effect{{Kind: EffectNotifyError, Err: ErrCallInProgress}}

	case EventRemoteOffer:
		if ev.SDP == nil {
			return nil
		}
		if m.initiator && !m.yields(ev.From) {
			return nil
		}
		// Either the callee's offer crossed ours before we sent it, or a
		// newer offer replaces the one being accepted.
		m.initiator = false
		m.incoming, m.incomingFrom = ev.SDP, ev.From
		return nil
	}
	return nil
}

func (m *Machine) stepOffering(ev Event) []Effect {
	switch ev.Kind {
	case EventLocalOfferSent:
		if m.state != Offering {
			return nil
		}
		if m.offerTimer {
			return m.enter(AwaitingAnswer, Effect{Kind: EffectStartOfferTimer})
		}
		return m.enter(AwaitingAnswer)

	case EventRemoteAnswer:
		if ev.SDP == nil {
			return nil
		}
		effects := []Effect{
			{Kind: EffectStopOfferTimer},
			{Kind: EffectApplyAnswer, SDP: ev.SDP},
		}
		m.remoteApplied = true
		effects = append(effects, m.flush()...)
		return append(effects, m.enter(Connected)...)

	case EventRemoteOffer:
		if ev.SDP == nil || !m.yields(ev.From) {
			return nil
		}
		// Glare, and we are the polite side: drop our offer and answer theirs.
		m.initiator = false
		m.remoteApplied = false
		return m.enter(Negotiating,
			Effect{Kind: EffectStopOfferTimer},
			Effect{Kind: EffectClosePeer},
			Effect{Kind: EffectCreateAnswer, SDP: ev.SDP, From: ev.From},
		)

	case EventOfferTimeout:
		if m.state != AwaitingAnswer {
			return nil
		}
		return m.end(ErrNoAnswer, true)

	case EventStartCall:
		return []Effect{{Kind: EffectNotifyError, Err: ErrCallInProgress}}
	}
	return nil
}

func (m *Machine) stepNegotiating(ev Event) []Effect {
	switch ev.Kind {
	case EventLocalAnswerSent:
		m.remoteApplied = true
		effects := m.flush()
		return append(effects, m.enter(Connected)...)

	case EventStartCall:
		return []Effect{{Kind: EffectNotifyError, Err: ErrCallInProgress}}
	}
	return nil
}

func (m *Machine) stepConnected(ev Event) []Effect {
	if ev.Kind == EventStartCall {
		return []Effect{{Kind: EffectNotifyError, Err: ErrCallInProgress}}
	}
	// Renegotiation is not supported; late offers and answers are ignored.
	return nil
}

// candidate buffers or forwards one remote candidate. Exact duplicates
// are dropped; nothing else is reordered or merged.
func (m *Machine) candidate(c *signaling.Candidate) []Effect {
	if c == nil {
		return nil
	}
	key := c.Key()
	if _, dup := m.seen[key]; dup {
		return nil
	}
	m.seen[key] = struct{}{}

	if m.remoteApplied && m.state == Connected {
		return []Effect{{Kind: EffectAddCandidates, Candidates: []signaling.Candidate{*c}}}
	}
	m.pending = append(m.pending, *c)
	return nil
}

func (m *Machine) flush() []Effect {
	if len(m.pending) == 0 {
		return nil
	}
	batch := m.pending
	m.pending = nil
	return []Effect{{Kind: EffectAddCandidates, Candidates: batch}}
}

// yields reports whether this side gives way when both sides offered.
// The participant with the smaller id is the polite one. An unknown remote
// id always wins so that a call can still be set up.
func (m *Machine) yields(remote string) bool {
	if remote == "" || m.self == "" {
		return true
	}
	return m.self < remote
}

func (m *Machine) enter(s State, effects ...Effect) []Effect {
	m.state = s
	return append(effects, Effect{Kind: EffectNotifyState, State: s})
}

// end runs the full teardown and leaves the machine idle and reusable.
func (m *Machine) end(err error, hangup bool) []Effect {
	effects := []Effect{{Kind: EffectStopOfferTimer}}
	if hangup {
		effects = append(effects, Effect{Kind: EffectSendHangup})
	}
	effects = append(effects,
		Effect{Kind: EffectTeardown},
		Effect{Kind: EffectNotifyState, State: Ended},
	)
	if err != nil {
		effects = append(effects, Effect{Kind: EffectNotifyError, Err: err})
	}
	m.reset()
	m.state = Idle
	return append(effects, Effect{Kind: EffectNotifyState, State: Idle})
}

// dropIncoming forgets an unanswered incoming offer.
func (m *Machine) dropIncoming() []Effect {
	if m.incoming == nil {
		return nil
	}
	m.reset()
	return []Effect{{Kind: EffectNotifyState, State: Idle}}
}

func (m *Machine) reset() {
	m.initiator = false
	m.incoming = nil
	m.incomingFrom = ""
	m.remoteApplied = false
	m.pending = nil
	m.seen = make(map[string]struct{})
}

func orDefault(err, def error) error {
	if err != nil {
		return err
	}
	return def
}
