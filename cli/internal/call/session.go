package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/docease/telecare/cli/internal/signaling"
)

// Signaler is the only network surface a session needs.
// *signaling.Client satisfies it.
type Signaler interface {
	Send(msg *signaling.Message) error
}

// Notice reports a change to the user interface.
type Notice struct {
	State State

	// Incoming is set when a remote offer waits to be accepted or rejected.
	Incoming bool
	From     string

	// Err is a failure to show to the user. Capability errors carry a
	// readable message.
	Err error
}

// Options configure a Session.
type Options struct {
	AppointmentID string
	ParticipantID string

	Signaler Signaler
	Media    MediaSource
	Peers    PeerFactory

	// OfferTimeout ends an unanswered call. Zero waits indefinitely.
	OfferTimeout time.Duration

	// OnNotice is called from the session goroutine.
	OnNotice func(Notice)
}

// Session runs one participant's call state machine. All transitions happen
// on the goroutine running Run; user actions and network input are posted
// to it as events.
type Session struct {
	opts    Options
	machine *Machine
	log     zerolog.Logger

	events chan Event
	queue  []Event

	state atomic.Int32

	// Per-call resources, owned by the Run goroutine.
	gen   uint64
	local *LocalMedia
	peer  Peer
	timer *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	return &Session{
		opts:    opts,
		machine: NewMachine(opts.ParticipantID, opts.OfferTimeout > 0),
		log: log.With().
			Str("appointment", opts.AppointmentID).
			Str("participant", opts.ParticipantID).
			Logger(),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// State returns the current state. Safe for concurrent use.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) StartCall() { s.post(Event{Kind: EventStartCall}) }
func (s *Session) Accept()    { s.post(Event{Kind: EventAcceptCall}) }
func (s *Session) Reject()    { s.post(Event{Kind: EventRejectCall}) }
func (s *Session) End()       { s.post(Event{Kind: EventEndCall}) }

// PeerLeft reports that the other member left the room.
func (s *Session) PeerLeft() { s.post(Event{Kind: EventPeerLeft}) }

// Deliver feeds a relayed signal into the session. Signals for other
// appointments are ignored.
func (s *Session) Deliver(msg *signaling.Message) {
	if msg.AppointmentID != "" && msg.AppointmentID != s.opts.AppointmentID {
		return
	}

	switch msg.Type {
	case signaling.MessageTypeOffer:
		s.post(Event{Kind: EventRemoteOffer, SDP: msg.SessionDescription, From: msg.From})
	case signaling.MessageTypeAnswer:
		s.post(Event{Kind: EventRemoteAnswer, SDP: msg.SessionDescription, From: msg.From})
	case signaling.MessageTypeICECandidate:
		s.post(Event{Kind: EventRemoteCandidate, Candidate: msg.Candidate, From: msg.From})
	case signaling.MessageTypeHangup:
		s.post(Event{Kind: EventRemoteHangup, From: msg.From})
	}
}

func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run processes events until ctx is done, then tears down any active call.
func (s *Session) Run(ctx context.Context) {
	defer s.stopOnce.Do(func() { close(s.done) })
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			if s.machine.State().Active() {
				s.send(&signaling.Message{Type: signaling.MessageTypeHangup})
			}
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// handle steps the machine with ev and with every follow-up event the
// effects produce, before reading the next external event.
func (s *Session) handle(ev Event) {
	s.queue = append(s.queue, ev)
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]

		if !s.current(ev) {
			continue
		}
		before := s.machine.State()
		effects := s.machine.Step(ev)
		s.state.Store(int32(s.machine.State()))
		if after := s.machine.State(); after != before {
			s.log.Debug().Str("event", ev.Kind.String()).Str("from", before.String()).Str("to", after.String()).Msg("call state")
		}
		for _, eff := range effects {
			s.run(eff)
		}
	}
}

// current drops results of asynchronous work requested by an earlier call.
func (s *Session) current(ev Event) bool {
	switch ev.Kind {
	case EventMediaReady, EventMediaFailed, EventOfferTimeout, EventConnectionFailed:
	default:
		return true
	}
	if ev.gen == s.gen {
		if ev.Kind == EventMediaReady {
			s.local = ev.local
		}
		return true
	}
	// Stale capture from a call that has already ended.
	ev.local.Stop()
	return false
}

func (s *Session) follow(ev Event) {
	ev.gen = s.gen
	s.queue = append(s.queue, ev)
}

func (s *Session) run(eff Effect) {
	switch eff.Kind {
	case EffectAcquireMedia:
		s.acquireMedia()

	case EffectCreateOffer:
		if err := s.ensurePeer(); err != nil {
			s.follow(Event{Kind: EventConnectionFailed, Err: err})
			return
		}
		offer, err := s.peer.CreateOffer()
		if err != nil {
			s.follow(Event{Kind: EventConnectionFailed, Err: err})
			return
		}
		if err := s.send(&signaling.Message{Type: signaling.MessageTypeOffer, SessionDescription: offer}); err != nil {
			s.follow(Event{Kind: EventConnectionFailed, Err: err})
			return
		}
		s.follow(Event{Kind: EventLocalOfferSent})

	case EffectCreateAnswer:
		if eff.SDP == nil {
			s.follow(Event{Kind: EventConnectionFailed})
			return
		}
		if err := s.ensurePeer(); err != nil {
			s.follow(Event{Kind: EventConnectionFailed, Err: err})
			return
		}
		answer, err := s.peer.CreateAnswer(*eff.SDP)
		if err != nil {
			s.follow(Event{Kind: EventConnectionFailed, Err: err})
			return
		}
		if err := s.send(&signaling.Message{Type: signaling.MessageTypeAnswer, SessionDescription: answer}); err != nil {
			s.follow(Event{Kind: EventConnectionFailed, Err: err})
			return
		}
		s.follow(Event{Kind: EventLocalAnswerSent})

	case EffectApplyAnswer:
		if s.peer == nil || eff.SDP == nil {
			s.follow(Event{Kind: EventConnectionFailed})
			return
		}
		if err := s.peer.ApplyAnswer(*eff.SDP); err != nil {
			s.follow(Event{Kind: EventConnectionFailed, Err: err})
		}

	case EffectAddCandidates:
		for _, c := range eff.Candidates {
			if s.peer == nil {
				return
			}
			if err := s.peer.AddCandidate(c); err != nil {
				s.log.Debug().Err(err).Str("candidate", c.Candidate).Msg("candidate rejected")
			}
		}

	case EffectClosePeer:
		s.closePeer()

	case EffectSendHangup:
		s.send(&signaling.Message{Type: signaling.MessageTypeHangup})

	case EffectStartOfferTimer:
		gen := s.gen
		s.stopTimer()
		s.timer = time.AfterFunc(s.opts.OfferTimeout, func() {
			s.post(Event{Kind: EventOfferTimeout, gen: gen})
		})

	case EffectStopOfferTimer:
		s.stopTimer()

	case EffectTeardown:
		s.teardown()

	case EffectNotifyState:
		s.notify(Notice{State: eff.State})

	case EffectNotifyIncoming:
		s.notify(Notice{State: s.machine.State(), Incoming: true, From: eff.From})

	case EffectNotifyError:
		s.log.Info().Err(eff.Err).Msg("call error")
		s.notify(Notice{State: s.machine.State(), Err: eff.Err})
	}
}

func (s *Session) acquireMedia() {
	gen := s.gen
	go func() {
		local, err := s.opts.Media.Acquire(context.Background())
		if err != nil {
			s.post(Event{Kind: EventMediaFailed, Err: err, gen: gen})
			return
		}
		s.post(Event{Kind: EventMediaReady, local: local, gen: gen})
	}()
}

func (s *Session) ensurePeer() error {
	if s.peer != nil {
		return nil
	}
	gen := s.gen
	peer, err := s.opts.Peers.NewPeer(s.local, PeerHooks{
		OnCandidate: func(c signaling.Candidate) {
			s.send(&signaling.Message{Type: signaling.MessageTypeICECandidate, Candidate: &c})
		},
		OnConnected: func() {
			s.log.Info().Msg("media connected")
		},
		OnFailed: func() {
			s.post(Event{Kind: EventConnectionFailed, Err: ErrConnectionFailed, gen: gen})
		},
	})
	if err != nil {
		return err
	}
	s.peer = peer
	return nil
}

func (s *Session) send(msg *signaling.Message) error {
	msg.AppointmentID = s.opts.AppointmentID
	msg.From = s.opts.ParticipantID
	if err := s.opts.Signaler.Send(msg); err != nil {
		s.log.Debug().Err(err).Str("type", msg.Type).Msg("signal not sent")
		return err
	}
	return nil
}

func (s *Session) notify(n Notice) {
	if s.opts.OnNotice != nil {
		s.opts.OnNotice(n)
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) closePeer() {
	if s.peer == nil {
		return
	}
	if err := s.peer.Close(); err != nil {
		s.log.Debug().Err(err).Msg("close peer connection")
	}
	s.peer = nil
}

// teardown releases everything the current call holds. It runs from the
// explicit end, the peer leaving and shutdown, and tolerates being repeated.
func (s *Session) teardown() {
	s.stopTimer()
	s.closePeer()
	s.local.Stop()
	s.local = nil
	s.gen++
}
