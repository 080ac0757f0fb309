package call

import (
	"errors"
	"reflect"
	"testing"

	"github.com/docease/telecare/cli/internal/signaling"
)

func sdp(kind, body string) *signaling.SessionDescription {
	return &signaling.SessionDescription{Type: kind, SDP: body}
}

func cand(s string) *signaling.Candidate {
	mid := "0"
	var idx uint16
	return &signaling.Candidate{Candidate: s, SDPMid: &mid, SDPMLineIndex: &idx}
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, 0, len(effects))
	for _, e := range effects {
		if e.Kind == EffectNotifyState {
			continue
		}
		out = append(out, e.Kind)
	}
	return out
}

func find(effects []Effect, k EffectKind) (Effect, bool) {
	for _, e := range effects {
		if e.Kind == k {
			return e, true
		}
	}
	return Effect{}, false
}

func candidateStrings(cs []signaling.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Candidate
	}
	return out
}

// toConnectedInitiator drives m through a successful outgoing call.
func toConnectedInitiator(t *testing.T, m *Machine) {
	t.Helper()
	m.Step(Event{Kind: EventStartCall})
	m.Step(Event{Kind: EventMediaReady})
	m.Step(Event{Kind: EventLocalOfferSent})
	m.Step(Event{Kind: EventRemoteAnswer, SDP: sdp("answer", "Y")})
	if m.State() != Connected {
		t.Fatalf("state = %s, want connected", m.State())
	}
}

func TestInitiatorFlow(t *testing.T) {
	m := NewMachine("u1", false)

	effects := m.Step(Event{Kind: EventStartCall})
	if m.State() != AwaitingMedia {
		t.Fatalf("state = %s", m.State())
	}
	if got := kinds(effects); !reflect.DeepEqual(got, []EffectKind{EffectAcquireMedia}) {
		t.Fatalf("effects = %v", got)
	}

	effects = m.Step(Event{Kind: EventMediaReady})
	if m.State() != Offering {
		t.Fatalf("state = %s", m.State())
	}
	if _, ok := find(effects, EffectCreateOffer); !ok {
		t.Fatal("expected create offer")
	}

	m.Step(Event{Kind: EventLocalOfferSent})
	if m.State() != AwaitingAnswer {
		t.Fatalf("state = %s", m.State())
	}

	effects = m.Step(Event{Kind: EventRemoteAnswer, SDP: sdp("answer", "Y")})
	if m.State() != Connected {
		t.Fatalf("state = %s", m.State())
	}
	apply, ok := find(effects, EffectApplyAnswer)
	if !ok || apply.SDP.SDP != "Y" {
		t.Fatalf("expected answer Y to be applied, got %+v", effects)
	}
}

func TestAcceptorFlow(t *testing.T) {
	m := NewMachine("d1", false)

	effects := m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "X"), From: "u1"})
	if m.State() != Idle {
		t.Fatalf("incoming offer must not leave idle, got %s", m.State())
	}
	in, ok := find(effects, EffectNotifyIncoming)
	if !ok || in.From != "u1" {
		t.Fatalf("expected incoming notice from u1, got %+v", effects)
	}
	if offer, from := m.Incoming(); offer == nil || from != "u1" {
		t.Fatal("incoming offer not kept")
	}

	m.Step(Event{Kind: EventAcceptCall})
	if m.State() != AwaitingMedia {
		t.Fatalf("state = %s", m.State())
	}

	effects = m.Step(Event{Kind: EventMediaReady})
	if m.State() != Negotiating {
		t.Fatalf("state = %s", m.State())
	}
	answer, ok := find(effects, EffectCreateAnswer)
	if !ok || answer.SDP.SDP != "X" {
		t.Fatalf("expected answer to offer X, got %+v", effects)
	}

	m.Step(Event{Kind: EventLocalAnswerSent})
	if m.State() != Connected {
		t.Fatalf("state = %s", m.State())
	}
}

func TestRejectSendsNothing(t *testing.T) {
	m := NewMachine("d1", false)
	m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "X"), From: "u1"})
	m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("c1")})

	effects := m.Step(Event{Kind: EventRejectCall})
	if len(effects) != 0 {
		t.Fatalf("reject produced effects %+v", effects)
	}
	if m.State() != Idle {
		t.Fatalf("state = %s", m.State())
	}
	if offer, _ := m.Incoming(); offer != nil {
		t.Fatal("offer kept after reject")
	}
	if len(m.Pending()) != 0 {
		t.Fatal("candidates kept after reject")
	}

	effects = m.Step(Event{Kind: EventAcceptCall})
	e, ok := find(effects, EffectNotifyError)
	if !ok || !errors.Is(e.Err, ErrNoIncomingCall) {
		t.Fatalf("accept without offer: %+v", effects)
	}
}

func TestLateCandidateIsNotCarriedIntoNextCall(t *testing.T) {
	for _, tc := range []struct {
		name  string
		after Event
	}{
		{"rejected", Event{Kind: EventRejectCall}},
		{"hung up", Event{Kind: EventRemoteHangup}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine("d1", false)
			m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "X"), From: "u1"})
			m.Step(tc.after)
			m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("old-call")})

			m.Step(Event{Kind: EventStartCall})
			if len(m.Pending()) != 0 {
				t.Fatalf("pending = %v", candidateStrings(m.Pending()))
			}
			m.Step(Event{Kind: EventMediaReady})
			m.Step(Event{Kind: EventLocalOfferSent})
			m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("new-call")})
			effects := m.Step(Event{Kind: EventRemoteAnswer, SDP: sdp("answer", "Y")})

			add, ok := find(effects, EffectAddCandidates)
			if !ok {
				t.Fatalf("effects = %+v", effects)
			}
			if got := candidateStrings(add.Candidates); !reflect.DeepEqual(got, []string{"new-call"}) {
				t.Fatalf("candidates = %v, want [new-call]", got)
			}
		})
	}
}

func TestSecondStartIsRejected(t *testing.T) {
	for _, tc := range []struct {
		name  string
		steps []Event
	}{
		{"awaiting media", []Event{{Kind: EventStartCall}}},
		{"awaiting answer", []Event{{Kind: EventStartCall}, {Kind: EventMediaReady}, {Kind: EventLocalOfferSent}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine("u1", false)
			for _, ev := range tc.steps {
				m.Step(ev)
			}
			before := m.State()

			effects := m.Step(Event{Kind: EventStartCall})
			if m.State() != before {
				t.Fatalf("state changed %s -> %s", before, m.State())
			}
			e, ok := find(effects, EffectNotifyError)
			if !ok || !errors.Is(e.Err, ErrCallInProgress) {
				t.Fatalf("effects = %+v", effects)
			}
			if _, ok := find(effects, EffectCreateOffer); ok {
				t.Fatal("second offer created")
			}
		})
	}
}

func TestMediaFailureReturnsToIdle(t *testing.T) {
	m := NewMachine("u1", false)
	m.Step(Event{Kind: EventStartCall})

	denied := &CapabilityError{Kind: CapabilityPermissionDenied}
	effects := m.Step(Event{Kind: EventMediaFailed, Err: denied})
	if m.State() != Idle {
		t.Fatalf("state = %s", m.State())
	}
	e, ok := find(effects, EffectNotifyError)
	if !ok {
		t.Fatal("no error notice")
	}
	var capErr *CapabilityError
	if !errors.As(e.Err, &capErr) || capErr.Kind != CapabilityPermissionDenied {
		t.Fatalf("err = %v", e.Err)
	}

	// The session is reusable.
	m.Step(Event{Kind: EventStartCall})
	if m.State() != AwaitingMedia {
		t.Fatalf("state = %s", m.State())
	}
}

func TestCandidatesBufferedUntilOfferApplied(t *testing.T) {
	m := NewMachine("d1", false)

	// Candidates overtake the offer.
	for _, c := range []string{"c1", "c2", "c1", "c3"} {
		if effects := m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand(c)}); len(effects) != 0 {
			t.Fatalf("candidate %s forwarded early: %+v", c, effects)
		}
	}
	m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "X"), From: "u1"})
	m.Step(Event{Kind: EventAcceptCall})
	m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("c4")})
	m.Step(Event{Kind: EventMediaReady})
	m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("c5")})

	effects := m.Step(Event{Kind: EventLocalAnswerSent})
	add, ok := find(effects, EffectAddCandidates)
	if !ok {
		t.Fatalf("no candidates released: %+v", effects)
	}
	want := []string{"c1", "c2", "c3", "c4", "c5"}
	if got := candidateStrings(add.Candidates); !reflect.DeepEqual(got, want) {
		t.Fatalf("replayed %v, want %v", got, want)
	}

	// Once connected, candidates go straight through.
	effects = m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("c6")})
	add, ok = find(effects, EffectAddCandidates)
	if !ok || !reflect.DeepEqual(candidateStrings(add.Candidates), []string{"c6"}) {
		t.Fatalf("effects = %+v", effects)
	}
}

func TestCandidatesBufferedUntilAnswerApplied(t *testing.T) {
	m := NewMachine("u1", false)
	m.Step(Event{Kind: EventStartCall})
	m.Step(Event{Kind: EventMediaReady})
	m.Step(Event{Kind: EventLocalOfferSent})
	m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("a")})
	m.Step(Event{Kind: EventRemoteCandidate, Candidate: cand("b")})

	effects := m.Step(Event{Kind: EventRemoteAnswer, SDP: sdp("answer", "Y")})
	got := kinds(effects)
	want := []EffectKind{EffectStopOfferTimer, EffectApplyAnswer, EffectAddCandidates}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("effects = %v, want %v", got, want)
	}
	add, _ := find(effects, EffectAddCandidates)
	if !reflect.DeepEqual(candidateStrings(add.Candidates), []string{"a", "b"}) {
		t.Fatalf("candidates = %v", candidateStrings(add.Candidates))
	}
}

func TestEndingTearsDownAndReturnsToIdle(t *testing.T) {
	for _, tc := range []struct {
		name   string
		ev     Event
		hangup bool
	}{
		{"user ends", Event{Kind: EventEndCall}, true},
		{"peer hangs up", Event{Kind: EventRemoteHangup}, false},
		{"peer leaves", Event{Kind: EventPeerLeft}, false},
		{"connection fails", Event{Kind: EventConnectionFailed}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine("u1", false)
			toConnectedInitiator(t, m)

			effects := m.Step(tc.ev)
			if m.State() != Idle {
				t.Fatalf("state = %s", m.State())
			}
			if _, ok := find(effects, EffectTeardown); !ok {
				t.Fatal("no teardown")
			}
			if _, ok := find(effects, EffectSendHangup); ok != tc.hangup {
				t.Fatalf("hangup sent = %v, want %v", ok, tc.hangup)
			}

			var states []State
			for _, e := range effects {
				if e.Kind == EffectNotifyState {
					states = append(states, e.State)
				}
			}
			if !reflect.DeepEqual(states, []State{Ended, Idle}) {
				t.Fatalf("states = %v", states)
			}

			// Ending twice is harmless.
			if effects := m.Step(Event{Kind: EventEndCall}); len(effects) != 0 {
				t.Fatalf("second end produced %+v", effects)
			}
		})
	}
}

func TestOfferTimeout(t *testing.T) {
	m := NewMachine("u1", true)
	m.Step(Event{Kind: EventStartCall})
	m.Step(Event{Kind: EventMediaReady})

	effects := m.Step(Event{Kind: EventLocalOfferSent})
	if _, ok := find(effects, EffectStartOfferTimer); !ok {
		t.Fatal("offer timer not started")
	}

	effects = m.Step(Event{Kind: EventOfferTimeout})
	if m.State() != Idle {
		t.Fatalf("state = %s", m.State())
	}
	e, ok := find(effects, EffectNotifyError)
	if !ok || !errors.Is(e.Err, ErrNoAnswer) {
		t.Fatalf("effects = %+v", effects)
	}
	if _, ok := find(effects, EffectSendHangup); !ok {
		t.Fatal("callee not told the call is over")
	}
}

func TestGlare(t *testing.T) {
	t.Run("smaller id yields", func(t *testing.T) {
		m := NewMachine("a-doctor", false)
		m.Step(Event{Kind: EventStartCall})
		m.Step(Event{Kind: EventMediaReady})
		m.Step(Event{Kind: EventLocalOfferSent})

		effects := m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "theirs"), From: "b-patient"})
		if m.State() != Negotiating {
			t.Fatalf("state = %s", m.State())
		}
		got := kinds(effects)
		want := []EffectKind{EffectStopOfferTimer, EffectClosePeer, EffectCreateAnswer}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("effects = %v, want %v", got, want)
		}
	})

	t.Run("larger id keeps its offer", func(t *testing.T) {
		m := NewMachine("b-patient", false)
		m.Step(Event{Kind: EventStartCall})
		m.Step(Event{Kind: EventMediaReady})
		m.Step(Event{Kind: EventLocalOfferSent})

		effects := m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "theirs"), From: "a-doctor"})
		if len(effects) != 0 || m.State() != AwaitingAnswer {
			t.Fatalf("state = %s effects = %+v", m.State(), effects)
		}
	})

	t.Run("offer before local media", func(t *testing.T) {
		m := NewMachine("a-doctor", false)
		m.Step(Event{Kind: EventStartCall})
		m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "theirs"), From: "b-patient"})

		effects := m.Step(Event{Kind: EventMediaReady})
		e, ok := find(effects, EffectCreateAnswer)
		if !ok || e.SDP.SDP != "theirs" || m.State() != Negotiating {
			t.Fatalf("state = %s effects = %+v", m.State(), effects)
		}
	})
}

func TestCallerGivesUpBeforeAnswer(t *testing.T) {
	m := NewMachine("d1", false)
	m.Step(Event{Kind: EventRemoteOffer, SDP: sdp("offer", "X"), From: "u1"})

	effects := m.Step(Event{Kind: EventRemoteHangup})
	if _, ok := find(effects, EffectNotifyState); !ok {
		t.Fatal("incoming call not withdrawn")
	}
	if offer, _ := m.Incoming(); offer != nil {
		t.Fatal("offer kept after hangup")
	}
}

func TestLateMediaIsReleased(t *testing.T) {
	m := NewMachine("u1", false)
	m.Step(Event{Kind: EventStartCall})
	m.Step(Event{Kind: EventEndCall})

	effects := m.Step(Event{Kind: EventMediaReady})
	if got := kinds(effects); !reflect.DeepEqual(got, []EffectKind{EffectTeardown}) {
		t.Fatalf("effects = %v", got)
	}
	if m.State() != Idle {
		t.Fatalf("state = %s", m.State())
	}
}
