package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/docease/telecare/backend/internal/metrics"
)

// pendingFrame is a signal that arrived while its room had nobody to
// receive it, held for the offer grace period.
type pendingFrame struct {
	from    string
	frame   []byte
	expires time.Time
}

// rosterTimeout bounds one roster lookup made for a join.
const rosterTimeout = 3 * time.Second

// Roster reports the two participant ids an appointment is already bound
// to. ok is false while the appointment has no established pair.
type Roster interface {
	Pair(ctx context.Context, appointmentID string) (a, b string, ok bool, err error)
}

// Hub is the signaling relay. It routes offers, answers, candidates and
// hangups between the two members of a room without looking at their
// payloads.
//
// Run is the single goroutine that handles connection lifecycle and inbound
// frames, so relay decisions for a room are made in arrival order.
type Hub struct {
	registry *Registry
	log      zerolog.Logger

	// grace keeps signals sent to an empty room for the next joiner.
	// Zero drops them immediately.
	grace   time.Duration
	pending map[string][]pendingFrame

	clients map[*Client]struct{}

	// roster, when set, restricts joins to an appointment's known pair.
	roster Roster

	register   chan *Client
	unregister chan *Client
	inbound    chan *Message
	done       chan struct{}

	now func() time.Time
}

// NewHub creates a relay over registry.
func NewHub(registry *Registry, logger zerolog.Logger, grace time.Duration) *Hub {
	return &Hub{
		registry:   registry,
		log:        logger.With().Str("component", "relay").Logger(),
		grace:      grace,
		pending:    make(map[string][]pendingFrame),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Message, 64),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// SetRoster restricts joins to the pairs r knows. Call it before Run.
func (h *Hub) SetRoster(r Roster) {
	h.roster = r
}

// vet checks a join against the roster. It runs on the sender's read
// goroutine so that a slow lookup never stalls the hub loop. A failed
// lookup lets the join through.
func (h *Hub) vet(msg *Message) {
	if msg.Type != TypeJoinRoom || h.roster == nil || msg.AppointmentID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rosterTimeout)
	defer cancel()

	a, b, ok, err := h.roster.Pair(ctx, msg.AppointmentID)
	if err != nil {
		h.log.Warn().Err(err).Str("room", msg.AppointmentID).Msg("roster lookup failed")
		return
	}
	if ok && msg.ParticipantID != a && msg.ParticipantID != b {
		msg.denied = ErrNotParticipant
	}
}

// Registry returns the room registry the hub routes with.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	var sweep <-chan time.Time
	if h.grace > 0 {
		ticker := time.NewTicker(sweepInterval(h.grace))
		defer ticker.Stop()
		sweep = ticker.C
	}

	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case msg := <-h.inbound:
			h.handleMessage(msg)

		case <-sweep:
			h.expirePending()
		}
	}
}

func sweepInterval(grace time.Duration) time.Duration {
	if d := grace / 2; d > 100*time.Millisecond {
		return d
	}
	return 100 * time.Millisecond
}

// Register hands a fresh connection to the hub loop. It returns false if
// the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// dispatch queues an inbound frame. It returns false once the hub stopped.
func (h *Hub) dispatch(msg *Message) bool {
	select {
	case h.inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.clients[c] = struct{}{}
	metrics.WSConnections.Inc()
	h.log.Debug().Str("handle", c.id).Str("remote", c.remoteAddr()).Msg("client connected")
}

func (h *Hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.WSConnections.Dec()

	participant := h.registry.ParticipantOf(c)
	for _, room := range h.registry.LeaveAll(c) {
		h.notifyPeerLeft(room, c, participant)
	}
	h.dropPendingFrom(c.id)
	h.updateRoomGauge()

	close(c.send)
	h.log.Debug().Str("handle", c.id).Msg("client disconnected")
}

func (h *Hub) handleMessage(msg *Message) {
	switch {
	case msg.Type == TypeJoinRoom:
		h.handleJoin(msg)
	case msg.Type == TypeLeaveRoom:
		h.handleLeave(msg)
	case msg.isSignal():
		h.handleSignal(msg)
	default:
		metrics.SignalsDropped.WithLabelValues("malformed").Inc()
		h.log.Debug().Str("handle", msg.client.id).Str("type", msg.Type).Msg("unknown message type")
	}
}

func (h *Hub) handleJoin(msg *Message) {
	c := msg.client
	var res JoinResult
	err := msg.denied
	if err == nil {
		res, err = h.registry.Join(msg.AppointmentID, c, msg.ParticipantID)
	}
	if err != nil {
		code := CodeBadFrame
		switch {
		case errors.Is(err, ErrRoomFull):
			code = CodeRoomFull
		case errors.Is(err, ErrNotParticipant):
			code = CodeNotParticipant
		}
		metrics.RoomJoinsRejected.WithLabelValues(code).Inc()
		h.log.Info().Str("room", msg.AppointmentID).Str("handle", c.id).Err(err).Msg("join rejected")
		c.deliver(encode(ErrorPayload{
			Type:          TypeError,
			Code:          code,
			Error:         err.Error(),
			AppointmentID: msg.AppointmentID,
		}))
		return
	}

	if res.Left != "" {
		h.notifyPeerLeft(res.Left, c, msg.ParticipantID)
	}
	unbound := []struct {
		handle      Handle
		participant string
	}{
		{res.Replaced, msg.ParticipantID},
		{res.Evicted, res.EvictedParticipant},
	}
	for _, u := range unbound {
		stale := u.handle
		if stale == nil {
			continue
		}
		if sc, ok := stale.(*Client); ok {
			sc.deliver(encode(ErrorPayload{
				Type:          TypeError,
				Code:          CodeEvicted,
				Error:         "replaced by a newer connection",
				AppointmentID: msg.AppointmentID,
			}))
			h.dropPendingFrom(sc.id)
		}
		// The remaining members see the old connection go before the
		// newcomer arrives, so a call with it is torn down.
		left := encode(PeerPayload{
			Type:          TypePeerLeft,
			AppointmentID: msg.AppointmentID,
			ParticipantID: u.participant,
		})
		for _, p := range res.Peers {
			h.deliverTo(p, left)
		}
		h.log.Info().Str("room", msg.AppointmentID).Str("handle", stale.ID()).Msg("member unbound by join")
	}

	c.deliver(encode(JoinedPayload{
		Type:          TypeJoined,
		AppointmentID: msg.AppointmentID,
		HandleID:      c.id,
		Peers:         len(res.Peers),
	}))

	if !res.AlreadyMember {
		note := encode(PeerPayload{
			Type:          TypePeerJoined,
			AppointmentID: msg.AppointmentID,
			ParticipantID: msg.ParticipantID,
		})
		for _, p := range res.Peers {
			h.deliverTo(p, note)
		}
	}

	h.updateRoomGauge()
	h.flushPending(msg.AppointmentID, c)
	h.log.Info().
		Str("room", msg.AppointmentID).
		Str("handle", c.id).
		Str("participant", msg.ParticipantID).
		Int("peers", len(res.Peers)).
		Msg("joined room")
}

func (h *Hub) handleLeave(msg *Message) {
	c := msg.client
	room := msg.AppointmentID
	if room == "" {
		room, _ = h.registry.RoomOf(c)
	}
	participant := h.registry.ParticipantOf(c)
	if h.registry.Leave(room, c) {
		h.notifyPeerLeft(room, c, participant)
		h.dropPendingFrom(c.id)
		h.updateRoomGauge()
		h.log.Info().Str("room", room).Str("handle", c.id).Msg("left room")
	}
}

// handleSignal forwards the frame verbatim to the other member(s) of the
// sender's room. Nothing is reported back to the sender on failure.
func (h *Hub) handleSignal(msg *Message) {
	c := msg.client
	room, ok := h.registry.RoomOf(c)
	if !ok || msg.AppointmentID != room {
		// Either not joined, or addressed to a room the handle is not in.
		metrics.SignalsDropped.WithLabelValues("not_in_room").Inc()
		h.log.Debug().Str("handle", c.id).Str("room", msg.AppointmentID).Str("type", msg.Type).Msg("signal outside joined room")
		return
	}

	if p := h.registry.ParticipantOf(c); p != "" && msg.From != p {
		metrics.SignalsDropped.WithLabelValues("sender_mismatch").Inc()
		h.log.Debug().Str("handle", c.id).Str("participant", p).Str("from", msg.From).Msg("signal with foreign sender dropped")
		return
	}

	peers := h.registry.MembersExcept(room, c)
	if len(peers) == 0 {
		if h.grace > 0 && msg.Type != TypeHangup {
			h.pending[room] = append(h.pending[room], pendingFrame{
				from:    c.id,
				frame:   msg.raw,
				expires: h.now().Add(h.grace),
			})
			h.log.Debug().Str("room", room).Str("type", msg.Type).Msg("holding signal for next joiner")
			return
		}
		metrics.SignalsDropped.WithLabelValues("empty_room").Inc()
		h.log.Debug().Str("room", room).Str("type", msg.Type).Msg("no peer in room, signal dropped")
		return
	}

	for _, p := range peers {
		if h.deliverTo(p, msg.raw) {
			metrics.SignalsRelayed.WithLabelValues(msg.Type).Inc()
		}
	}
}

func (h *Hub) deliverTo(p Handle, frame []byte) bool {
	c, ok := p.(*Client)
	if !ok {
		return false
	}
	return c.deliver(frame)
}

func (h *Hub) notifyPeerLeft(room string, left *Client, participantID string) {
	note := encode(PeerPayload{
		Type:          TypePeerLeft,
		AppointmentID: room,
		ParticipantID: participantID,
	})
	for _, p := range h.registry.MembersExcept(room, left) {
		h.deliverTo(p, note)
	}
}

// flushPending hands held signals for room to a handle that just joined.
func (h *Hub) flushPending(room string, to *Client) {
	frames := h.pending[room]
	if len(frames) == 0 {
		return
	}
	delete(h.pending, room)

	now := h.now()
	var keep []pendingFrame
	for _, f := range frames {
		switch {
		case !f.expires.After(now):
			metrics.SignalsDropped.WithLabelValues("expired").Inc()
		case f.from == to.id:
			keep = append(keep, f)
		default:
			if to.deliver(f.frame) {
				metrics.SignalsRelayed.WithLabelValues("held").Inc()
			}
		}
	}
	if len(keep) > 0 {
		h.pending[room] = keep
	}
}

func (h *Hub) expirePending() {
	now := h.now()
	for room, frames := range h.pending {
		live := frames[:0]
		for _, f := range frames {
			if f.expires.After(now) {
				live = append(live, f)
			} else {
				metrics.SignalsDropped.WithLabelValues("expired").Inc()
			}
		}
		if len(live) == 0 {
			delete(h.pending, room)
		} else {
			h.pending[room] = live
		}
	}
}

func (h *Hub) dropPendingFrom(handleID string) {
	for room, frames := range h.pending {
		live := frames[:0]
		for _, f := range frames {
			if f.from != handleID {
				live = append(live, f)
			}
		}
		if len(live) == 0 {
			delete(h.pending, room)
		} else {
			h.pending[room] = live
		}
	}
}

func (h *Hub) updateRoomGauge() {
	metrics.RoomsActive.Set(float64(h.registry.Len()))
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		h.registry.LeaveAll(c)
		close(c.send)
		delete(h.clients, c)
		metrics.WSConnections.Dec()
	}
	h.updateRoomGauge()
	h.log.Info().Msg("relay stopped")
}
