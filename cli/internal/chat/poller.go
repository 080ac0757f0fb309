package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docease/telecare/internal/models"
)

// DefaultInterval is how often an open conversation is refreshed.
const DefaultInterval = 3 * time.Second

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoConversation = errors.New("no conversation is open")
)

// Fetcher reads the full history of an appointment, oldest first.
type Fetcher interface {
	Fetch(ctx context.Context, appointmentID, requesterID string) ([]models.Message, error)
}

// Sender writes one message.
type Sender interface {
	Send(ctx context.Context, msg models.NewMessage) (*models.Message, error)
}

// Conversation is the chat of one appointment with one counterpart.
type Conversation struct {
	AppointmentID string
	PeerID        string
}

// Poller keeps the displayed history of the open conversation in step with
// the server by fetching it on a fixed interval. Each fetch replaces the
// whole history. At most one conversation is polled at a time.
type Poller struct {
	fetcher  Fetcher
	sender   Sender
	self     string
	role     models.Role
	interval time.Duration

	// OnUpdate receives every applied history. OnError receives failed
	// polls and sends. Both are optional and called without locks held.
	OnUpdate func(conv Conversation, msgs []models.Message)
	OnError  func(err error)

	// switching serializes Open and Close.
	switching sync.Mutex

	mu      sync.Mutex
	conv    Conversation
	open    bool
	history []models.Message
	issued  uint64 // fetches started for conv
	applied uint64 // newest fetch applied
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a poller acting as participant self with role.
// A non-positive interval uses DefaultInterval.
func NewPoller(client interface {
	Fetcher
	Sender
}, self string, role models.Role, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		fetcher:  client,
		sender:   client,
		self:     self,
		role:     role,
		interval: interval,
	}
}

// Open selects conv: the previous polling loop is stopped and waited for,
// the history is fetched at once, then refreshed every interval until Close
// or the next Open.
func (p *Poller) Open(ctx context.Context, conv Conversation) {
	p.switching.Lock()
	defer p.switching.Unlock()

	p.stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.conv = conv
	p.open = true
	p.history = nil
	p.issued, p.applied = 0, 0
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.loop(loopCtx, conv, done)
}

// Close stops polling. Safe to call when nothing is open.
func (p *Poller) Close() {
	p.switching.Lock()
	defer p.switching.Unlock()
	p.stop()
}

// stop cancels the running loop and waits until it can no longer fetch.
func (p *Poller) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.open = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, conv Conversation, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refresh(ctx, conv)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refresh(ctx, conv)
		}
	}
}

// refresh fetches conv and applies the result if conv is still open and no
// newer fetch has been applied. A failure is reported and left to the next
// tick.
func (p *Poller) refresh(ctx context.Context, conv Conversation) error {
	p.mu.Lock()
	if !p.open || p.conv != conv {
		p.mu.Unlock()
		return ErrNoConversation
	}
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	msgs, err := p.fetcher.Fetch(ctx, conv.AppointmentID, p.self)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("appointment", conv.AppointmentID).Msg("poll failed")
		if p.OnError != nil {
			p.OnError(err)
		}
		return err
	}

	p.mu.Lock()
	if !p.open || p.conv != conv || seq <= p.applied || ctx.Err() != nil {
		p.mu.Unlock()
		return nil
	}
	p.applied = seq
	p.history = msgs
	p.mu.Unlock()

	if p.OnUpdate != nil {
		p.OnUpdate(conv, msgs)
	}
	return nil
}

// Send writes text to the open conversation and refreshes the history
// right away so the sender sees it without waiting for the next tick. On
// failure nothing is added to the history.
func (p *Poller) Send(ctx context.Context, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	p.mu.Lock()
	conv, open := p.conv, p.open
	p.mu.Unlock()
	if !open {
		return nil, ErrNoConversation
	}

	msg, err := p.sender.Send(ctx, models.NewMessage{
		AppointmentID: conv.AppointmentID,
		SenderID:      p.self,
		SenderRole:    p.role,
		RecipientID:   conv.PeerID,
		Text:          text,
	})
	if err != nil {
		if p.OnError != nil {
			p.OnError(err)
		}
		return nil, err
	}

	if err := p.refresh(ctx, conv); err != nil && !errors.Is(err, ErrNoConversation) {
		log.Debug().Err(err).Msg("refresh after send failed")
	}
	return msg, nil
}

// History returns the last applied history of the open conversation.
func (p *Poller) History() []models.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Message(nil), p.history...)
}

// Active returns the open conversation.
func (p *Poller) Active() (Conversation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conv, p.open
}
