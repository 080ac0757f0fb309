package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/docease/telecare/internal/models"
)

// MaxTextLength is the largest message body accepted, in bytes.
const MaxTextLength = 4096

var (
	ErrEmptyText    = errors.New("message text is empty")
	ErrTextTooLong  = fmt.Errorf("message text exceeds %d bytes", MaxTextLength)
	ErrMissingField = errors.New("sender, recipient and appointment are required")
	ErrInvalidRole  = errors.New("sender role must be user or doctor")
	ErrUnavailable  = errors.New("message store unavailable")
)

// MessageStore is the append-only chat log keyed by appointment.
// MemoryStore, SQLiteStore, PostgresStore and RedisStore implement it.
type MessageStore interface {
	// Append validates and stores a message, assigning its id, timestamp
	// and sequence number.
	Append(ctx context.Context, in models.NewMessage) (*models.Message, error)

	// ListByAppointment returns every message of the appointment, oldest
	// first. Ties on timestamp are ordered by insertion.
	ListByAppointment(ctx context.Context, appointmentID string) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// Validate checks an append request. Text is rejected when it is empty
// after trimming whitespace; the stored text is the original.
func Validate(in models.NewMessage) error {
	if in.SenderID == "" || in.RecipientID == "" || in.AppointmentID == "" {
		return ErrMissingField
	}
	if !in.SenderRole.Valid() {
		return ErrInvalidRole
	}
	if strings.TrimSpace(in.Text) == "" {
		return ErrEmptyText
	}
	if len(in.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}

// unavailable wraps a backend failure so callers can match ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Clock hands out creation timestamps that never go backwards, even if the
// wall clock does.
type Clock struct {
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewClock returns a Clock over time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Stamp returns max(now, previous stamp), truncated to milliseconds so it
// survives every backend's timestamp precision.
func (c *Clock) Stamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Millisecond)
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// Observe raises the floor to t, used when a store reopens existing data.
func (c *Clock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t.UTC()
	}
}

func newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}
