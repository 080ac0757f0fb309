package store

import (
	"context"
	"sync"

	"github.com/docease/telecare/internal/models"
)

// MemoryStore keeps messages in process memory. Used for development and
// tests; everything is lost on restart.
type MemoryStore struct {
	clock *Clock

	mu     sync.RWMutex
	seq    int64
	byAppt map[string][]models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clock:  NewClock(),
		byAppt: make(map[string][]models.Message),
	}
}

func (s *MemoryStore) Append(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	at := s.clock.Stamp()
	msg := models.Message{
		ID:            newID(at),
		AppointmentID: in.AppointmentID,
		SenderID:      in.SenderID,
		SenderRole:    in.SenderRole,
		RecipientID:   in.RecipientID,
		Text:          in.Text,
		CreatedAt:     at,
		Seq:           s.seq,
	}
	s.byAppt[in.AppointmentID] = append(s.byAppt[in.AppointmentID], msg)
	return &msg, nil
}

func (s *MemoryStore) ListByAppointment(ctx context.Context, appointmentID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byAppt[appointmentID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
