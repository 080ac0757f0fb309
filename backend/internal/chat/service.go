package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/docease/telecare/backend/internal/metrics"
	"github.com/docease/telecare/backend/internal/store"
	"github.com/docease/telecare/internal/models"
)

var (
	// ErrParticipantMismatch is returned when a message names a sender or
	// recipient outside the pair already chatting on the appointment.
	ErrParticipantMismatch = errors.New("appointment chat belongs to other participants")

	// ErrNotParticipant is returned when someone outside the pair asks for
	// the history.
	ErrNotParticipant = errors.New("requester is not a participant of this appointment")
)

// SendRequest is one chat message as submitted by a participant.
type SendRequest struct {
	AppointmentID string
	SenderID      string
	SenderRole    models.Role
	RecipientID   string
	Text          string
}

// Service is the chat API core: it validates messages, keeps each
// appointment's conversation between one pair of identifiers and writes
// through to the store.
type Service struct {
	store store.MessageStore
	log   zerolog.Logger

	// mu serializes the pair check with the append that follows it.
	mu sync.Mutex
}

func NewService(s store.MessageStore, logger zerolog.Logger) *Service {
	return &Service{
		store: s,
		log:   logger.With().Str("component", "chat").Logger(),
	}
}

// Send stores a message. The first message of an appointment fixes its
// participant pair; later messages must use the same two identifiers in
// either direction.
func (s *Service) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	in := models.NewMessage{
		AppointmentID: req.AppointmentID,
		SenderID:      req.SenderID,
		SenderRole:    req.SenderRole,
		RecipientID:   req.RecipientID,
		Text:          req.Text,
	}
	if err := store.Validate(in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.store.ListByAppointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		first := history[0]
		if !samePair(first.SenderID, first.RecipientID, req.SenderID, req.RecipientID) {
			s.log.Warn().
				Str("appointment", req.AppointmentID).
				Str("sender", req.SenderID).
				Str("recipient", req.RecipientID).
				Msg("participant mismatch")
			return nil, ErrParticipantMismatch
		}
	}

	msg, err := s.store.Append(ctx, in)
	if err != nil {
		return nil, err
	}
	metrics.ChatMessages.WithLabelValues(string(msg.SenderRole)).Inc()
	s.log.Debug().Str("appointment", msg.AppointmentID).Str("id", msg.ID).Msg("message stored")
	return msg, nil
}

// List returns the appointment's history oldest first. A non-empty
// requesterID must belong to the appointment's pair once it has messages.
func (s *Service) List(ctx context.Context, appointmentID, requesterID string) ([]models.Message, error) {
	if appointmentID == "" {
		return nil, store.ErrMissingField
	}
	msgs, err := s.store.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if requesterID != "" && len(msgs) > 0 {
		first := msgs[0]
		if requesterID != first.SenderID && requesterID != first.RecipientID {
			return nil, ErrNotParticipant
		}
	}
	return msgs, nil
}

// Pair returns the two identifiers the appointment's chat is bound to. ok
// is false while the appointment has no messages. It lets the relay admit
// only the same two participants to the appointment's call.
func (s *Service) Pair(ctx context.Context, appointmentID string) (string, string, bool, error) {
	msgs, err := s.store.ListByAppointment(ctx, appointmentID)
	if err != nil || len(msgs) == 0 {
		return "", "", false, err
	}
	return msgs[0].SenderID, msgs[0].RecipientID, true, nil
}

// Ping reports whether the underlying store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func samePair(a, b, x, y string) bool {
	return (a == x && b == y) || (a == y && b == x)
}
