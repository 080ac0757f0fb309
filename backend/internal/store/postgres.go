package store

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docease/telecare/internal/models"
)

// PostgresStore persists messages in PostgreSQL through a connection pool.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock *Clock

	// appendMu keeps timestamp order and seq order identical.
	appendMu sync.Mutex
}

// NewPostgresStore connects to databaseURL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool, clock: NewClock()}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT UNIQUE NOT NULL,
			appointment_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_appointment ON messages(appointment_id, created_at, seq);
	`)
	if err != nil {
		return err
	}

	var latest *time.Time
	if err := s.pool.QueryRow(ctx, `SELECT MAX(created_at) FROM messages`).Scan(&latest); err != nil {
		return err
	}
	if latest != nil {
		s.clock.Observe(*latest)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	at := s.clock.Stamp()
	msg := &models.Message{
		ID:            newID(at),
		AppointmentID: in.AppointmentID,
		SenderID:      in.SenderID,
		SenderRole:    in.SenderRole,
		RecipientID:   in.RecipientID,
		Text:          in.Text,
		CreatedAt:     at,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, sender_role, recipient_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, msg.ID, msg.AppointmentID, msg.SenderID, string(msg.SenderRole), msg.RecipientID, msg.Text, at).Scan(&msg.Seq)
	if err != nil {
		return nil, unavailable("append", err)
	}
	return msg, nil
}

func (s *PostgresStore) ListByAppointment(ctx context.Context, appointmentID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, appointment_id, sender_id, sender_role, recipient_id, text, created_at
		FROM messages
		WHERE appointment_id = $1
		ORDER BY created_at ASC, seq ASC
	`, appointmentID)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m    models.Message
			role string
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.AppointmentID, &m.SenderID, &role, &m.RecipientID, &m.Text, &m.CreatedAt); err != nil {
			return nil, unavailable("list", err)
		}
		m.SenderRole = models.Role(role)
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return msgs, nil
}
