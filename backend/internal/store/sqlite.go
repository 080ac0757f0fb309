package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/docease/telecare/internal/models"
)

// SQLiteStore persists messages in a local SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	clock *Clock

	// appendMu keeps timestamp order and seq order identical.
	appendMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// If dbPath is empty, defaults to "./data/telecare.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/telecare.db"
	}

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer keeps seq assignment and the clock floor in step.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, clock: NewClock()}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	var latest sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages`).Scan(&latest); err != nil {
		db.Close()
		return nil, err
	}
	if latest.Valid {
		s.clock.Observe(time.UnixMilli(latest.Int64))
	}

	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT UNIQUE NOT NULL,
		appointment_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_appointment ON messages(appointment_id, created_at, seq);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Append inserts a message and returns it with its assigned seq.
func (s *SQLiteStore) Append(ctx context.Context, in models.NewMessage) (*models.Message, error) {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, appointment_id, sender_id, sender_role, recipient_id, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.AppointmentID, msg.SenderID, string(msg.SenderRole), msg.RecipientID, msg.Text, at.UnixMilli())
	if err != nil {
		return nil, unavailable("append", err)
	}
	if msg.Seq, err = res.LastInsertId(); err != nil {
		return nil, unavailable("append", err)
	}
	return msg, nil
}

// ListByAppointment returns the appointment's messages oldest first.
func (s *SQLiteStore) ListByAppointment(ctx context.Context, appointmentID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, appointment_id, sender_id, sender_role, recipient_id, text, created_at
		FROM messages
		WHERE appointment_id = ?
		ORDER BY created_at ASC, seq ASC
	`, appointmentID)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			m       models.Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.Seq, &m.ID, &m.AppointmentID, &m.SenderID, &role, &m.RecipientID, &m.Text, &created); err != nil {
			return nil, unavailable("list", err)
		}
		m.SenderRole = models.Role(role)
		m.CreatedAt = time.UnixMilli(created).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return msgs, nil
}
