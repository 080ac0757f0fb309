package store

import (
	"context"
	"fmt"
	"time"

	"github.com/docease/telecare/backend/internal/metrics"
	"github.com/docease/telecare/internal/models"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Open builds the store for driver. dsn is the file path for sqlite and
// the connection URL for postgres and redis; memory ignores it.
// The returned store records per-operation latency.
func Open(ctx context.Context, driver, dsn string) (MessageStore, error) {
	var (
		s   MessageStore
		err error
	)
	switch driver {
	case "", DriverMemory:
		s = NewMemoryStore()
	case DriverSQLite:
		s, err = NewSQLiteStore(ctx, dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires DATABASE_URL")
		}
		s, err = NewPostgresStore(ctx, dsn)
	case DriverRedis:
		if dsn == "" {
			return nil, fmt.Errorf("redis driver requires REDIS_URL")
		}
		s, err = NewRedisStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return Instrument(s), nil
}

type instrumented struct {
	MessageStore
}

// Instrument wraps s so each call is observed in the store latency histogram.
func Instrument(s MessageStore) MessageStore {
	return instrumented{s}
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s instrumented) Append(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	defer observe("append", time.Now())
	return s.MessageStore.Append(ctx, in)
}

func (s instrumented) ListByAppointment(ctx context.Context, appointmentID string) ([]models.Message, error) {
	defer observe("list", time.Now())
	return s.MessageStore.ListByAppointment(ctx, appointmentID)
}

func (s instrumented) Ping(ctx context.Context) error {
	defer observe("ping", time.Now())
	return s.MessageStore.Ping(ctx)
}
