package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/docease/telecare/internal/models"
)

const (
	seqKey    = "telecare:messages:seq"
	latestKey = "telecare:messages:latest"
)

// RedisStore keeps each appointment's messages in a sorted set scored by a
// global sequence counter. Members are msgpack-encoded messages.
type RedisStore struct {
	client *redis.Client
	clock  *Clock
	log    zerolog.Logger

	// appendMu keeps timestamp order and seq order identical.
	appendMu sync.Mutex
}

// NewRedisStore connects to redisURL. Warnings go to the logger carried
// by ctx, if any.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	s := &RedisStore{
		client: client,
		clock:  NewClock(),
		log:    zerolog.Ctx(ctx).With().Str("component", "redis-store").Logger(),
	}
	if err := s.seedClock(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// seedClock raises the clock floor to the newest stored message. Data
// written before latestKey existed is found by scanning each appointment's
// highest-scored member.
func (s *RedisStore) seedClock(ctx context.Context) error {
	ms, err := s.client.Get(ctx, latestKey).Int64()
	if err == nil {
		s.clock.Observe(time.UnixMilli(ms))
		return nil
	}
	if err != redis.Nil {
		return err
	}

	iter := s.client.Scan(ctx, 0, appointmentKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		members, err := s.client.ZRevRange(ctx, iter.Val(), 0, 0).Result()
		if err != nil {
			return err
		}
		for _, raw := range members {
			var m models.Message
			if err := msgpack.Unmarshal([]byte(raw), &m); err != nil {
				s.log.Warn().Err(err).Str("key", iter.Val()).Msg("undecodable message skipped")
				continue
			}
			s.clock.Observe(m.CreatedAt)
		}
	}
	return iter.Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// appointmentKey returns the key for an appointment's message sorted set.
func appointmentKey(appointmentID string) string {
	return fmt.Sprintf("telecare:appointment:%s:messages", appointmentID)
}

func (s *RedisStore) Append(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, unavailable("append", err)
	}

	at := s.clock.Stamp()
	msg := &models.Message{
		ID:            newID(at),
		AppointmentID: in.AppointmentID,
		SenderID:      in.SenderID,
		SenderRole:    in.SenderRole,
		RecipientID:   in.RecipientID,
		Text:          in.Text,
		CreatedAt:     at,
		Seq:           seq,
	}

	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, appointmentKey(in.AppointmentID), redis.Z{
		Score:  float64(seq),
		Member: data,
	})
	pipe.Set(ctx, latestKey, strconv.FormatInt(at.UnixMilli(), 10), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("append", err)
	}
	return msg, nil
}

// ListByAppointment returns the appointment's messages in sequence order.
func (s *RedisStore) ListByAppointment(ctx context.Context, appointmentID string) ([]models.Message, error) {
	members, err := s.client.ZRangeWithScores(ctx, appointmentKey(appointmentID), 0, -1).Result()
	if err != nil {
		return nil, unavailable("list", err)
	}

	msgs := make([]models.Message, 0, len(members))
	for _, z := range members {
		raw, _ := z.Member.(string)
		var m models.Message
		if err := msgpack.Unmarshal([]byte(raw), &m); err != nil {
			s.log.Warn().Err(err).
				Str("appointment_id", appointmentID).
				Int64("seq", int64(z.Score)).
				Msg("undecodable message skipped")
			continue
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	return msgs, nil
}
