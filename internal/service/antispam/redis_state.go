package antispam

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"SigRelay/pkg/util"
)

// RedisState keeps anti-spam bookkeeping in Redis so concurrent workers
// share one view. Daily counters expire shortly after their UTC day
// ends; last-value keys keep a sliding TTL.
type RedisState struct {
	client   *redis.Client
	prefix   string
	valueTTL time.Duration
}

// RedisStateOption configures RedisState.
type RedisStateOption func(*RedisState)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) RedisStateOption {
	return func(s *RedisState) { s.prefix = prefix }
}

// WithValueTTL overrides how long last-seen indicator values persist.
func WithValueTTL(ttl time.Duration) RedisStateOption {
	return func(s *RedisState) { s.valueTTL = ttl }
}

func NewRedisState(client *redis.Client, opts ...RedisStateOption) *RedisState {
	s := &RedisState{
		client:   client,
		prefix:   "sigrelay:spam",
		valueTTL: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisState) wrap(kind, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, key)
}

func (s *RedisState) DailyCount(ctx context.Context, recipientID, symbol string, at time.Time) (int, error) {
	v, err := s.client.Get(ctx, s.wrap("count", countKey(recipientID, symbol, at))).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("daily count: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("daily count parse: %w", err)
	}
	return n, nil
}

func (s *RedisState) LastValue(ctx context.Context, recipientID, symbol, indicator string) (float64, bool, error) {
	v, err := s.client.Get(ctx, s.wrap("last", valueKey(recipientID, symbol, indicator))).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last value: %w", err)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false, fmt.Errorf("last value parse: %w", err)
	}
	return f, true, nil
}

func (s *RedisState) LastDelivery(ctx context.Context, recipientID string) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, s.wrap("sent", recipientID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last delivery: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last delivery parse: %w", err)
	}
	return at, true, nil
}

func (s *RedisState) RecordDelivery(ctx context.Context, recipientID, symbol, indicator string, value *float64, at time.Time) error {
	ck := s.wrap("count", countKey(recipientID, symbol, at))

	// one hour of grace so a cycle straddling midnight still reads its
	// own writes
	expireAt := util.NextUTCMidnight(at).Add(time.Hour)

	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, ck)
	pipe.ExpireAt(ctx, ck, expireAt)
	pipe.Set(ctx, s.wrap("sent", recipientID), at.Format(time.RFC3339Nano), s.valueTTL)
	if value != nil {
		lk := s.wrap("last", valueKey(recipientID, symbol, indicator))
		pipe.Set(ctx, lk, strconv.FormatFloat(*value, 'f', -1, 64), s.valueTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

var _ State = (*RedisState)(nil)
