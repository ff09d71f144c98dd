package idempotency

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "\x00pending"

type State int

const (
	// Started means the caller now owns the key and must Complete or Abandon it.
	Started State = iota
	InFlight
	Done
)

type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, prefix: "idem:"}
}

// EventKey names an audit event handled by a consumer group. Events are keyed
// by seq rather than offset because the relay may publish an event twice.
func (s *Store) EventKey(group string, seq int64) string {
	return s.prefix + "event:" + group + ":" + strconv.FormatInt(seq, 10)
}

// Handled reports whether key was marked by MarkHandled.
func (s *Store) Handled(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkHandled records key once its event has been processed.
func (s *Store) MarkHandled(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}

// Begin claims key for a request. When the key was already used it returns
// InFlight while the first request is still running, or Done with the
// recorded result.
func (s *Store) Begin(ctx context.Context, key string) (State, []byte, error) {
	k := s.prefix + "http:" + key
	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return 0, nil, err
	}
	if ok {
		return Started, nil, nil
	}
	v, err := s.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; try once more.
		return s.Begin(ctx, key)
	}
	if err != nil {
		return 0, nil, err
	}
	if string(v) == pendingMarker {
		return InFlight, nil, nil
	}
	return Done, v, nil
}

func (s *Store) Complete(ctx context.Context, key string, result []byte) error {
	return s.rdb.Set(ctx, s.prefix+"http:"+key, result, s.ttl).Err()
}

// Abandon frees key so the client may retry with it.
func (s *Store) Abandon(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+"http:"+key).Err()
}
