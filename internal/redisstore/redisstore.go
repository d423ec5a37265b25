// Package redisstore keeps payment idempotency records in Redis so that
// replays survive restarts and are shared between service instances.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/order-saga/internal/payment"
)

// KeyIdempotency is the key layout for gateway outcomes:
// idem:payment:{op}:{idempotency_key}.
const KeyIdempotency = "idem:payment:%s"

var _ payment.IdempotencyStore = (*Store)(nil)

// Store is a payment.IdempotencyStore backed by Redis.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// New returns a Store whose records expire after ttl. A non-positive ttl
// selects payment.DefaultIdempotencyTTL.
func New(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = payment.DefaultIdempotencyTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// NewClient connects to the Redis server at addr, which is either a
// host:port pair or a redis:// URL.
func NewClient(addr string) *redis.Client {
	opts := &redis.Options{Addr: addr}
	if u, err := redis.ParseURL(addr); err == nil {
		opts = u
	}
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	return redis.NewClient(opts)
}

func key(k string) string {
	return fmt.Sprintf(KeyIdempotency, k)
}

func (s *Store) Get(ctx context.Context, k string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", k)
	}
	return v, true, nil
}

// Put stores value unless a record for k already exists; the first
// remembered outcome wins.
func (s *Store) Put(ctx context.Context, k string, value []byte) error {
	if err := s.rdb.SetNX(ctx, key(k), value, s.ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %s", k)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}
	return nil
}
