package order

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// Sequencer hands out strictly increasing values.
type Sequencer interface {
	Next(ctx context.Context) (int64, error)
}

// LocalSequencer is an in-process counter. It is seeded from the clock so a
// restarted process does not reuse the previous run's values; cross-process
// collisions are still caught by the repository's unique index.
type LocalSequencer struct {
	n atomic.Int64
}

func NewLocalSequencer(seed int64) *LocalSequencer {
	s := &LocalSequencer{}
	s.n.Store(seed)
	return s
}

func (s *LocalSequencer) Next(context.Context) (int64, error) {
	return s.n.Add(1), nil
}

// RedisSequencer uses INCR on a shared key so every order-service replica
// draws from the same sequence.
type RedisSequencer struct {
	Client *redis.Client
	Key    string
}

func NewRedisSequencer(client *redis.Client, key string) *RedisSequencer {
	if key == "" {
		key = "hyperlocal:order:seq"
	}
	return &RedisSequencer{Client: client, Key: key}
}

func (s *RedisSequencer) Next(ctx context.Context) (int64, error) {
	n, err := s.Client.Incr(ctx, s.Key).Result()
	if err != nil {
		return 0, &UpstreamUnavailableError{Service: "sequence store", Err: err}
	}
	return n, nil
}

// NumberGenerator composes "ORD" + UTC timestamp + sequence, e.g.
// ORD2026031510300400000042.
type NumberGenerator struct {
	Seq Sequencer
	Now func() time.Time
}

func (g NumberGenerator) Next(ctx context.Context) (string, error) {
	n, err := g.Seq.Next(ctx)
	if err != nil {
		return "", err
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	return fmt.Sprintf("ORD%s%08d", now().UTC().Format("20060102150405"), n%100000000), nil
}
