// Package dedup remembers which picks have already been published so the
// same opportunity is never sent twice, and persists the feed cursor across
// restarts.
//
// Storage is two-level: a small in-process TTL cache absorbs the repeat
// lookups that happen within one polling burst, and Redis holds the
// authoritative set shared across restarts. A local hit answers "seen"
// immediately, but recording always writes through to Redis so the
// authoritative set stays complete.
//
// Keys are exact strings. There are no probabilistic structures here: a
// false positive would silently suppress a profitable pick, which is worse
// than the memory cost of exact keys with short TTLs.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"retador/internal/cache"
)

const (
	cursorKey = "retador:cursor"

	// opTimeout bounds every Redis round trip. The poll cycle runs on a
	// sub-second budget and a slow dedup check must not stall it.
	opTimeout = 100 * time.Millisecond

	minTTL = time.Second
)

// remote is the Redis-facing surface, narrowed so tests can substitute an
// in-memory fake.
type remote interface {
	ExistsAny(ctx context.Context, keys []string) (bool, error)
	SetAll(ctx context.Context, keys []string, ttl time.Duration) error
	SaveValue(ctx context.Context, key, value string) error
	LoadValue(ctx context.Context, key string) (string, error)
}

// Store is the duplicate memory and cursor checkpoint.
type Store struct {
	remote remote
	local  *cache.TTLCache
	logger *slog.Logger
}

// NewStore creates a store over the given Redis client. localCapacity
// bounds the in-process cache.
func NewStore(rdb redis.Cmdable, localCapacity int, logger *slog.Logger) *Store {
	return &Store{
		remote: redisRemote{rdb: rdb},
		local:  cache.NewTTLCache(localCapacity),
		logger: logger.With("component", "dedup"),
	}
}

func newStoreWithRemote(r remote, localCapacity int, logger *slog.Logger) *Store {
	return &Store{
		remote: r,
		local:  cache.NewTTLCache(localCapacity),
		logger: logger.With("component", "dedup"),
	}
}

// Seen reports whether any of the keys has been recorded. On a Redis
// failure it returns the error; the caller must treat that as "drop the
// pick", never as "not seen".
func (s *Store) Seen(ctx context.Context, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	for _, k := range keys {
		if s.local.Contains(k) {
			return true, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	found, err := s.remote.ExistsAny(ctx, keys)
	if err != nil {
		return false, fmt.Errorf("dedup membership query: %w", err)
	}
	return found, nil
}

// Record marks all keys as published for the given TTL. The Redis write is
// synchronous: a pick only counts as remembered once Redis confirms it.
// TTLs shorter than one second are clamped up.
func (s *Store) Record(ctx context.Context, keys []string, ttl time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	if ttl < minTTL {
		ttl = minTTL
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.remote.SetAll(ctx, keys, ttl); err != nil {
		return fmt.Errorf("dedup record: %w", err)
	}
	for _, k := range keys {
		s.local.Set(k, struct{}{}, ttl)
	}
	return nil
}

// SaveCursor checkpoints the feed cursor. Best effort from the caller's
// point of view: polling continues on the in-memory cursor either way.
func (s *Store) SaveCursor(ctx context.Context, cursor string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := s.remote.SaveValue(ctx, cursorKey, cursor); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// LoadCursor restores the checkpointed cursor, or "" when none exists.
func (s *Store) LoadCursor(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	v, err := s.remote.LoadValue(ctx, cursorKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return v, nil
}

// TTLUntil returns how long a published pick must stay remembered: until
// its event starts, with a one-second floor for events already underway.
func TTLUntil(eventTime, now time.Time) time.Duration {
	ttl := eventTime.Sub(now)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

// redisRemote implements remote over go-redis.
type redisRemote struct {
	rdb redis.Cmdable
}

func (r redisRemote) ExistsAny(ctx context.Context, keys []string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keys...).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r redisRemote) SetAll(ctx context.Context, keys []string, ttl time.Duration) error {
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.SetEx(ctx, k, "1", ttl)
		}
		return nil
	})
	return err
}

func (r redisRemote) SaveValue(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, key, value, 0).Err()
}

func (r redisRemote) LoadValue(ctx context.Context, key string) (string, error) {
	return r.rdb.Get(ctx, key).Result()
}
