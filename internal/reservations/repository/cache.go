package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	reservationserrors "rsvp/internal/reservations/errors"
	"rsvp/pkg/model"

	"github.com/redis/go-redis/v9"
)

const defaultCachePrefix = "rsvp:capacity:"

// SnapshotCache fronts the public capacity read path. Put never replaces an
// entry with an older or equal version.
type SnapshotCache interface {
	Get(ctx context.Context, eventID string) (*model.CapacitySnapshot, error)
	Put(ctx context.Context, snapshot *model.CapacitySnapshot) error
}

// putIfNewer keeps the entry monotone in version across concurrent writers.
var putIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'snapshot', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type redisSnapshotCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type CacheOption func(*redisSnapshotCache)

func WithCachePrefix(prefix string) CacheOption {
	return func(c *redisSnapshotCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func NewRedisSnapshotCache(rdb *redis.Client, ttl time.Duration, opts ...CacheOption) SnapshotCache {
	c := &redisSnapshotCache{rdb: rdb, prefix: defaultCachePrefix, ttl: ttl}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *redisSnapshotCache) key(eventID string) string {
	return c.prefix + eventID
}

func (c *redisSnapshotCache) Get(ctx context.Context, eventID string) (*model.CapacitySnapshot, error) {
	raw, err := c.rdb.HGet(ctx, c.key(eventID), "snapshot").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, reservationserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read capacity cache: %w", err)
	}

	var snapshot model.CapacitySnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode cached capacity: %w", err)
	}
	return &snapshot, nil
}

func (c *redisSnapshotCache) Put(ctx context.Context, snapshot *model.CapacitySnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode capacity: %w", err)
	}

	keys := []string{c.key(snapshot.EventID)}
	err = putIfNewer.Run(ctx, c.rdb, keys,
		strconv.FormatInt(snapshot.Version, 10),
		payload,
		c.ttl.Milliseconds(),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to write capacity cache: %w", err)
	}
	return nil
}
