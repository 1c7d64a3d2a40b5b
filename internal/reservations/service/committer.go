package service

import (
	"context"
	"time"

	"rsvp/internal/reservations/repository"
	"rsvp/pkg/broadcast"
	"rsvp/pkg/logger"
	"rsvp/pkg/model"
)

const cacheWriteTimeout = 500 * time.Millisecond

// committer runs the side effects of a durable snapshot change.
type committer struct {
	cache       repository.SnapshotCache
	broadcaster broadcast.Broadcaster
	log         *logger.Logger
}

func newCommitter(cache repository.SnapshotCache, broadcaster broadcast.Broadcaster, log *logger.Logger) *committer {
	if broadcaster == nil {
		broadcaster = broadcast.Fanout(nil)
	}
	return &committer{cache: cache, broadcaster: broadcaster, log: log}
}

// afterCommit refreshes the read cache and hands the fact to the broadcaster.
// It must only be called once the snapshot is durable, and it is not cut
// short by the caller going away.
func (c *committer) afterCommit(ctx context.Context, snapshot *model.CapacitySnapshot) {
	c.fillCache(ctx, snapshot)
	c.broadcaster.Publish(context.WithoutCancel(ctx), snapshot.Fact())
}

// fillCache is best effort; a failed write leaves the previous entry to
// expire on its TTL.
func (c *committer) fillCache(ctx context.Context, snapshot *model.CapacitySnapshot) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := c.cache.Put(ctx, snapshot); err != nil {
		c.log.Warn("Failed to update capacity cache",
			"event_id", snapshot.EventID,
			"version", snapshot.Version,
			"error", err,
		)
	}
}
