// internal/services/event_dedup.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// dedup:{source}:{event_id}
	keyEventDedup = "dedup:%s:%s"
	ttlEventDedup = 48 * time.Hour
)

// EventDeduplicator remembers processed webhook event ids. It is an
// optimization on top of idempotent writes, so lookups fail open.
type EventDeduplicator interface {
	Seen(ctx context.Context, eventID string) bool
	MarkProcessed(ctx context.Context, eventID string)
}

type redisDeduplicator struct {
	rdb    *redis.Client
	source string
}

// NewEventDeduplicator returns a Redis-backed deduplicator, or a no-op one
// when rdb is nil.
func NewEventDeduplicator(rdb *redis.Client, source string) EventDeduplicator {
	if rdb == nil {
		return noopDeduplicator{}
	}
	return &redisDeduplicator{rdb: rdb, source: source}
}

func (d *redisDeduplicator) key(eventID string) string {
	return fmt.Sprintf(keyEventDedup, d.source, eventID)
}

func (d *redisDeduplicator) Seen(ctx context.Context, eventID string) bool {
	n, err := d.rdb.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		logrus.WithError(err).WithField("event_id", eventID).Warn("Dedup lookup failed, processing event")
		return false
	}
	return n > 0
}

func (d *redisDeduplicator) MarkProcessed(ctx context.Context, eventID string) {
	if err := d.rdb.Set(ctx, d.key(eventID), "1", ttlEventDedup).Err(); err != nil {
		logrus.WithError(err).WithField("event_id", eventID).Warn("Failed to record processed event")
	}
}

type noopDeduplicator struct{}

func (noopDeduplicator) Seen(context.Context, string) bool { return false }

func (noopDeduplicator) MarkProcessed(context.Context, string) {}
