// internal/services/event_dedup_test.go
package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRedisDeduplicator(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	dedup := NewEventDeduplicator(rdb, "webhook")

	assert.False(t, dedup.Seen(ctx, "evt_1"))
	dedup.MarkProcessed(ctx, "evt_1")
	assert.True(t, dedup.Seen(ctx, "evt_1"))
	assert.False(t, dedup.Seen(ctx, "evt_2"))

	assert.True(t, mr.Exists("dedup:webhook:evt_1"))
	assert.Equal(t, ttlEventDedup, mr.TTL("dedup:webhook:evt_1"))

	mr.FastForward(ttlEventDedup + time.Second)
	assert.False(t, dedup.Seen(ctx, "evt_1"))
}

func TestRedisDeduplicatorFailsOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	dedup := NewEventDeduplicator(rdb, "webhook")
	dedup.MarkProcessed(ctx, "evt_1")

	mr.Close()
	assert.False(t, dedup.Seen(ctx, "evt_1"))
}

func TestNoopDeduplicator(t *testing.T) {
	dedup := NewEventDeduplicator(nil, "webhook")
	dedup.MarkProcessed(context.Background(), "evt_1")
	assert.False(t, dedup.Seen(context.Background(), "evt_1"))
}

func TestDuplicateWebhookIsSkipped(t *testing.T) {
	suite := new(ReconciliationTestSuite)
	suite.SetT(t)
	suite.SetupTest()

	_, rdb := newTestRedis(t)
	suite.engine.dedup = NewEventDeduplicator(rdb, "webhook")

	payload := suite.checkoutPayload("evt_checkout", 1700000100)
	outcome, err := suite.engine.HandleEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = suite.engine.HandleEvent(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}
