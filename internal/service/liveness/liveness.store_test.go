package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, client
}

func TestRedisStore_TouchAndLastSeen(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	store := NewRedisStore(client, clock)

	_, found, err := store.LastSeen(ctx, entity.ComponentFeedReceiver)
	require.NoError(t, err)
	assert.False(t, found, "heartbeat should be absent before the first touch")

	require.NoError(t, store.Touch(ctx, entity.ComponentFeedReceiver))

	lastSeen, found, err := store.LastSeen(ctx, entity.ComponentFeedReceiver)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, now.Equal(lastSeen))

	clock.Advance(45 * time.Second)
	require.NoError(t, store.Touch(ctx, entity.ComponentFeedReceiver))

	lastSeen, _, err = store.LastSeen(ctx, entity.ComponentFeedReceiver)
	require.NoError(t, err)
	assert.True(t, now.Add(45*time.Second).Equal(lastSeen))
}

func TestRedisStore_HeartbeatsAreIsolatedPerComponent(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	store := NewRedisStore(client, clockwork.NewFakeClock())

	require.NoError(t, store.Touch(ctx, entity.ComponentFeedDistributor))

	_, found, err := store.LastSeen(ctx, entity.ComponentFeedReceiver)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.ClearHeartbeat(ctx, entity.ComponentFeedDistributor))
	_, found, err = store.LastSeen(ctx, entity.ComponentFeedDistributor)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_UnreadableHeartbeatIsAbsent(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisStore(client, clockwork.NewFakeClock())

	require.NoError(t, mr.Set(constant.GetHeartbeatKey(entity.ComponentFeedReceiver.String()), "not-a-number"))

	_, found, err := store.LastSeen(context.Background(), entity.ComponentFeedReceiver)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_RunID(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	store := NewRedisStore(client, nil)

	_, found, err := store.GetRunID(ctx, entity.ComponentFeedDistributor)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SetRunID(ctx, entity.ComponentFeedDistributor, "run-1"))
	require.NoError(t, store.SetRunID(ctx, entity.ComponentFeedDistributor, "run-2"))

	runID, found, err := store.GetRunID(ctx, entity.ComponentFeedDistributor)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "run-2", runID)
}
