package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/domain/model"
)

// createTestRedisClient connects to a local Redis, skipping the test when
// none is reachable
func createTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:         "localhost:6379",
		DB:           15,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing:", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedisTrackerLog_RoundTrip(t *testing.T) {
	client := createTestRedisClient(t)
	ctx := context.Background()
	cfg := testConfig()
	store := NewRedisTrackerLog(client, "test", logger.NewNopLogger())
	client.Del(ctx, store.StreamKey(cfg))

	balance := model.Decimal(mustDecimal(t, "1000000000000000000.01"))
	require.NoError(t, store.Append(ctx, cfg, record(model.ChangeTypeCreated, "a", time.Minute, map[string]model.Value{
		"email":   model.String("a@b.com"),
		"balance": balance,
		"tags":    model.Array([]model.Value{model.String("x")}),
	})))
	require.NoError(t, store.Append(ctx, cfg, record(model.ChangeTypeDeleted, "a", 3*time.Minute, nil)))
	require.NoError(t, store.Append(ctx, cfg, record(model.ChangeTypeUpdated, "b", 2*time.Minute, map[string]model.Value{
		"email": model.Null,
	})))

	window, err := store.Window(ctx, cfg, base, base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "a", window[0].DocumentID)
	assert.Equal(t, base.Add(time.Minute), window[0].Timestamp)
	assert.True(t, balance.Equal(window[0].Values["balance"]))
	assert.Equal(t, model.ChangeTypeUpdated, window[1].ChangeType)
	assert.True(t, window[1].Values["email"].IsNull())

	history, err := store.History(ctx, cfg, []string{"a"}, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ChangeTypeDeleted, history[1].ChangeType)
	assert.Empty(t, history[1].Values)

	// entries arrived just now, so a past cutoff keeps them all
	removed, err := store.Trim(ctx, cfg, base)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = store.Trim(ctx, cfg, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
}

func TestRedisLeaseManager(t *testing.T) {
	client := createTestRedisClient(t)
	ctx := context.Background()
	leases := NewRedisLeaseManager(client, "test")

	lease, err := leases.TryAcquire(ctx, "consolidation:i1:users", time.Minute)
	require.NoError(t, err)

	_, err = leases.TryAcquire(ctx, "consolidation:i1:users", time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsLeaseHeld(err))

	require.NoError(t, lease.Release(ctx))

	again, err := leases.TryAcquire(ctx, "consolidation:i1:users", time.Minute)
	require.NoError(t, err)

	// a released lease does not remove its successor
	require.NoError(t, lease.Release(ctx))
	_, err = leases.TryAcquire(ctx, "consolidation:i1:users", time.Minute)
	assert.True(t, errors.IsLeaseHeld(err))

	require.NoError(t, again.Release(ctx))
}
