package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/errors"
)

func TestLocalLeaseManager_Exclusive(t *testing.T) {
	m := NewLocalLeaseManager()
	ctx := context.Background()
	key := LeaseKey("i1", "users")
	assert.Equal(t, "consolidation:i1:users", key)

	lease, err := m.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, m.Held(key))

	_, err = m.TryAcquire(ctx, key, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsLeaseHeld(err))

	// other keys are independent
	other, err := m.TryAcquire(ctx, LeaseKey("i1", "orders"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	assert.False(t, m.Held(key))

	again, err := m.TryAcquire(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalLeaseManager_ExpiredLeaseIsTakenOver(t *testing.T) {
	m := NewLocalLeaseManager()
	clock := &fakeClock{now: t0}
	m.now = clock.Now
	ctx := context.Background()

	stale, err := m.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	assert.False(t, m.Held("k"))

	fresh, err := m.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// the stale holder must not release the new lease
	require.NoError(t, stale.Release(ctx))
	assert.True(t, m.Held("k"))

	require.NoError(t, fresh.Release(ctx))
	assert.False(t, m.Held("k"))
}

func TestLocalLeaseManager_NoTTL(t *testing.T) {
	m := NewLocalLeaseManager()
	clock := &fakeClock{now: t0}
	m.now = clock.Now

	_, err := m.TryAcquire(context.Background(), "k", 0)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	assert.True(t, m.Held("k"))
}

func TestLocalLeaseManager_Extend(t *testing.T) {
	m := NewLocalLeaseManager()
	clock := &fakeClock{now: t0}
	m.now = clock.Now
	ctx := context.Background()

	lease, err := m.TryAcquire(ctx, "k", 10*time.Minute)
	require.NoError(t, err)

	clock.Advance(8 * time.Minute)
	require.NoError(t, lease.Extend(ctx, 10*time.Minute))

	clock.Advance(8 * time.Minute)
	assert.True(t, m.Held("k"), "extension keeps the lease past the original ttl")
	_, err = m.TryAcquire(ctx, "k", time.Minute)
	assert.True(t, errors.IsLeaseHeld(err))

	require.NoError(t, lease.Release(ctx))
	err = lease.Extend(ctx, time.Minute)
	assert.True(t, errors.IsLeaseLost(err), "a released lease cannot be extended")
}

func TestLocalLeaseManager_ExtendAfterExpiry(t *testing.T) {
	m := NewLocalLeaseManager()
	clock := &fakeClock{now: t0}
	m.now = clock.Now
	ctx := context.Background()

	stale, err := m.TryAcquire(ctx, "k", 10*time.Minute)
	require.NoError(t, err)

	// expired but not yet taken over
	clock.Advance(11 * time.Minute)
	assert.True(t, errors.IsLeaseLost(stale.Extend(ctx, 10*time.Minute)))

	rival, err := m.TryAcquire(ctx, "k", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, errors.IsLeaseLost(stale.Extend(ctx, 10*time.Minute)))
	require.NoError(t, rival.Extend(ctx, 10*time.Minute))
}
