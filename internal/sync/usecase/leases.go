package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/sync/domain/repository"
)

// LeaseKey is the lease key serializing runs of one config on one instance
func LeaseKey(instanceID, configID string) string {
	return "consolidation:" + instanceID + ":" + configID
}

type localLease struct {
	token     string
	expiresAt time.Time
}

// LocalLeaseManager is an in-process lease table. Expired leases can be
// taken over so a crashed run cannot block a key forever.
type LocalLeaseManager struct {
	leases *xsync.MapOf[string, localLease]
	now    func() time.Time
}

func NewLocalLeaseManager() *LocalLeaseManager {
	return &LocalLeaseManager{
		leases: xsync.NewMapOf[string, localLease](),
		now:    time.Now,
	}
}

// TryAcquire takes key for ttl, or forever when ttl <= 0
func (m *LocalLeaseManager) TryAcquire(_ context.Context, key string, ttl time.Duration) (repository.Lease, error) {
	now := m.now()
	expiresAt := time.Time{}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	token := uuid.NewString()

	acquired := false
	m.leases.Compute(key, func(current localLease, loaded bool) (localLease, bool) {
		if loaded && (current.expiresAt.IsZero() || now.Before(current.expiresAt)) {
			return current, false
		}
		acquired = true
		return localLease{token: token, expiresAt: expiresAt}, false
	})
	if !acquired {
		return nil, errors.NewLeaseHeldError(key)
	}
	return &heldLocalLease{manager: m, key: key, token: token}, nil
}

// Held reports whether key is currently leased
func (m *LocalLeaseManager) Held(key string) bool {
	current, ok := m.leases.Load(key)
	return ok && (current.expiresAt.IsZero() || m.now().Before(current.expiresAt))
}

type heldLocalLease struct {
	manager *LocalLeaseManager
	key     string
	token   string
}

// Extend pushes the expiry out to now+ttl while this holder still owns an
// unexpired lease
func (l *heldLocalLease) Extend(_ context.Context, ttl time.Duration) error {
	now := l.manager.now()
	expiresAt := time.Time{}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	extended := false
	l.manager.leases.Compute(l.key, func(current localLease, loaded bool) (localLease, bool) {
		if !loaded {
			return current, true
		}
		if current.token != l.token || (!current.expiresAt.IsZero() && !now.Before(current.expiresAt)) {
			return current, false
		}
		extended = true
		return localLease{token: l.token, expiresAt: expiresAt}, false
	})
	if !extended {
		return errors.NewLeaseLostError(l.key)
	}
	return nil
}

// Release drops the lease if this holder still owns it
func (l *heldLocalLease) Release(context.Context) error {
	l.manager.leases.Compute(l.key, func(current localLease, loaded bool) (localLease, bool) {
		return current, !loaded || current.token == l.token
	})
	return nil
}
