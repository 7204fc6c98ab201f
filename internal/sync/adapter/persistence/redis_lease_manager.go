package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"firestore-sync/internal/shared/errors"
	"firestore-sync/internal/sync/domain/repository"
)

// releaseScript deletes the lease only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the lease only while it still holds our token.
// ARGV[2] is the ttl in milliseconds; 0 removes the expiry.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	redis.call("PERSIST", KEYS[1])
end
return 1
`)

// RedisLeaseManager hands out leases shared by every process using the same
// Redis, so only one instance consolidates a config at a time
type RedisLeaseManager struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisLeaseManager(client *redis.Client, keyPrefix string) *RedisLeaseManager {
	return &RedisLeaseManager{client: client, keyPrefix: keyPrefix}
}

func (m *RedisLeaseManager) redisKey(key string) string {
	if m.keyPrefix == "" {
		return "lease:" + key
	}
	return m.keyPrefix + ":lease:" + key
}

// TryAcquire sets the lease key if absent; ttl <= 0 means no expiry
func (m *RedisLeaseManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (repository.Lease, error) {
	if ttl < 0 {
		ttl = 0
	}
	token := uuid.NewString()
	redisKey := m.redisKey(key)

	ok, err := m.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, errors.NewInfrastructureError("failed to acquire lease").WithCause(err).WithDetail("key", key)
	}
	if !ok {
		return nil, errors.NewLeaseHeldError(key)
	}
	return &redisLease{client: m.client, key: redisKey, name: key, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	name   string
	token  string
}

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return errors.NewInfrastructureError("failed to extend lease").WithCause(err).WithDetail("key", l.name)
	}
	if ok == 0 {
		return errors.NewLeaseLostError(l.name)
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
