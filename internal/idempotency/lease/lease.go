// Package lease provides the optional claim step taken before a webhook
// effect runs, so that two concurrent resumers of the same unprocessed
// event do not both execute it.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railzway-reports/internal/idempotency/domain"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const keyPrefix = "idempotency:lease:"

var (
	ErrNotConfigured = errors.New("lease_not_configured")
	ErrInvalidLease  = errors.New("invalid_lease")
	// ErrLeaseLost means the lease expired before release. Another caller may
	// have claimed the key and run the effect concurrently.
	ErrLeaseLost = errors.New("lease_lost")
)

// Locker claims keys with SET NX and releases them only with the token
// that claimed them.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (l *Locker) Acquire(ctx context.Context, key domain.Key, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key.IsZero() || ttl <= 0 {
		return "", false, ErrInvalidLease
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, redisKey(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Release(ctx context.Context, key domain.Key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key.IsZero() || token == "" {
		return nil
	}
	deleted, err := l.script.Run(ctx, l.client, []string{redisKey(key)}, token).Int()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLeaseLost
	}
	return nil
}

func redisKey(key domain.Key) string {
	return keyPrefix + key.String()
}
