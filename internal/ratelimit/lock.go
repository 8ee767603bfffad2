package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes KEYS[1] only while it still holds the owner's token.
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

var (
	ErrLockNotConfigured = errors.New("lock_not_configured")
	ErrLockKeyEmpty      = errors.New("lock_key_empty")
	ErrLockTTLInvalid    = errors.New("lock_ttl_invalid")
)

// Locker grants exclusive, expiring leases on a redis key so that only one
// instance runs a reconcile sweep at a time. A nil *Locker is disabled.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

func (l *Locker) Enabled() bool {
	return l != nil && l.client != nil
}

// Lease is a held lock. It expires on its own after the TTL.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// TryLock returns a nil lease, without error, when another owner holds key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	switch {
	case !l.Enabled():
		return nil, ErrLockNotConfigured
	case key == "":
		return nil, ErrLockKeyEmpty
	case ttl <= 0:
		return nil, ErrLockTTLInvalid
	}
	lease := &Lease{client: l.client, key: key, token: uuid.NewString()}
	acquired, err := l.client.SetNX(ctx, key, lease.token, ttl).Result()
	if err != nil || !acquired {
		return nil, err
	}
	return lease, nil
}

// Release is a no-op on a nil lease or one that has already expired.
func (le *Lease) Release(ctx context.Context) error {
	if le == nil {
		return nil
	}
	return releaseLease.Run(ctx, le.client, []string{le.key}, le.token).Err()
}
