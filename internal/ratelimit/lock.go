package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes KEYS[1] only while it still holds ARGV[1].
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var (
	errEmptyLeaseKey = errors.New("lease key is empty")
	errLeaseTTL      = errors.New("lease ttl must be positive")
)

// Locker hands out single-holder leases on Redis keys. A nil Locker grants
// every lease, which is what a single instance without Redis wants.
type Locker struct {
	client redis.UniversalClient
}

func NewLocker(client redis.UniversalClient) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is a held key. The zero Lease releases nothing.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes key for ttl. ok is false when another holder has it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	if l == nil || l.client == nil {
		return Lease{}, true, nil
	}
	if key == "" {
		return Lease{}, false, errEmptyLeaseKey
	}
	if ttl <= 0 {
		return Lease{}, false, errLeaseTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return Lease{}, false, err
	}
	return Lease{locker: l, key: key, token: token}, true, nil
}

// Release gives the key back if this lease still holds it.
func (l Lease) Release(ctx context.Context) error {
	if l.locker == nil || l.token == "" {
		return nil
	}
	return releaseLease.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
}
