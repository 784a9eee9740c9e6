package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired indicates the lock is held by another mutation.
var ErrLockNotAcquired = errors.New("lock not acquired")

// MutationLocker serialises balance mutations per record key through a
// Redis lease. Two sessions allocating against the same record queue up
// instead of racing a last-write-wins update.
type MutationLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	tries  int
}

// NewMutationLocker constructs the locker with sane lease defaults.
func NewMutationLocker(client *redis.Client) *MutationLocker {
	return &MutationLocker{
		client: client,
		ttl:    10 * time.Second,
		retry:  50 * time.Millisecond,
		tries:  40,
	}
}

// WithLock runs fn while holding the named lock. Acquisition retries for
// roughly tries*retry before giving up with ErrLockNotAcquired. The lease
// is only released when still owned, so an expired lease cannot delete a
// successor's lock.
func (l *MutationLocker) WithLock(ctx context.Context, name string, fn func() error) error {
	if l == nil || l.client == nil {
		return fn()
	}
	token := uuid.NewString()
	key := "lock:" + name
	acquired := false
	for attempt := 0; attempt < l.tries; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			acquired = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}
	if !acquired {
		return ErrLockNotAcquired
	}
	defer l.release(ctx, key, token)
	return fn()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *MutationLocker) release(ctx context.Context, key, token string) {
	_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
