package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker hands out Redis-backed mutexes shared by every instance on the same Redis.
type Locker struct {
	rs *redsync.Redsync
}

// NewLocker creates a Locker on client.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{rs: redsync.New(goredis.NewPool(client))}
}

// TryRun runs fn while holding the named lock. It does not wait: when another
// instance holds the lock it returns false without calling fn. ttl must cover fn.
func (l *Locker) TryRun(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	m := l.rs.NewMutex("lock:"+name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
		redsync.WithDriftFactor(0.01),
	)
	if err := m.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return false, nil
		}
		return false, err
	}
	defer func() { _, _ = m.UnlockContext(context.WithoutCancel(ctx)) }()
	return true, fn(ctx)
}
