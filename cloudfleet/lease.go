package cloudfleet

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/config"
	"github.com/bsm/redislock"
)

// Lease serializes sync runs. Acquire returns ErrRunInProgress when the lease is held elsewhere.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

type redisLease struct {
	locker *redislock.Client
}

// NewRedisLease returns a lease shared by every replica connected to the same Redis.
// A held lease is refreshed until released, so runs may outlive ttl.
func NewRedisLease(locker *redislock.Client) Lease {
	return &redisLease{locker: locker}
}

func (l *redisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}
	stop := keepAlive(ttl/3, func(ctx context.Context) error {
		return lock.Refresh(ctx, ttl, nil)
	}, func(err error) {
		config.GetLogger().WithError(err).WithField("lock_key", key).Warn("failed to refresh sync lease")
	})
	return func(ctx context.Context) error {
		stop()
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}

// keepAlive calls refresh every interval until the returned stop func is called.
// stop waits for an in-flight refresh to return.
func keepAlive(interval time.Duration, refresh func(context.Context) error, onErr func(error)) (stop func()) {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := refresh(ctx); err != nil && ctx.Err() == nil {
					onErr(err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

type localLease struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLease only serializes runs inside this process. Used when Redis is not configured.
func NewLocalLease() Lease {
	return &localLease{held: map[string]bool{}}
}

func (l *localLease) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrRunInProgress
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		return nil
	}, nil
}

type dynamicLease struct {
	locker func() *redislock.Client
	local  Lease
}

// NewDynamicLease uses Redis once locker returns a client and the process-local lease until then.
func NewDynamicLease(locker func() *redislock.Client) Lease {
	return &dynamicLease{locker: locker, local: NewLocalLease()}
}

func (l *dynamicLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if c := l.locker(); c != nil {
		return NewRedisLease(c).Acquire(ctx, key, ttl)
	}
	return l.local.Acquire(ctx, key, ttl)
}
