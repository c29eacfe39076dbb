package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pairbot/statarb/internal/domain"
)

// Both scripts act only while the key still holds the caller's token, so a
// holder can never release or extend someone else's lock.
const (
	unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
	extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
)

// LockManager implements domain.LockManager with SET NX PX and a token
// check on release. Held locks are refreshed every ttl/3 until released.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
	logger   *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
		logger:   logger.With(slog.String("component", "lock")),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	l := &lease{
		lm:    lm,
		key:   lk,
		token: token,
		ttl:   ttl,
		stop:  make(chan struct{}),
		lost:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.keepAlive()
	return l, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string
	ttl   time.Duration

	stop     chan struct{}
	lost     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (l *lease) Lost() <-chan struct{} { return l.lost }

func (l *lease) Release() {
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err(); err != nil {
			l.lm.logger.Warn("lock release failed", slog.String("key", l.key), slog.String("error", err.Error()))
		}
	})
}

func (l *lease) keepAlive() {
	defer close(l.done)
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := l.lm.extendSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				// Transient; the key survives until ttl so retry on the next tick.
				l.lm.logger.Warn("lock refresh failed", slog.String("key", l.key), slog.String("error", err.Error()))
				continue
			}
			if n == 0 {
				l.lm.logger.Error("lock lost", slog.String("key", l.key))
				close(l.lost)
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
