package keylock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	retryInterval = 10 * time.Millisecond
	keyPrefix     = "lock:"
)

// releaseScript deletes the lease only while it still carries our token, so a
// holder whose lease expired cannot free someone else's.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// renewScript pushes the lease expiry out while it still carries our token.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// RedisLocker serializes holders of the same key across replicas. The lease
// is renewed every ttl/3 while held and expires after ttl if its holder dies.
type RedisLocker struct {
	client  *redis.Client
	release *redis.Script
	renew   *redis.Script
	ttl     time.Duration
	log     *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:  client,
		release: redis.NewScript(releaseScript),
		renew:   redis.NewScript(renewScript),
		ttl:     ttl,
		log:     log,
	}
}

// Lock polls until the key is free, waiting at most ttl.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	leaseKey := keyPrefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.ttl)

	for {
		ok, err := l.client.SetNX(ctx, leaseKey, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(leaseKey, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					l.unlock(leaseKey, token)
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// keepAlive renews the lease until stop is closed or the lease is lost.
func (l *RedisLocker) keepAlive(leaseKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := l.renew.Run(ctx, l.client, []string{leaseKey}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			l.log.Warn("renew lock failed", zap.String("key", leaseKey), zap.Error(err))
			continue
		}
		if n == 0 {
			l.log.Warn("lock lease lost", zap.String("key", leaseKey))
			return
		}
	}
}

// unlock runs detached from the caller's context so a cancelled request still
// frees its lease.
func (l *RedisLocker) unlock(leaseKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.release.Run(ctx, l.client, []string{leaseKey}, token).Err(); err != nil {
		l.log.Warn("release lock failed", zap.String("key", leaseKey), zap.Error(err))
	}
}
