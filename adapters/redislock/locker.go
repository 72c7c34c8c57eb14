package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"hypogate/domain/core"
	"hypogate/ports"
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another process is never released by us.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// extendScript pushes the expiry forward only while the key still carries our token.
const extendScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// Locker is a cross-process LockerPort backed by redis SET NX PX. A held lock is
// extended every ttl/3 until released, so a slow evaluation keeps it while a crashed
// holder loses it after ttl.
type Locker struct {
	client     redis.Cmdable
	ttl        time.Duration
	retry      time.Duration
	renewEvery time.Duration
	logger     zerolog.Logger
	newToken   func() string
}

var _ ports.LockerPort = (*Locker)(nil)

// New creates a redis locker. ttl bounds how long a crashed holder can block others.
func New(client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{
		client:     client,
		ttl:        ttl,
		retry:      100 * time.Millisecond,
		renewEvery: ttl / 3,
		logger:     logger,
		newToken:   func() string { return core.NewID().String() },
	}
}

// Acquire polls until the key is set by us or ctx is done
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := l.newToken()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", core.ErrLockHeld, key)
		case <-ticker.C:
		}
	}
}

// renew extends the key's expiry. false means the key is no longer ours.
func (l *Locker) renew(ctx context.Context, key, token string) (bool, error) {
	n, err := l.client.Eval(ctx, extendScript, []string{key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// keepAlive renews the lock until stop is closed or ownership is lost
func (l *Locker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if l.renewEvery <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.renewEvery)
		ok, err := l.renew(ctx, key, token)
		cancel()
		switch {
		case err != nil:
			l.logger.Warn().Err(err).Str("key", key).Msg("failed to extend lock")
		case !ok:
			l.logger.Error().Str("key", key).Msg("lock lost while held")
			return
		}
	}
}

func (l *Locker) releaser(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, stop, done)

	return func() {
		close(stop)
		<-done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
		if err != nil {
			l.logger.Error().Err(err).Str("key", key).Msg("failed to release lock")
			return
		}
		if n == 0 {
			l.logger.Warn().Str("key", key).Msg("lock expired before release")
		}
	}
}
