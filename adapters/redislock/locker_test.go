package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypogate/domain/core"
)

func newTestLocker(t *testing.T) (*Locker, redismock.ClientMock) {
	t.Helper()
	client, mock := redismock.NewClientMock()
	l := New(client, time.Minute, zerolog.Nop())
	l.retry = 50 * time.Millisecond
	l.newToken = func() string { return "token-1" }
	return l, mock
}

func TestAcquireAndRelease(t *testing.T) {
	l, mock := newTestLocker(t)
	key := "hypogate:evaluate:h1"

	mock.ExpectSetNX(key, "token-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{key}, "token-1").SetVal(int64(1))

	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireRetriesUntilFree(t *testing.T) {
	l, mock := newTestLocker(t)
	key := "hypogate:evaluate:h1"

	mock.ExpectSetNX(key, "token-1", time.Minute).SetVal(false)
	mock.ExpectSetNX(key, "token-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{key}, "token-1").SetVal(int64(1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireHeldUntilDeadline(t *testing.T) {
	l, mock := newTestLocker(t)
	key := "hypogate:evaluate:h1"

	mock.ExpectSetNX(key, "token-1", time.Minute).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx, key)
	assert.ErrorIs(t, err, core.ErrLockHeld)
}

func TestAcquireRedisError(t *testing.T) {
	l, mock := newTestLocker(t)
	key := "hypogate:evaluate:h1"

	mock.ExpectSetNX(key, "token-1", time.Minute).SetErr(errors.New("connection refused"))

	_, err := l.Acquire(context.Background(), key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrLockHeld)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRenewExtendsOnlyOwnKey(t *testing.T) {
	l, mock := newTestLocker(t)
	key := "hypogate:evaluate:h1"

	mock.ExpectEval(extendScript, []string{key}, "token-1", int64(60000)).SetVal(int64(1))
	mock.ExpectEval(extendScript, []string{key}, "token-1", int64(60000)).SetVal(int64(0))

	ok, err := l.renew(context.Background(), key, "token-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.renew(context.Background(), key, "token-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeldLockIsExtendedUntilLost(t *testing.T) {
	l, mock := newTestLocker(t)
	l.renewEvery = 10 * time.Millisecond
	key := "hypogate:evaluate:h1"

	mock.ExpectSetNX(key, "token-1", time.Minute).SetVal(true)
	mock.ExpectEval(extendScript, []string{key}, "token-1", int64(60000)).SetVal(int64(1))
	mock.ExpectEval(extendScript, []string{key}, "token-1", int64(60000)).SetVal(int64(0))
	mock.ExpectEval(releaseScript, []string{key}, "token-1").SetVal(int64(0))

	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	// renewal stops on the first lost extension, so no further calls are made
	time.Sleep(150 * time.Millisecond)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}
