package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	gatesvc "hypogate/internal/gate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeBatch struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	err     error
	once    sync.Once
}

func (f *fakeBatch) RunBatch(ctx context.Context) (gatesvc.BatchReport, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return gatesvc.BatchReport{}, ctx.Err()
		}
	}
	return gatesvc.BatchReport{Total: 2, Passed: 1, Skipped: 1}, f.err
}

func TestRunOnceReturnsReport(t *testing.T) {
	batch := &fakeBatch{}
	r := New(context.Background(), batch, time.Second, zerolog.Nop())

	report, err := r.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, int32(1), batch.calls.Load())
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	batch := &fakeBatch{block: make(chan struct{})}
	r := New(context.Background(), batch, 20*time.Millisecond, zerolog.Nop())

	_, err := r.RunOnce()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunOncePropagatesError(t *testing.T) {
	batch := &fakeBatch{err: errors.New("store down")}
	r := New(context.Background(), batch, time.Second, zerolog.Nop())

	_, err := r.RunOnce()
	assert.EqualError(t, err, "store down")
}

func TestScheduleSkipsOverlappingRuns(t *testing.T) {
	batch := &fakeBatch{block: make(chan struct{}), started: make(chan struct{})}
	r := New(context.Background(), batch, time.Second, zerolog.Nop())

	id, err := r.Schedule("")
	require.NoError(t, err)
	job := r.cron.Entry(id).WrappedJob

	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Run()
	}()
	<-batch.started

	job.Run()
	assert.Equal(t, int32(1), batch.calls.Load())

	close(batch.block)
	<-done
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	r := New(context.Background(), &fakeBatch{}, time.Second, zerolog.Nop())
	_, err := r.Schedule("not a cron spec")
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	r := New(context.Background(), &fakeBatch{}, time.Second, zerolog.Nop())
	_, err := r.Schedule(DefaultSpec)
	require.NoError(t, err)
	r.Start()
	r.Stop()
}
