package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/jobs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	unlocks int
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.unlocks++
		return nil
	}, true, nil
}

func TestRunner_Add(t *testing.T) {
	t.Parallel()
	r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
	noop := func(context.Context) error { return nil }

	require.NoError(t, r.Add("b", jobs.Every(time.Second), noop))
	require.NoError(t, r.Add("a", jobs.Every(time.Second), noop))
	assert.ErrorIs(t, r.Add("a", jobs.Every(time.Second), noop), jobs.ErrJobAlreadyRegistered)
	assert.ErrorIs(t, r.Add("", jobs.Every(time.Second), noop), jobs.ErrInvalidJob)
	assert.ErrorIs(t, r.Add("c", nil, noop), jobs.ErrInvalidJob)
	assert.ErrorIs(t, r.Add("c", jobs.Every(time.Second), nil), jobs.ErrInvalidJob)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRunner_Run(t *testing.T) {
	t.Parallel()

	t.Run("propagates error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
		require.NoError(t, r.Add("fail", jobs.Every(time.Hour), func(context.Context) error { return boom }))
		assert.ErrorIs(t, r.Run(context.Background(), "fail"), boom)
		assert.ErrorIs(t, r.Run(context.Background(), "missing"), jobs.ErrJobNotFound)
	})

	t.Run("recovers panic", func(t *testing.T) {
		t.Parallel()
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
		require.NoError(t, r.Add("panic", jobs.Every(time.Hour), func(context.Context) error { panic("nope") }))
		err := r.Run(context.Background(), "panic")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
	})

	t.Run("skips overlapping run", func(t *testing.T) {
		t.Parallel()
		release := make(chan struct{})
		started := make(chan struct{})
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
		require.NoError(t, r.Add("slow", jobs.Every(time.Hour), func(context.Context) error {
			close(started)
			<-release
			return nil
		}))

		done := make(chan error, 1)
		go func() { done <- r.Run(context.Background(), "slow") }()
		<-started

		assert.ErrorIs(t, r.Run(context.Background(), "slow"), jobs.ErrJobInFlight)
		close(release)
		require.NoError(t, <-done)
	})

	t.Run("timeout cancels run", func(t *testing.T) {
		t.Parallel()
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
		require.NoError(t, r.Add("bounded", jobs.Every(time.Hour), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}, jobs.WithTimeout(20*time.Millisecond)))
		assert.ErrorIs(t, r.Run(context.Background(), "bounded"), context.DeadlineExceeded)
	})

	t.Run("locker", func(t *testing.T) {
		t.Parallel()
		locker := &fakeLocker{held: map[string]bool{}}
		var calls atomic.Int32
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()), jobs.WithLocker(locker))
		require.NoError(t, r.Add("locked", jobs.Every(time.Hour), func(context.Context) error {
			calls.Add(1)
			return nil
		}))

		require.NoError(t, r.Run(context.Background(), "locked"))
		assert.Equal(t, 1, locker.unlocks)

		locker.held["locked"] = true
		assert.ErrorIs(t, r.Run(context.Background(), "locked"), jobs.ErrLockNotAcquired)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestRunner_Start(t *testing.T) {
	t.Parallel()

	t.Run("no jobs", func(t *testing.T) {
		t.Parallel()
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
		assert.ErrorIs(t, r.Start(context.Background()), jobs.ErrNoJobs)
	})

	t.Run("ticks until cancelled", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
		require.NoError(t, r.Add("tick", jobs.Every(10*time.Millisecond), func(context.Context) error {
			calls.Add(1)
			return nil
		}, jobs.RunOnStart()))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Start(ctx) }()

		assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("in-flight ticks are skipped", func(t *testing.T) {
		t.Parallel()
		var active, maxActive, calls atomic.Int32
		r := jobs.NewRunner(jobs.WithLogger(quietLogger()))
		require.NoError(t, r.Add("slow", jobs.Every(5*time.Millisecond), func(ctx context.Context) error {
			n := active.Add(1)
			defer active.Add(-1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			calls.Add(1)
			select {
			case <-time.After(40 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		}, jobs.RunOnStart()))

		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, r.Start(ctx), context.DeadlineExceeded)
		assert.Equal(t, int32(1), maxActive.Load())
		assert.GreaterOrEqual(t, calls.Load(), int32(2))
	})
}
