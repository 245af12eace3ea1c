package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/opshub/pkg/logger"
)

// Func is the body of a periodic job.
type Func func(ctx context.Context) error

type job struct {
	name       string
	schedule   Schedule
	fn         Func
	timeout    time.Duration
	runOnStart bool
	running    atomic.Bool
}

// Runner owns a set of jobs and their timers.
type Runner struct {
	mu      sync.RWMutex
	jobs    map[string]*job
	locker  Locker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithLocker guards every run with a distributed lock keyed by job name.
func WithLocker(l Locker) Option {
	return func(r *Runner) { r.locker = l }
}

// WithLockTTL bounds how long a lock survives a crashed holder.
func WithLockTTL(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.lockTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

type JobOption func(*job)

// WithTimeout cancels a single run after d.
func WithTimeout(d time.Duration) JobOption {
	return func(j *job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// RunOnStart triggers the job once as soon as the runner starts.
func RunOnStart() JobOption {
	return func(j *job) { j.runOnStart = true }
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		jobs:    make(map[string]*job),
		lockTTL: 5 * time.Minute,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a job. Names are unique.
func (r *Runner) Add(name string, schedule Schedule, fn Func, opts ...JobOption) error {
	if name == "" || schedule == nil || fn == nil {
		return ErrInvalidJob
	}
	j := &job{name: name, schedule: schedule, fn: fn}
	for _, opt := range opts {
		opt(j)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, name)
	}
	r.jobs[name] = j

	r.logger.Info("registered periodic job",
		logger.Job(name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Names lists registered jobs in lexical order.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs each job on its own timer and blocks until ctx is cancelled.
// In-flight runs are awaited before returning.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.RLock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	if len(jobs) == 0 {
		return ErrNoJobs
	}

	var loops sync.WaitGroup
	for _, j := range jobs {
		loops.Add(1)
		go func() {
			defer loops.Done()
			r.loop(ctx, j)
		}()
	}

	<-ctx.Done()
	loops.Wait()
	r.wg.Wait()
	r.logger.Info("job runner stopped")
	return ctx.Err()
}

func (r *Runner) loop(ctx context.Context, j *job) {
	if j.runOnStart {
		r.trigger(ctx, j)
	}

	now := r.now()
	timer := time.NewTimer(j.schedule.Next(now).Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.trigger(ctx, j)
			now := r.now()
			timer.Reset(max(j.schedule.Next(now).Sub(now), 0))
		}
	}
}

// trigger starts a run in the background unless one is still in flight.
func (r *Runner) trigger(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		r.logger.WarnContext(ctx, "skipping job tick, previous run still in flight", logger.Job(j.name))
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer j.running.Store(false)
		if err := r.execute(ctx, j); err != nil && !errors.Is(err, ErrLockNotAcquired) {
			r.logger.ErrorContext(ctx, "job run failed", logger.Job(j.name), logger.Error(err))
		}
	}()
}

// Run executes the named job synchronously, honouring the same overlap
// guards as timer-driven runs.
func (r *Runner) Run(ctx context.Context, name string) error {
	r.mu.RLock()
	j, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if !j.running.CompareAndSwap(false, true) {
		return ErrJobInFlight
	}
	defer j.running.Store(false)
	return r.execute(ctx, j)
}

func (r *Runner) execute(ctx context.Context, j *job) (err error) {
	if r.locker != nil {
		unlock, ok, lockErr := r.locker.TryLock(ctx, j.name, r.lockTTL)
		if lockErr != nil {
			return lockErr
		}
		if !ok {
			r.logger.DebugContext(ctx, "job locked elsewhere", logger.Job(j.name))
			return ErrLockNotAcquired
		}
		defer func() {
			if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
				r.logger.WarnContext(ctx, "failed to release job lock", logger.Job(j.name), logger.Error(uerr))
			}
		}()
	}

	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, p)
		}
	}()

	started := r.now()
	err = j.fn(runCtx)
	r.logger.DebugContext(ctx, "job run finished",
		logger.Job(j.name),
		logger.Duration(r.now().Sub(started)))
	return err
}
