package dispatchjobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/opshub/pkg/jobs"
	"github.com/dmitrymomot/opshub/pkg/logger"
)

const (
	JobAttendance = "attendance_autoclose"
	JobOnboarding = "onboarding_expiry"
	JobReminders  = "reminders"
	JobScheduled  = "scheduled_dispatch"
	JobReconcile  = "reconcile_deliveries"
)

// Deps wires the producers. Nil sources disable their jobs; Raiser is
// required whenever a source is set.
type Deps struct {
	Raiser     Raiser
	Dispatcher Dispatcher
	Reconciler Reconciler
	Attendance AttendanceSource
	Onboarding OnboardingSource
	Reminders  ReminderSource
}

// Register adds every configured producer to the runner.
func Register(r *jobs.Runner, cfg Config, deps Deps, opts ...Option) error {
	if deps.Raiser == nil && (deps.Attendance != nil || deps.Onboarding != nil || deps.Reminders != nil) {
		return fmt.Errorf("%w: raiser", ErrMissingDependency)
	}
	if _, _, _, err := cfg.dailyCloseAt(); err != nil {
		return err
	}
	o := applyOptions(opts)
	var errs []error

	add := func(name string, every time.Duration, run func(context.Context) (int, error)) {
		budget := max(every, time.Minute)
		err := r.Add(name, jobs.Every(every), func(ctx context.Context) error {
			n, err := run(ctx)
			if n > 0 {
				o.logger.DebugContext(ctx, "job produced", logger.Job(name), logger.Count(n))
			}
			return err
		}, jobs.WithTimeout(budget), jobs.RunOnStart())
		errs = append(errs, err)
	}

	if deps.Attendance != nil {
		add(JobAttendance, cfg.AttendanceInterval, NewAttendanceAutoClose(deps.Attendance, deps.Raiser, cfg, opts...).Run)
	}
	if deps.Onboarding != nil {
		add(JobOnboarding, cfg.OnboardingInterval, NewOnboardingExpiry(deps.Onboarding, deps.Raiser, cfg, opts...).Run)
	}
	if deps.Reminders != nil {
		add(JobReminders, cfg.ReminderInterval, NewDueReminders(deps.Reminders, deps.Raiser, cfg, opts...).Run)
	}
	if deps.Dispatcher != nil {
		add(JobScheduled, cfg.ScheduledInterval, func(ctx context.Context) (int, error) {
			return deps.Dispatcher.DispatchDue(ctx, cfg.batch())
		})
	}
	if deps.Reconciler != nil {
		add(JobReconcile, cfg.ReconcileInterval, func(ctx context.Context) (int, error) {
			return deps.Reconciler.Reconcile(ctx, cfg.StaleDeliveryTTL, cfg.batch())
		})
	}
	return errors.Join(errs...)
}
