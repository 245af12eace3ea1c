package dispatchjobs

import (
	"context"
	"time"

	"github.com/dmitrymomot/opshub/pkg/notifications"
)

// OpenShift is an attendance record with a check-in and no check-out.
type OpenShift struct {
	ID        string
	UserID    string
	WorkDate  time.Time
	CheckInAt time.Time
}

// Milestone is a deadline in the onboarding of a lead, owned by one user.
type Milestone struct {
	ID       string
	LeadID   string
	LeadName string
	Name     string
	OwnerID  string
	DueAt    time.Time
}

type Reminder struct {
	ID       string
	UserID   string
	Title    string
	Message  string
	RemindAt time.Time
}

type AttendanceSource interface {
	OpenShifts(ctx context.Context, checkedInBefore time.Time, limit int) ([]OpenShift, error)
	// CloseShift sets the check-out unless one was recorded meanwhile.
	CloseShift(ctx context.Context, id string, checkOut, at time.Time) (bool, error)
}

type OnboardingSource interface {
	// UpcomingMilestones lists open milestones due in (now, horizon] that
	// were not warned about yet.
	UpcomingMilestones(ctx context.Context, now, horizon time.Time, limit int) ([]Milestone, error)
	// OverdueMilestones lists open milestones due at or before now that were
	// not reported overdue yet.
	OverdueMilestones(ctx context.Context, now time.Time, limit int) ([]Milestone, error)
	MarkWarned(ctx context.Context, id string, at time.Time) error
	MarkOverdueNotified(ctx context.Context, id string, at time.Time) error
}

type ReminderSource interface {
	DueReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error)
	MarkFired(ctx context.Context, id string, at time.Time) error
}

// Raiser is the part of notifications.Engine the producers use.
type Raiser interface {
	Raise(ctx context.Context, req notifications.RaiseRequest) (*notifications.Notification, error)
}

type Dispatcher interface {
	DispatchDue(ctx context.Context, limit int) (int, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, maxAge time.Duration, limit int) (int, error)
}

var (
	_ Raiser     = (*notifications.Engine)(nil)
	_ Dispatcher = (*notifications.Engine)(nil)
	_ Reconciler = (*notifications.Tracker)(nil)
)
