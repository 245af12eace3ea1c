package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/opshub/pkg/dispatchjobs"
)

// Sources exposes the business tables polled by the periodic dispatch jobs.
type Sources struct {
	pool *pgxpool.Pool
}

var (
	_ dispatchjobs.AttendanceSource = (*Sources)(nil)
	_ dispatchjobs.OnboardingSource = (*Sources)(nil)
	_ dispatchjobs.ReminderSource   = (*Sources)(nil)
)

func NewSources(pool *pgxpool.Pool) *Sources {
	return &Sources{pool: pool}
}

func (s *Sources) OpenShifts(ctx context.Context, checkedInBefore time.Time, limit int) ([]dispatchjobs.OpenShift, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, work_date, check_in_at FROM attendance_records
		WHERE check_out_at IS NULL AND check_in_at < $1
		ORDER BY check_in_at, id
		LIMIT $2`, checkedInBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list open shifts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (dispatchjobs.OpenShift, error) {
		var sh dispatchjobs.OpenShift
		err := row.Scan(&sh.ID, &sh.UserID, &sh.WorkDate, &sh.CheckInAt)
		return sh, err
	})
}

func (s *Sources) CloseShift(ctx context.Context, id string, checkOut, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attendance_records SET check_out_at = $2, auto_closed_at = $3
		WHERE id = $1 AND check_out_at IS NULL`, id, checkOut, at)
	if err != nil {
		return false, fmt.Errorf("close shift: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const milestoneColumns = `id, lead_id, lead_name, milestone, owner_id, due_at`

func collectMilestones(rows pgx.Rows) ([]dispatchjobs.Milestone, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (dispatchjobs.Milestone, error) {
		var m dispatchjobs.Milestone
		err := row.Scan(&m.ID, &m.LeadID, &m.LeadName, &m.Name, &m.OwnerID, &m.DueAt)
		return m, err
	})
}

func (s *Sources) UpcomingMilestones(ctx context.Context, now, horizon time.Time, limit int) ([]dispatchjobs.Milestone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+milestoneColumns+` FROM onboarding_milestones
		WHERE completed_at IS NULL AND warned_at IS NULL AND due_at > $1 AND due_at <= $2
		ORDER BY due_at, id
		LIMIT $3`, now, horizon, limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming milestones: %w", err)
	}
	return collectMilestones(rows)
}

func (s *Sources) OverdueMilestones(ctx context.Context, now time.Time, limit int) ([]dispatchjobs.Milestone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+milestoneColumns+` FROM onboarding_milestones
		WHERE completed_at IS NULL AND overdue_notified_at IS NULL AND due_at <= $1
		ORDER BY due_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue milestones: %w", err)
	}
	return collectMilestones(rows)
}

func (s *Sources) MarkWarned(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE onboarding_milestones SET warned_at = $2 WHERE id = $1 AND warned_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark milestone warned: %w", err)
	}
	return nil
}

func (s *Sources) MarkOverdueNotified(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE onboarding_milestones SET overdue_notified_at = $2 WHERE id = $1 AND overdue_notified_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark milestone overdue: %w", err)
	}
	return nil
}

func (s *Sources) DueReminders(ctx context.Context, now time.Time, limit int) ([]dispatchjobs.Reminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, message, remind_at FROM reminders
		WHERE fired_at IS NULL AND cancelled_at IS NULL AND remind_at <= $1
		ORDER BY remind_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (dispatchjobs.Reminder, error) {
		var r dispatchjobs.Reminder
		err := row.Scan(&r.ID, &r.UserID, &r.Title, &r.Message, &r.RemindAt)
		return r, err
	})
}

func (s *Sources) MarkFired(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE reminders SET fired_at = $2 WHERE id = $1 AND fired_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark reminder fired: %w", err)
	}
	return nil
}
