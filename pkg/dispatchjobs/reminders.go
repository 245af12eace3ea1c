package dispatchjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/opshub/pkg/logger"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

const TypeReminder = "recordatorio"

// DueReminders fires reminders whose time has come.
type DueReminders struct {
	source ReminderSource
	raiser Raiser
	limit  int
	now    func() time.Time
	logger *slog.Logger
}

func NewDueReminders(source ReminderSource, raiser Raiser, cfg Config, opts ...Option) *DueReminders {
	o := applyOptions(opts)
	return &DueReminders{
		source: source,
		raiser: raiser,
		limit:  cfg.batch(),
		now:    o.now,
		logger: o.logger.With(logger.Job("reminders")),
	}
}

func (j *DueReminders) Run(ctx context.Context) (int, error) {
	now := j.now()
	due, err := j.source.DueReminders(ctx, now, j.limit)
	if err != nil {
		return 0, err
	}

	var errs []error
	fired := 0
	for _, r := range due {
		_, err := j.raiser.Raise(ctx, notifications.RaiseRequest{
			Type:       TypeReminder,
			Title:      r.Title,
			Message:    r.Message,
			Recipients: []string{r.UserID},
			DedupeKey:  "reminder:" + r.ID,
			Payload: map[string]any{
				"reminder_id": r.ID,
				"remind_at":   r.RemindAt.Format(dateTimeLayout),
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify reminder %s: %w", r.ID, err))
			continue
		}
		if err := j.source.MarkFired(ctx, r.ID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		fired++
	}
	if fired > 0 {
		j.logger.DebugContext(ctx, "fired reminders", logger.Count(fired))
	}
	return fired, errors.Join(errs...)
}
