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

const (
	TypeOnboardingExpiring = "onboarding_por_vencer"
	TypeOnboardingOverdue  = "onboarding_vencido"
)

// OnboardingExpiry warns milestone owners once before the deadline and once
// after it passes.
type OnboardingExpiry struct {
	source  OnboardingSource
	raiser  Raiser
	horizon time.Duration
	limit   int
	now     func() time.Time
	logger  *slog.Logger
}

func NewOnboardingExpiry(source OnboardingSource, raiser Raiser, cfg Config, opts ...Option) *OnboardingExpiry {
	o := applyOptions(opts)
	return &OnboardingExpiry{
		source:  source,
		raiser:  raiser,
		horizon: cfg.OnboardingHorizon,
		limit:   cfg.batch(),
		now:     o.now,
		logger:  o.logger.With(logger.Job("onboarding_expiry")),
	}
}

// Run returns the number of milestones notified in this pass.
func (j *OnboardingExpiry) Run(ctx context.Context) (int, error) {
	now := j.now()

	upcoming, err := j.source.UpcomingMilestones(ctx, now, now.Add(j.horizon), j.limit)
	if err != nil {
		return 0, err
	}
	overdue, err := j.source.OverdueMilestones(ctx, now, j.limit)
	if err != nil {
		return 0, err
	}

	var errs []error
	n := 0
	for _, m := range upcoming {
		if err := j.notify(ctx, m, TypeOnboardingExpiring, "warn", "vence pronto"); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := j.source.MarkWarned(ctx, m.ID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	for _, m := range overdue {
		if err := j.notify(ctx, m, TypeOnboardingOverdue, "overdue", "está vencido"); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := j.source.MarkOverdueNotified(ctx, m.ID, now); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "notified onboarding milestones", logger.Count(n))
	}
	return n, errors.Join(errs...)
}

func (j *OnboardingExpiry) notify(ctx context.Context, m Milestone, typeCode, stage, verb string) error {
	_, err := j.raiser.Raise(ctx, notifications.RaiseRequest{
		Type:       typeCode,
		Title:      fmt.Sprintf("%s: %s %s", m.LeadName, m.Name, verb),
		Message:    fmt.Sprintf("El hito %q del onboarding de %s vence el %s.", m.Name, m.LeadName, m.DueAt.Format(dateTimeLayout)),
		Recipients: []string{m.OwnerID},
		DedupeKey:  fmt.Sprintf("onboarding:%s:%s:%s", m.LeadID, m.ID, stage),
		Payload: map[string]any{
			"lead_id":      m.LeadID,
			"lead_name":    m.LeadName,
			"milestone":    m.Name,
			"milestone_id": m.ID,
			"due_at":       m.DueAt.Format(dateTimeLayout),
		},
	})
	if err != nil {
		return fmt.Errorf("notify milestone %s (%s): %w", m.ID, stage, err)
	}
	return nil
}
