package dispatchjobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/dispatchjobs"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	now     = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	errDB   = errors.New("db down")
)

func clock() time.Time { return now }

type env struct {
	store  *notifications.MemoryStorage
	engine *notifications.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := notifications.NewMemoryStorage()
	catalog, err := notifications.SeedCatalog(ctx, store)
	require.NoError(t, err)

	renderer := notifications.NewRenderer(store,
		notifications.WithFallbacks(catalog.Fallbacks()),
		notifications.WithRendererLogger(discard),
	)
	tracker := notifications.NewTracker(store,
		notifications.WithTrackerClock(clock),
		notifications.WithTrackerLogger(discard),
	)
	engine := notifications.NewEngine(store, tracker, notifications.NewPreferenceResolver(store),
		notifications.WithSender(notifications.NewInAppChannel(renderer)),
		notifications.WithEngineClock(clock),
		notifications.WithEngineLogger(discard),
	)
	return &env{store: store, engine: engine}
}

func (e *env) inbox(t *testing.T, userID string) []notifications.InboxItem {
	t.Helper()
	items, _, err := e.store.ListInbox(context.Background(), userID, notifications.ListOptions{})
	require.NoError(t, err)
	return items
}

type reminderSource struct {
	mu        sync.Mutex
	reminders []dispatchjobs.Reminder
	fired     map[string]time.Time
	failMark  int
}

func (s *reminderSource) DueReminders(_ context.Context, at time.Time, limit int) ([]dispatchjobs.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dispatchjobs.Reminder
	for _, r := range s.reminders {
		if _, done := s.fired[r.ID]; done || r.RemindAt.After(at) {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *reminderSource) MarkFired(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMark > 0 {
		s.failMark--
		return errDB
	}
	s.fired[id] = at
	return nil
}

type onboardingSource struct {
	milestones []dispatchjobs.Milestone
	warned     map[string]bool
	overdue    map[string]bool
}

func (s *onboardingSource) UpcomingMilestones(_ context.Context, at, horizon time.Time, _ int) ([]dispatchjobs.Milestone, error) {
	var out []dispatchjobs.Milestone
	for _, m := range s.milestones {
		if !s.warned[m.ID] && m.DueAt.After(at) && !m.DueAt.After(horizon) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *onboardingSource) OverdueMilestones(_ context.Context, at time.Time, _ int) ([]dispatchjobs.Milestone, error) {
	var out []dispatchjobs.Milestone
	for _, m := range s.milestones {
		if !s.overdue[m.ID] && !m.DueAt.After(at) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *onboardingSource) MarkWarned(_ context.Context, id string, _ time.Time) error {
	s.warned[id] = true
	return nil
}

func (s *onboardingSource) MarkOverdueNotified(_ context.Context, id string, _ time.Time) error {
	s.overdue[id] = true
	return nil
}

type mockAttendance struct {
	mock.Mock
}

func (m *mockAttendance) OpenShifts(ctx context.Context, before time.Time, limit int) ([]dispatchjobs.OpenShift, error) {
	args := m.Called(ctx, before, limit)
	shifts, _ := args.Get(0).([]dispatchjobs.OpenShift)
	return shifts, args.Error(1)
}

func (m *mockAttendance) CloseShift(ctx context.Context, id string, checkOut, at time.Time) (bool, error) {
	args := m.Called(ctx, id, checkOut, at)
	return args.Bool(0), args.Error(1)
}

type mockRaiser struct {
	mock.Mock
}

func (m *mockRaiser) Raise(ctx context.Context, req notifications.RaiseRequest) (*notifications.Notification, error) {
	args := m.Called(ctx, req)
	n, _ := args.Get(0).(*notifications.Notification)
	return n, args.Error(1)
}
