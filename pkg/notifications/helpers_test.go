package notifications_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/email"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

type fakeMailer struct {
	mu    sync.Mutex
	sent  []email.SendEmailParams
	err   error
	block bool
}

func (m *fakeMailer) SendEmail(ctx context.Context, p email.SendEmailParams) (string, error) {
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, p)
	return "pm-" + p.SendTo, nil
}

func (m *fakeMailer) messages() []email.SendEmailParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]email.SendEmailParams(nil), m.sent...)
}

type fakePush struct {
	mu         sync.Mutex
	messages   []notifications.PushMessage
	rejected   map[string]string
	err        error
	partialErr error
}

func (p *fakePush) Send(_ context.Context, msg notifications.PushMessage) (notifications.PushResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return notifications.PushResponse{}, p.err
	}
	p.messages = append(p.messages, msg)
	resp := notifications.PushResponse{ProviderID: "fcm-" + msg.Data["recipient_id"]}
	for i, tok := range msg.Tokens {
		if reason, ok := p.rejected[tok]; ok {
			resp.Results = append(resp.Results, notifications.TokenResult{Token: tok, Error: reason})
			continue
		}
		resp.Results = append(resp.Results, notifications.TokenResult{Token: tok, MessageID: tok + "-msg-" + string(rune('0'+i))})
	}
	return resp, p.partialErr
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store    *notifications.MemoryStorage
	clock    *clock
	mailer   *fakeMailer
	push     *fakePush
	tracker  *notifications.Tracker
	renderer *notifications.Renderer
	engine   *notifications.Engine
	inbox    *notifications.InboxService
	prefs    *notifications.PreferenceService
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestEnv(t *testing.T, opts ...notifications.EngineOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := notifications.NewMemoryStorage()
	catalog, err := notifications.DefaultCatalog()
	require.NoError(t, err)
	require.NoError(t, catalog.Seed(ctx, store))

	env := &testEnv{
		store:  store,
		clock:  newClock(),
		mailer: &fakeMailer{},
		push:   &fakePush{rejected: map[string]string{}},
	}
	env.renderer = notifications.NewRenderer(store,
		notifications.WithFallbacks(catalog.Fallbacks()),
		notifications.WithRendererLogger(discard),
	)
	env.tracker = notifications.NewTracker(store,
		notifications.WithTrackerClock(env.clock.Now),
		notifications.WithTrackerLogger(discard),
	)
	directory := notifications.StaticDirectory{
		"u1": {Name: "Ana", Email: "ana@example.com", Locale: "es-AR"},
		"u2": {Name: "Bruno", Email: "bruno@example.com", Locale: "es"},
		"u3": {Name: "Carla"},
	}
	base := []notifications.EngineOption{
		notifications.WithDirectory(directory),
		notifications.WithSender(notifications.NewInAppChannel(env.renderer)),
		notifications.WithSender(notifications.NewEmailChannel(env.mailer, env.renderer, "https://hub.example.com")),
		notifications.WithSender(notifications.NewPushChannel(env.push, store, env.renderer, notifications.WithPushLogger(discard))),
		notifications.WithEngineClock(env.clock.Now),
		notifications.WithEngineLogger(discard),
		notifications.WithSendTimeout(time.Second),
	}
	env.engine = notifications.NewEngine(store, env.tracker, notifications.NewPreferenceResolver(store), append(base, opts...)...)
	env.inbox = notifications.NewInboxService(store, env.tracker,
		notifications.WithInboxClock(env.clock.Now),
		notifications.WithInboxLogger(discard),
	)
	env.prefs = notifications.NewPreferenceService(store, store)
	return env
}

func (e *testEnv) raise(t *testing.T, req notifications.RaiseRequest) *notifications.Notification {
	t.Helper()
	n, err := e.engine.Raise(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

func (e *testEnv) recipients(t *testing.T, notificationID string) []notifications.Recipient {
	t.Helper()
	rs, err := e.store.ListRecipients(context.Background(), notificationID)
	require.NoError(t, err)
	return rs
}

// deliveries returns deliveries of the only recipient of a notification,
// keyed by channel.
func (e *testEnv) deliveries(t *testing.T, notificationID, userID string) map[notifications.Channel]notifications.Delivery {
	t.Helper()
	out := map[notifications.Channel]notifications.Delivery{}
	for _, r := range e.recipients(t, notificationID) {
		if r.UserID != userID {
			continue
		}
		ds, err := e.store.ListDeliveries(context.Background(), r.ID)
		require.NoError(t, err)
		for _, d := range ds {
			out[d.Channel] = d
		}
	}
	return out
}

func (e *testEnv) registerDevice(t *testing.T, userID, token string) {
	t.Helper()
	require.NoError(t, e.store.RegisterDevice(context.Background(), notifications.DeviceToken{
		Token:     token,
		UserID:    userID,
		Platform:  "android",
		CreatedAt: e.clock.Now(),
	}))
}
