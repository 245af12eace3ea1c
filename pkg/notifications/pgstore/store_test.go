package pgstore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/notifications"
	"github.com/dmitrymomot/opshub/pkg/notifications/pgstore"
	"github.com/dmitrymomot/opshub/pkg/pg"
)

// connect returns a migrated pool or skips when PG_CONN_URL is not set.
func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("PG_CONN_URL")
	if url == "" {
		t.Skip("PG_CONN_URL not set")
	}
	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, pg.Migrate(ctx, pool, cfg, pgstore.Migrations, log))
	return pool
}

func newStore(t *testing.T) *pgstore.Store {
	t.Helper()
	store := pgstore.New(connect(t))
	_, err := notifications.SeedCatalog(context.Background(), store)
	require.NoError(t, err)
	return store
}

func createNotification(t *testing.T, store *pgstore.Store, typeCode, dedupe string, at time.Time, users ...string) notifications.Notification {
	t.Helper()
	typ, err := store.GetType(context.Background(), typeCode)
	require.NoError(t, err)
	n := notifications.Notification{
		ID:           uuid.NewString(),
		TypeCode:     typ.Code,
		Inbox:        typ.Inbox,
		Importance:   typ.Importance,
		Title:        "Título " + typeCode,
		Message:      "mensaje",
		Payload:      map[string]any{"k": "v"},
		Refs:         notifications.Refs{TaskID: "task-" + dedupe},
		DedupeKey:    dedupe,
		CreatedAt:    at,
		DispatchedAt: &at,
	}
	rs := make([]notifications.Recipient, 0, len(users))
	for _, u := range users {
		rs = append(rs, notifications.Recipient{ID: uuid.NewString(), UserID: u, CreatedAt: at})
	}
	require.NoError(t, store.CreateNotification(context.Background(), n, rs))
	return n
}

func TestStore_Catalog(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	byCode, err := store.GetType(ctx, "tarea_asignada")
	require.NoError(t, err)
	byID, err := store.GetType(ctx, strconv.FormatInt(byCode.ID, 10))
	require.NoError(t, err)
	assert.Equal(t, byCode, byID)
	assert.Equal(t, "tasks", byCode.Inbox)

	_, err = store.GetType(ctx, "nope")
	require.ErrorIs(t, err, notifications.ErrUnknownType)
}

func TestStore_NotificationsAndDedupe(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	key := "test:" + uuid.NewString()
	at := time.Now().UTC().Truncate(time.Microsecond)

	n := createNotification(t, store, "recordatorio", key, at, user, user)

	got, err := store.GetNotificationByDedupeKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "v", got.Payload["k"])
	assert.Equal(t, n.Refs, got.Refs)

	rs, err := store.ListRecipients(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, rs, 1, "one recipient per user")

	dup := n
	dup.ID = uuid.NewString()
	err = store.CreateNotification(ctx, dup, nil)
	require.ErrorIs(t, err, notifications.ErrDuplicateNotification)
}

func TestStore_DeliveryTransitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	at := time.Now().UTC().Truncate(time.Microsecond)
	n := createNotification(t, store, "tarea_asignada", "", at, user)
	rs, err := store.ListRecipients(ctx, n.ID)
	require.NoError(t, err)

	d := notifications.Delivery{
		ID: uuid.NewString(), NotificationID: n.ID, RecipientID: rs[0].ID, UserID: user,
		Channel: notifications.ChannelEmail, Status: notifications.StatusQueued,
		TrackingToken: uuid.NewString(), CreatedAt: at, UpdatedAt: at,
	}
	created, ok, err := store.CreateDelivery(ctx, d)
	require.NoError(t, err)
	require.True(t, ok)

	again := d
	again.ID = uuid.NewString()
	again.TrackingToken = uuid.NewString()
	existing, ok, err := store.CreateDelivery(ctx, again)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, created.ID, existing.ID)

	sent, applied, err := store.TransitionDelivery(ctx, d.ID, notifications.Transition{To: notifications.StatusSent, At: at, ProviderID: "pm-1"})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, 1, sent.AttemptCount)

	opened, applied, err := store.TransitionDelivery(ctx, d.ID, notifications.Transition{To: notifications.StatusOpened, At: at})
	require.NoError(t, err)
	require.True(t, applied)

	back, applied, err := store.TransitionDelivery(ctx, d.ID, notifications.Transition{To: notifications.StatusDelivered, At: at})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, notifications.StatusOpened, back.Status)

	_, applied, err = store.TransitionDelivery(ctx, d.ID, notifications.FailedTransition(at, notifications.ErrSendTimeout, nil))
	require.NoError(t, err)
	assert.False(t, applied)

	byProvider, err := store.GetDeliveryByProviderID(ctx, notifications.ChannelEmail, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, opened.ID, byProvider.ID)

	byToken, err := store.GetDeliveryByToken(ctx, d.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, d.ID, byToken.ID)
}

func TestStore_InboxAndPreferences(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	at := time.Now().UTC().Truncate(time.Microsecond)

	older := createNotification(t, store, "mensaje_chat", "", at, user)
	newer := createNotification(t, store, "tarea_asignada", "", at.Add(time.Minute), user)

	items, total, err := store.ListInbox(ctx, user, notifications.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, newer.ID, items[0].Notification.ID)

	ids, err := store.MarkAllRead(ctx, user, "chat", at)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	items, _, err = store.ListInbox(ctx, user, notifications.ListOptions{OnlyUnread: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, newer.ID, items[0].Notification.ID)

	r, err := store.UpdateRecipient(ctx, user, ids[0], notifications.RecipientUpdate{Action: notifications.ActionPin, PinOrder: 1})
	require.NoError(t, err)
	require.NotNil(t, r.PinOrder)
	items, _, err = store.ListInbox(ctx, user, notifications.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, older.ID, items[0].Notification.ID, "pinned first")

	items, _, err = store.ListInbox(ctx, user, notifications.ListOptions{Search: "mensaje_chat"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	counts, err := store.CountInbox(ctx, user)
	require.NoError(t, err)
	for _, c := range counts {
		switch c.Inbox {
		case "chat":
			assert.Equal(t, notifications.InboxCount{Inbox: "chat", Unread: 0, Total: 1}, c)
		case "tasks":
			assert.Equal(t, notifications.InboxCount{Inbox: "tasks", Unread: 1, Total: 1}, c)
		}
	}

	typ, err := store.GetType(ctx, "ausencia_aprobada")
	require.NoError(t, err)
	require.NoError(t, store.SavePreferences(ctx, user, []notifications.ChannelPreference{
		{TypeID: typ.ID, Channel: notifications.ChannelEmail, Enabled: false, UpdatedAt: at},
	}))
	prefs, err := store.ListPreferencesFor(ctx, []string{user}, typ.ID)
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.False(t, prefs[0].Enabled)
}

func TestStore_Devices(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	user := uuid.NewString()
	token := "tok-" + uuid.NewString()

	require.NoError(t, store.RegisterDevice(ctx, notifications.DeviceToken{Token: token, UserID: user, Platform: "ios"}))
	active, err := store.ListActiveDevices(ctx, user)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, store.RevokeDevice(ctx, token, time.Now()))
	active, err = store.ListActiveDevices(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, store.RegisterDevice(ctx, notifications.DeviceToken{Token: token, UserID: user, Platform: "ios"}))
	active, err = store.ListActiveDevices(ctx, user)
	require.NoError(t, err)
	assert.Len(t, active, 1, "re-registering re-activates")
}
