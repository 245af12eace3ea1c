package notifications_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/notifications"
)

func TestEngine_Raise_TaskAssigned(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	n := env.raise(t, notifications.RaiseRequest{
		Type:       "tarea_asignada",
		Title:      "Nueva tarea",
		Payload:    map[string]any{"task_title": "Revisar contrato", "assigned_by": "Marta"},
		Refs:       notifications.Refs{TaskID: "task-1"},
		Recipients: []string{"u1"},
	})

	assert.Equal(t, "tasks", n.Inbox)
	assert.NotNil(t, n.DispatchedAt)

	rs := env.recipients(t, n.ID)
	require.Len(t, rs, 1)

	ds := env.deliveries(t, n.ID, "u1")
	require.Contains(t, ds, notifications.ChannelInApp)
	require.Contains(t, ds, notifications.ChannelEmail)
	assert.NotContains(t, ds, notifications.ChannelPush, "no device registered")

	inApp := ds[notifications.ChannelInApp]
	assert.Equal(t, notifications.StatusSent, inApp.Status)
	assert.Equal(t, "Nueva tarea: Revisar contrato", inApp.Subject)
	assert.Contains(t, inApp.Body, `Marta te asignó la tarea "Revisar contrato"`)

	mail := ds[notifications.ChannelEmail]
	assert.Equal(t, notifications.StatusSent, mail.Status)
	assert.Equal(t, "pm-ana@example.com", mail.ProviderID)
	assert.Equal(t, 1, mail.AttemptCount)

	sent := env.mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ana@example.com", sent[0].SendTo)
	assert.Equal(t, "tarea_asignada", sent[0].Tag)
	assert.Contains(t, sent[0].BodyHTML, "https://hub.example.com/t/"+mail.TrackingToken+".gif")
}

func TestEngine_Raise_EmailFailureIsRecorded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")

	n, err := env.engine.Raise(context.Background(), notifications.RaiseRequest{
		Type:       "tarea_asignada",
		Recipients: []string{"u1"},
	})
	require.NoError(t, err, "channel failures never reach the caller")

	ds := env.deliveries(t, n.ID, "u1")
	assert.Equal(t, notifications.StatusSent, ds[notifications.ChannelInApp].Status)
	mail := ds[notifications.ChannelEmail]
	assert.Equal(t, notifications.StatusFailed, mail.Status)
	assert.Equal(t, "smtp down", mail.LastError)
	assert.Equal(t, 1, mail.AttemptCount)
	assert.NotNil(t, mail.FailedAt)
}

func TestEngine_Raise_SendTimeout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, notifications.WithSendTimeout(50*time.Millisecond))
	env.mailer.block = true

	start := time.Now()
	n := env.raise(t, notifications.RaiseRequest{Type: "tarea_asignada", Recipients: []string{"u1"}})
	assert.Less(t, time.Since(start), 2*time.Second)

	ds := env.deliveries(t, n.ID, "u1")
	mail := ds[notifications.ChannelEmail]
	assert.Equal(t, notifications.StatusFailed, mail.Status)
	assert.Contains(t, mail.LastError, notifications.ErrSendTimeout.Error())
	assert.Equal(t, notifications.StatusSent, ds[notifications.ChannelInApp].Status)
}

func TestEngine_Raise_RespectsDisabledChannel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.prefs.Update(ctx, "u1", []notifications.PreferenceChange{
		{Type: "ausencia_aprobada", Channel: notifications.ChannelEmail, Enabled: false},
	}))

	n := env.raise(t, notifications.RaiseRequest{
		Type:       "ausencia_aprobada",
		Refs:       notifications.Refs{AbsenceID: "abs-9"},
		Recipients: []string{"u1", "u2"},
	})

	u1 := env.deliveries(t, n.ID, "u1")
	assert.NotContains(t, u1, notifications.ChannelEmail)
	assert.Contains(t, u1, notifications.ChannelInApp)

	u2 := env.deliveries(t, n.ID, "u2")
	assert.Contains(t, u2, notifications.ChannelEmail, "other users keep defaults")
}

func TestEngine_Raise_ExplicitEnableBeyondDefaults(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerDevice(t, "u1", "tok-a")

	require.NoError(t, env.prefs.Update(ctx, "u1", []notifications.PreferenceChange{
		{Type: "ausencia_aprobada", Channel: notifications.ChannelPush, Enabled: true},
	}))

	n := env.raise(t, notifications.RaiseRequest{Type: "ausencia_aprobada", Recipients: []string{"u1"}})
	ds := env.deliveries(t, n.ID, "u1")
	require.Contains(t, ds, notifications.ChannelPush)
	assert.Equal(t, notifications.StatusSent, ds[notifications.ChannelPush].Status)
}

func TestEngine_Raise_DuplicateRecipients(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	n := env.raise(t, notifications.RaiseRequest{
		Type:       "mensaje_chat",
		Payload:    map[string]any{"sender_name": "Bruno", "preview": "hola"},
		Recipients: []string{"u1", "u1", " u1 ", ""},
	})

	rs := env.recipients(t, n.ID)
	require.Len(t, rs, 1)
	assert.Equal(t, "u1", rs[0].UserID)
	assert.Len(t, env.deliveries(t, n.ID, "u1"), 1, "in-app only; push has no device")
}

func TestEngine_Raise_Validation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  notifications.RaiseRequest
		want error
	}{
		{"unknown type", notifications.RaiseRequest{Type: "nope", Recipients: []string{"u1"}}, notifications.ErrUnknownType},
		{"empty type", notifications.RaiseRequest{Recipients: []string{"u1"}}, notifications.ErrUnknownType},
		{"no recipients", notifications.RaiseRequest{Type: "recordatorio"}, notifications.ErrNoRecipients},
		{"blank recipients", notifications.RaiseRequest{Type: "recordatorio", Recipients: []string{" ", ""}}, notifications.ErrNoRecipients},
		{"bad payload", notifications.RaiseRequest{
			Type:       "recordatorio",
			Payload:    map[string]any{"ch": make(chan int)},
			Recipients: []string{"u1"},
		}, notifications.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := env.engine.Raise(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, n)
		})
	}
}

func TestEngine_Raise_ResolvesTypeByID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	typ, err := env.store.GetType(context.Background(), "recordatorio")
	require.NoError(t, err)

	n := env.raise(t, notifications.RaiseRequest{
		Type:       strconv.FormatInt(typ.ID, 10),
		Recipients: []string{"u1"},
	})
	assert.Equal(t, "recordatorio", n.TypeCode)
	assert.Equal(t, "Recordatorio", n.Title, "title defaults to type name")
}

func TestEngine_Raise_DedupeKey(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	req := notifications.RaiseRequest{
		Type:       "recordatorio",
		Title:      "Llamar al cliente",
		DedupeKey:  "reminder:42",
		Recipients: []string{"u1"},
	}
	first := env.raise(t, req)
	second := env.raise(t, req)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, env.recipients(t, first.ID), 1)
	assert.Len(t, env.deliveries(t, first.ID, "u1"), 1)
}

func TestEngine_Raise_Scheduled(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	at := env.clock.Now().Add(time.Hour)
	n := env.raise(t, notifications.RaiseRequest{
		Type:         "evento_calendario",
		Payload:      map[string]any{"event_title": "Reunión", "starts_at": "10:00"},
		ScheduledFor: &at,
		Recipients:   []string{"u1"},
	})
	assert.Nil(t, n.DispatchedAt)
	assert.Empty(t, env.deliveries(t, n.ID, "u1"))

	page, err := env.inbox.List(ctx, "u1", notifications.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Items, "scheduled items stay hidden until dispatched")

	dispatched, err := env.engine.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, dispatched)

	env.clock.Advance(time.Hour)
	dispatched, err = env.engine.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, notifications.StatusSent, env.deliveries(t, n.ID, "u1")[notifications.ChannelInApp].Status)

	again, err := env.engine.DispatchDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, again, "claimed notifications are not dispatched twice")

	page, err = env.inbox.List(ctx, "u1", notifications.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestEngine_Raise_PushFanOut(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerDevice(t, "u1", "tok-a")
	env.clock.Advance(time.Second)
	env.registerDevice(t, "u1", "tok-b")
	env.push.rejected["tok-b"] = notifications.PushErrNotRegistered

	n := env.raise(t, notifications.RaiseRequest{Type: "tarea_asignada", Recipients: []string{"u1"}})

	push := env.deliveries(t, n.ID, "u1")[notifications.ChannelPush]
	assert.Equal(t, notifications.StatusSent, push.Status, "one accepted token is enough")
	require.Len(t, push.TokenResults, 2)
	assert.True(t, push.TokenResults[0].OK())
	assert.Equal(t, notifications.PushErrNotRegistered, push.TokenResults[1].Error)

	active, err := env.store.ListActiveDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "tok-a", active[0].Token)
}

func TestEngine_Raise_PushAllRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.registerDevice(t, "u1", "tok-a")
	env.push.rejected["tok-a"] = notifications.PushErrInvalidRegistration

	n := env.raise(t, notifications.RaiseRequest{Type: "tarea_asignada", Recipients: []string{"u1"}})

	push := env.deliveries(t, n.ID, "u1")[notifications.ChannelPush]
	assert.Equal(t, notifications.StatusFailed, push.Status)
	assert.Contains(t, push.LastError, notifications.ErrPushRejected.Error())
	require.Len(t, push.TokenResults, 1)
}

func TestEngine_Raise_PushPartiallySent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerDevice(t, "u1", "tok-a")
	env.clock.Advance(time.Second)
	env.registerDevice(t, "u1", "tok-b")
	env.push.rejected["tok-b"] = notifications.PushErrUnavailable
	env.push.partialErr = errors.New("second batch: 503")

	n := env.raise(t, notifications.RaiseRequest{Type: "tarea_asignada", Recipients: []string{"u1"}})

	push := env.deliveries(t, n.ID, "u1")[notifications.ChannelPush]
	assert.Equal(t, notifications.StatusSent, push.Status, "accepted tokens outweigh a failed batch")
	require.Len(t, push.TokenResults, 2)
	assert.Equal(t, notifications.PushErrUnavailable, push.TokenResults[1].Error)

	active, err := env.store.ListActiveDevices(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, active, 2, "unsent tokens are not revoked")
}

func TestEngine_Raise_UnreachableEmail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	n := env.raise(t, notifications.RaiseRequest{Type: "tarea_asignada", Recipients: []string{"u3"}})
	ds := env.deliveries(t, n.ID, "u3")
	assert.NotContains(t, ds, notifications.ChannelEmail)
	assert.Contains(t, ds, notifications.ChannelInApp)
	assert.Empty(t, env.mailer.messages())
}

func TestEngine_Dispatch_NeverLeavesQueued(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.registerDevice(t, "u2", "tok-z")
	env.push.err = errors.New("provider unavailable")

	n := env.raise(t, notifications.RaiseRequest{Type: "onboarding_vencido", Recipients: []string{"u1", "u2", "u3"}})
	for _, uid := range []string{"u1", "u2", "u3"} {
		for ch, d := range env.deliveries(t, n.ID, uid) {
			assert.NotEqual(t, notifications.StatusQueued, d.Status, "%s/%s", uid, ch)
		}
	}
	assert.Equal(t, notifications.StatusFailed, env.deliveries(t, n.ID, "u2")[notifications.ChannelPush].Status)
}

func TestEngine_Raise_SaturatedSendSlots(t *testing.T) {
	t.Parallel()
	directory := notifications.StaticDirectory{}
	users := make([]string, 0, 8)
	for i := range 8 {
		uid := fmt.Sprintf("m%d", i)
		users = append(users, uid)
		directory[uid] = notifications.Contact{Name: uid, Email: uid + "@example.com"}
	}
	env := newTestEnv(t,
		notifications.WithDirectory(directory),
		notifications.WithMaxConcurrency(1),
		notifications.WithSendTimeout(300*time.Millisecond),
	)
	env.mailer.block = true

	start := time.Now()
	n := env.raise(t, notifications.RaiseRequest{Type: "tarea_asignada", Recipients: users})
	assert.Less(t, time.Since(start), 1500*time.Millisecond)

	for _, uid := range users {
		ds := env.deliveries(t, n.ID, uid)
		mail, ok := ds[notifications.ChannelEmail]
		require.True(t, ok, "email delivery for %s exists when raise returns", uid)
		assert.Equal(t, notifications.StatusFailed, mail.Status, uid)
		assert.Contains(t, mail.LastError, notifications.ErrSendTimeout.Error(), uid)
		for ch, d := range ds {
			assert.NotEqual(t, notifications.StatusQueued, d.Status, "%s/%s", uid, ch)
		}
	}
}

func TestEngine_Dispatch_ReportsCarryChannel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t,
		notifications.WithMaxConcurrency(1),
		notifications.WithSendTimeout(100*time.Millisecond),
	)
	env.mailer.block = true

	n := env.raise(t, notifications.RaiseRequest{Type: "tarea_asignada", Recipients: []string{"u1", "u2"}})
	reports, err := env.engine.Dispatch(context.Background(), *n)
	require.NoError(t, err)
	for _, r := range reports {
		assert.NotEmpty(t, r.Channel)
		assert.NotEmpty(t, r.UserID)
	}
}
