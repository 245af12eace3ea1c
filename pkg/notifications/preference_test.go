package notifications_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/notifications"
)

func TestEnabled(t *testing.T) {
	t.Parallel()
	typ := notifications.NotificationType{DefaultChannels: []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}}

	assert.True(t, notifications.Enabled(typ, notifications.ChannelEmail, nil))
	assert.False(t, notifications.Enabled(typ, notifications.ChannelPush, nil))
	assert.False(t, notifications.Enabled(typ, notifications.ChannelEmail, map[notifications.Channel]bool{notifications.ChannelEmail: false}))
	assert.True(t, notifications.Enabled(typ, notifications.ChannelPush, map[notifications.Channel]bool{notifications.ChannelPush: true}))
}

func TestPreferenceResolver(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	resolver := notifications.NewPreferenceResolver(env.store)

	typ, err := env.store.GetType(ctx, "ausencia_aprobada")
	require.NoError(t, err)

	require.NoError(t, env.prefs.Update(ctx, "u1", []notifications.PreferenceChange{
		{Type: "ausencia_aprobada", Channel: notifications.ChannelEmail, Enabled: false},
		{Type: "ausencia_aprobada", Channel: notifications.ChannelPush, Enabled: true},
	}))

	ok, err := resolver.Resolve(ctx, "u1", *typ, notifications.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok)

	sets, err := resolver.ResolveMany(ctx, []string{"u1", "u2"}, *typ)
	require.NoError(t, err)
	assert.Equal(t, []notifications.Channel{notifications.ChannelInApp, notifications.ChannelPush}, sets["u1"].Ordered())
	assert.Equal(t, []notifications.Channel{notifications.ChannelInApp, notifications.ChannelEmail}, sets["u2"].Ordered())
}

func TestPreferenceService(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("rejects unknown channel atomically", func(t *testing.T) {
		err := env.prefs.Update(ctx, "u2", []notifications.PreferenceChange{
			{Type: "recordatorio", Channel: notifications.ChannelEmail, Enabled: true},
			{Type: "recordatorio", Channel: "sms", Enabled: true},
		})
		require.ErrorIs(t, err, notifications.ErrUnknownChannel)

		stored, err := env.store.ListPreferences(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		err := env.prefs.Update(ctx, "u2", []notifications.PreferenceChange{
			{Type: "nope", Channel: notifications.ChannelEmail, Enabled: true},
		})
		require.ErrorIs(t, err, notifications.ErrUnknownType)
	})

	t.Run("effective matrix marks explicit rows", func(t *testing.T) {
		require.NoError(t, env.prefs.Update(ctx, "u3", []notifications.PreferenceChange{
			{Type: "mensaje_chat", Channel: notifications.ChannelPush, Enabled: false},
		}))

		views, err := env.prefs.Effective(ctx, "u3")
		require.NoError(t, err)
		assert.Len(t, views, 9*len(notifications.KnownChannels))

		var push, inApp notifications.PreferenceView
		for _, v := range views {
			if v.TypeCode != "mensaje_chat" {
				continue
			}
			switch v.Channel {
			case notifications.ChannelPush:
				push = v
			case notifications.ChannelInApp:
				inApp = v
			}
		}
		assert.False(t, push.Enabled)
		assert.True(t, push.Explicit)
		assert.True(t, inApp.Enabled)
		assert.False(t, inApp.Explicit)
		assert.Equal(t, "chat", inApp.Inbox)
	})
}
