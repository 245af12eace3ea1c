package notifications_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/notifications"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c, err := notifications.DefaultCatalog()
	require.NoError(t, err)
	assert.Len(t, c.Types, 9)

	fb := c.Fallbacks()
	for _, code := range []string{
		"tarea_asignada", "ausencia_aprobada", "ausencia_solicitada", "evento_calendario", "mensaje_chat",
		"asistencia_cierre_automatico", "onboarding_por_vencer", "onboarding_vencido", "recordatorio",
	} {
		assert.Contains(t, fb, code)
	}
}

func TestCatalog_SeedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := notifications.NewMemoryStorage()
	c, err := notifications.DefaultCatalog()
	require.NoError(t, err)

	require.NoError(t, c.Seed(ctx, store))
	first, err := store.GetType(ctx, "onboarding_vencido")
	require.NoError(t, err)
	require.NoError(t, c.Seed(ctx, store))
	second, err := store.GetType(ctx, "onboarding_vencido")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, notifications.ImportanceUrgent, second.Importance)
	types, err := store.ListTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 9)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"unknown inbox", "inboxes: []\ntypes:\n  - code: x\n    inbox: missing\n", notifications.ErrUnknownInbox},
		{"unknown channel", "inboxes:\n  - code: a\ntypes:\n  - code: x\n    inbox: a\n    channels: [sms]\n", notifications.ErrUnknownChannel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := notifications.LoadCatalog(strings.NewReader(tt.yaml))
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := notifications.LoadCatalog(strings.NewReader("types:\n  - code: x\n    importance: extreme\n"))
	require.Error(t, err)
}
