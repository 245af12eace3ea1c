package notifications_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/opshub/pkg/notifications"
)

func TestInterpolate(t *testing.T) {
	t.Parallel()
	data := map[string]any{
		"name":  "Ana",
		"count": 3,
		"task":  map[string]any{"title": "Cerrar caja", "owner": map[string]any{"name": "Luis"}},
		"tags":  map[string]string{"area": "ventas"},
	}

	tests := []struct {
		tpl, want string
	}{
		{"Hola {{name}}", "Hola Ana"},
		{"Hola {{ name }}", "Hola Ana"},
		{"{{count}} tareas", "3 tareas"},
		{"{{task.title}} de {{task.owner.name}}", "Cerrar caja de Luis"},
		{"{{tags.area}}", "ventas"},
		{"[{{missing}}]", "[]"},
		{"[{{task.missing.deep}}]", "[]"},
		{"[{{task}}]", "[]"},
		{"{{ not valid-key }}", "{{ not valid-key }}"},
	}
	for _, tt := range tests {
		t.Run(tt.tpl, func(t *testing.T) {
			assert.Equal(t, tt.want, notifications.Interpolate(tt.tpl, data, nil))
		})
	}
}

func TestLocaleChain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"es-AR", "es", ""}, notifications.LocaleChain("es-AR"))
	assert.Equal(t, []string{"es", ""}, notifications.LocaleChain("es"))
	assert.Equal(t, []string{""}, notifications.LocaleChain(""))
	assert.Equal(t, []string{""}, notifications.LocaleChain("???"))
}

func TestRenderer_Render(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	typ, err := env.store.GetType(ctx, "recordatorio")
	require.NoError(t, err)
	data := map[string]any{"title": "Llamar", "message": "Cliente <ACME> & co"}

	t.Run("builtin fallback", func(t *testing.T) {
		c := env.renderer.Render(ctx, *typ, notifications.ChannelInApp, "es", data)
		assert.Equal(t, notifications.SourceBuiltin, c.Source)
		assert.Equal(t, "Recordatorio: Llamar", c.Subject)
		assert.Equal(t, "Cliente <ACME> & co", c.Body)
	})

	t.Run("email escapes values", func(t *testing.T) {
		c := env.renderer.Render(ctx, *typ, notifications.ChannelEmail, "es", data)
		assert.Equal(t, "<p>Cliente &lt;ACME&gt; &amp; co</p>", c.Body)
		assert.Equal(t, "Cliente <ACME> & co", c.Text)
	})

	t.Run("generic when type has no builtin", func(t *testing.T) {
		bare := notifications.NewRenderer(nil)
		c := bare.Render(ctx, *typ, notifications.ChannelPush, "", data)
		assert.Equal(t, notifications.SourceGeneric, c.Source)
		assert.Equal(t, "Llamar", c.Subject)
		assert.Equal(t, "Cliente <ACME> & co", c.Body)
	})

	t.Run("empty subject falls back to type name", func(t *testing.T) {
		bare := notifications.NewRenderer(nil)
		c := bare.Render(ctx, *typ, notifications.ChannelPush, "", map[string]any{})
		assert.Equal(t, "Recordatorio", c.Subject)
	})
}

func TestRenderer_StoreTemplateLocaleChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	typ, err := env.store.GetType(ctx, "tarea_asignada")
	require.NoError(t, err)
	require.NoError(t, env.store.SaveTemplate(ctx, notifications.Template{
		TypeID: typ.ID, Channel: notifications.ChannelInApp, Locale: "es",
		Subject: "Tarea: {{task_title}}", Body: "Asignada por {{assigned_by}}",
	}))
	require.NoError(t, env.store.SaveTemplate(ctx, notifications.Template{
		TypeID: typ.ID, Channel: notifications.ChannelInApp, Locale: "",
		Subject: "Task: {{task_title}}", Body: "Assigned by {{assigned_by}}",
	}))
	data := map[string]any{"task_title": "Inventario", "assigned_by": "Marta"}

	c := env.renderer.Render(ctx, *typ, notifications.ChannelInApp, "es-AR", data)
	assert.Equal(t, notifications.SourceStore, c.Source)
	assert.Equal(t, "Tarea: Inventario", c.Subject)
	assert.Equal(t, "Asignada por Marta", c.Body)

	c = env.renderer.Render(ctx, *typ, notifications.ChannelInApp, "pt-BR", data)
	assert.Equal(t, "Task: Inventario", c.Subject)

	c = env.renderer.Render(ctx, *typ, notifications.ChannelEmail, "es-AR", data)
	assert.Equal(t, notifications.SourceBuiltin, c.Source, "templates are per channel")
}

func TestRenderer_DefaultLocale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	typ, err := env.store.GetType(ctx, "tarea_asignada")
	require.NoError(t, err)
	require.NoError(t, env.store.SaveTemplate(ctx, notifications.Template{
		TypeID: typ.ID, Channel: notifications.ChannelInApp, Locale: "es",
		Subject: "Tarea: {{task_title}}", Body: "Asignada",
	}))
	data := map[string]any{"task_title": "Inventario"}

	r := notifications.NewRenderer(env.store, notifications.WithDefaultLocale("es"))
	c := r.Render(ctx, *typ, notifications.ChannelInApp, "", data)
	assert.Equal(t, notifications.SourceStore, c.Source)
	assert.Equal(t, "Tarea: Inventario", c.Subject)

	c = r.Render(ctx, *typ, notifications.ChannelInApp, "en", data)
	assert.NotEqual(t, notifications.SourceStore, c.Source, "explicit locale wins over the default")
}

func TestRenderer_StoreEmailTemplatePlainText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	typ, err := env.store.GetType(ctx, "tarea_asignada")
	require.NoError(t, err)
	require.NoError(t, env.store.SaveTemplate(ctx, notifications.Template{
		TypeID: typ.ID, Channel: notifications.ChannelEmail, Locale: "",
		Subject: "Tarea: {{task_title}}",
		Body:    "<h1>Nueva tarea</h1><p>{{task_title}} &amp; más<br>Asignada por {{assigned_by}}</p>",
	}))
	data := map[string]any{"task_title": "Caja <A>", "assigned_by": "Marta"}

	c := env.renderer.Render(ctx, *typ, notifications.ChannelEmail, "", data)
	assert.Equal(t, notifications.SourceStore, c.Source)
	assert.Contains(t, c.Body, "Caja &lt;A&gt;")
	assert.Equal(t, "Nueva tarea\nCaja <A> & más\nAsignada por Marta", c.Text)
}
