package notifications

import (
	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/opshub/handler"
	"github.com/dmitrymomot/opshub/pkg/binder"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

type UpdatePreferencesRequest struct {
	Changes []notifications.PreferenceChange `json:"changes"`
}

func (m *Module) mountPreferences(r chi.Router) {
	r.Get("/preferences", handler.Wrap(m.listPreferences))
	r.Put("/preferences", handler.Wrap(m.updatePreferences,
		handler.WithBinders[UpdatePreferencesRequest](binder.JSON()),
	))
}

func (m *Module) listPreferences(ctx handler.Context, _ struct{}) handler.Response {
	views, err := m.deps.Preferences.Effective(ctx, userID(ctx))
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(views)
}

func (m *Module) updatePreferences(ctx handler.Context, req UpdatePreferencesRequest) handler.Response {
	v := handler.NewValidationError()
	if len(req.Changes) == 0 {
		v.Add("changes", "at least one change is required")
	}
	for _, c := range req.Changes {
		if c.Type == "" {
			v.Add("changes.type", "type is required")
		}
		if _, err := notifications.ParseChannel(string(c.Channel)); err != nil {
			v.Add("changes.channel", err.Error())
		}
	}
	if err := v.Err(); err != nil {
		return handler.JSONError(err)
	}

	if err := m.deps.Preferences.Update(ctx, userID(ctx), req.Changes); err != nil {
		return m.fail(ctx, err)
	}
	return m.listPreferences(ctx, struct{}{})
}
