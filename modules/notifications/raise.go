package notifications

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/opshub/handler"
	"github.com/dmitrymomot/opshub/pkg/binder"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

func (m *Module) mountRaise(r chi.Router) {
	r.Post("/notifications", handler.Wrap(m.raise,
		handler.WithBinders[notifications.RaiseRequest](binder.JSON()),
	))
}

// raise answers 201 once the notification is stored. Channel outcomes are
// visible through the inbox and the delivery diagnostics, not here.
func (m *Module) raise(ctx handler.Context, req notifications.RaiseRequest) handler.Response {
	n, err := m.deps.Engine.Raise(ctx, req)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(n, handler.WithJSONStatus(http.StatusCreated))
}
