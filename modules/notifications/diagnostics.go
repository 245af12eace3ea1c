package notifications

import (
	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/opshub/handler"
	"github.com/dmitrymomot/opshub/pkg/binder"
)

type RecipientDeliveriesRequest struct {
	ID string `path:"id"`
}

func (m *Module) mountDiagnostics(r chi.Router) {
	r.Get("/recipients/{id}/deliveries", handler.Wrap(m.recipientDeliveries,
		handler.WithBinders[RecipientDeliveriesRequest](binder.Path(chi.URLParam)),
	))
}

// recipientDeliveries lists every channel attempt for one inbox item of the
// caller, including attempt counts and the last error.
func (m *Module) recipientDeliveries(ctx handler.Context, req RecipientDeliveriesRequest) handler.Response {
	rec, err := m.deps.Recipients.GetRecipient(ctx, userID(ctx), req.ID)
	if err != nil {
		return m.fail(ctx, err)
	}
	deliveries, err := m.deps.Deliveries.ListDeliveries(ctx, rec.ID)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(deliveries)
}
