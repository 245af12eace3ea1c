package notifications

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/opshub/handler"
	"github.com/dmitrymomot/opshub/pkg/binder"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

// transparentGIF is a 1x1 transparent GIF.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x01, 0x44, 0x00, 0x3b,
}

var pixelHeaders = map[string]string{
	"Cache-Control": "no-store, no-cache, must-revalidate, max-age=0",
	"Pragma":        "no-cache",
}

// pixel always answers with the image, whatever the token. Tracking is not
// cancelled when the mail client hangs up.
func (m *Module) pixel(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token != "" {
		m.deps.Tracker.TrackOpen(context.WithoutCancel(r.Context()), token)
	}
	_ = handler.Blob("image/gif", transparentGIF, pixelHeaders).Render(w, r)
}

func (m *Module) mountCallbacks(r chi.Router) {
	r.Post("/push/report", handler.Wrap(m.pushReport,
		handler.WithBinders[notifications.PushReport](binder.JSON()),
	))
	r.Post("/email/webhook", handler.Wrap(m.emailWebhook,
		handler.WithBinders[PostmarkEvent](binder.JSON(binder.AllowUnknownFields())),
	))
}

func (m *Module) pushReport(ctx handler.Context, req notifications.PushReport) handler.Response {
	if req.DeliveryID == "" && req.ProviderID == "" {
		v := handler.NewValidationError()
		v.Add("delivery_id", "delivery_id or provider_id is required")
		return handler.JSONError(v)
	}
	d, err := m.deps.Tracker.ApplyPushReport(ctx, req)
	if err != nil {
		return m.fail(ctx, err)
	}
	return handler.JSON(d)
}

// PostmarkEvent is the subset of a Postmark webhook payload the tracker
// needs. Only Delivery records change state.
type PostmarkEvent struct {
	RecordType  string            `json:"RecordType"`
	MessageID   string            `json:"MessageID"`
	Recipient   string            `json:"Recipient"`
	DeliveredAt string            `json:"DeliveredAt"`
	Tag         string            `json:"Tag"`
	Metadata    map[string]string `json:"Metadata"`
}

func (m *Module) emailWebhook(ctx handler.Context, req PostmarkEvent) handler.Response {
	if !strings.EqualFold(req.RecordType, "Delivery") || req.MessageID == "" {
		m.logger.DebugContext(ctx, "ignoring email webhook",
			slog.String("record_type", req.RecordType),
			slog.String("message_id", req.MessageID),
		)
		return handler.Empty()
	}
	if err := m.deps.Tracker.HandleProviderDelivered(ctx, notifications.ChannelEmail, req.MessageID); err != nil {
		return m.fail(ctx, err)
	}
	return handler.Empty()
}
