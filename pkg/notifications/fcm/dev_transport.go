package fcm

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/opshub/pkg/logger"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

// DevTransport logs push messages and reports every token as accepted.
type DevTransport struct {
	logger *slog.Logger
}

var _ notifications.PushTransport = (*DevTransport)(nil)

func NewDevTransport(log *slog.Logger) *DevTransport {
	return &DevTransport{logger: log}
}

func (t *DevTransport) Send(ctx context.Context, msg notifications.PushMessage) (notifications.PushResponse, error) {
	if err := ctx.Err(); err != nil {
		return notifications.PushResponse{}, err
	}
	id := uuid.NewString()
	resp := notifications.PushResponse{ProviderID: id}
	for _, tok := range msg.Tokens {
		resp.Results = append(resp.Results, notifications.TokenResult{Token: tok, MessageID: id + ":" + tok})
	}
	t.logger.InfoContext(ctx, "push message",
		logger.Component("fcm.dev"),
		slog.String("title", msg.Title),
		logger.Count(len(msg.Tokens)),
	)
	return resp, nil
}
