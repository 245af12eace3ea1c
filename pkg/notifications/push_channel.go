package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/opshub/pkg/logger"
)

// PushMessage is a multicast push request.
type PushMessage struct {
	Tokens []string
	Title  string
	Body   string
	Data   map[string]string
}

// PushResponse carries per-token results in request order.
type PushResponse struct {
	ProviderID string
	Results    []TokenResult
}

// PushTransport sends push messages to a provider.
type PushTransport interface {
	Send(ctx context.Context, msg PushMessage) (PushResponse, error)
}

// PushChannel fans one notification out to every active device of the
// recipient. Tokens the provider reports as permanently invalid are revoked.
type PushChannel struct {
	transport PushTransport
	devices   DeviceStore
	renderer  *Renderer
	logger    *slog.Logger
	now       func() time.Time
}

type PushChannelOption func(*PushChannel)

func WithPushLogger(l *slog.Logger) PushChannelOption {
	return func(c *PushChannel) { c.logger = l }
}

func NewPushChannel(transport PushTransport, devices DeviceStore, renderer *Renderer, opts ...PushChannelOption) *PushChannel {
	c := &PushChannel{
		transport: transport,
		devices:   devices,
		renderer:  renderer,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PushChannel) Channel() Channel { return ChannelPush }

func (c *PushChannel) Prepare(ctx context.Context, env Envelope) (*Outbound, error) {
	devices, err := c.devices.ListActiveDevices(ctx, env.Recipient.UserID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrRecipientUnreachable
	}
	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.Token)
	}
	content := c.renderer.Render(ctx, env.Type, ChannelPush, env.Contact.Locale, env.RenderData())
	return &Outbound{Envelope: env, Content: content, Tokens: tokens}, nil
}

func (c *PushChannel) Send(ctx context.Context, out *Outbound) (Outcome, error) {
	resp, err := c.transport.Send(ctx, PushMessage{
		Tokens: out.Tokens,
		Title:  out.Content.Subject,
		Body:   out.Content.Body,
		Data: map[string]string{
			"notification_id": out.Notification.ID,
			"recipient_id":    out.Recipient.ID,
			"type":            out.Type.Code,
			"inbox":           out.Notification.Inbox,
		},
	})
	if err != nil {
		if len(resp.Results) == 0 {
			return Outcome{}, err
		}
		c.logger.WarnContext(ctx, "push partially sent",
			logger.RecipientID(out.Recipient.ID),
			logger.Error(err),
		)
	}

	c.revoke(ctx, resp.Results)

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	accepted := 0
	for _, r := range resp.Results {
		if r.OK() {
			accepted++
			continue
		}
		errs = append(errs, fmt.Errorf("token %s: %s", shortToken(r.Token), r.Error))
	}
	outcome := Outcome{ProviderID: resp.ProviderID, TokenResults: resp.Results}
	if accepted == 0 {
		return outcome, errors.Join(append([]error{ErrPushRejected}, errs...)...)
	}
	return outcome, nil
}

func (c *PushChannel) revoke(ctx context.Context, results []TokenResult) {
	revokeTokens(ctx, c.devices, c.logger, c.now(), results)
}

func revokeTokens(ctx context.Context, devices DeviceStore, log *slog.Logger, at time.Time, results []TokenResult) {
	for _, r := range results {
		if !r.IsPermanent() {
			continue
		}
		if err := devices.RevokeDevice(ctx, r.Token, at); err != nil {
			log.WarnContext(ctx, "failed to revoke push token", logger.Error(err))
			continue
		}
		log.InfoContext(ctx, "revoked push token", slog.String("reason", r.Error))
	}
}

func shortToken(t string) string {
	if len(t) <= 8 {
		return t
	}
	return t[:8] + "..."
}
