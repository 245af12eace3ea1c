package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrymomot/opshub/pkg/email"
	"github.com/dmitrymomot/opshub/pkg/email/templates"
)

// EmailChannel renders notifications into the HTML layout and hands them to
// an email.EmailSender. Every message carries a tracking pixel keyed by the
// delivery's tracking token.
type EmailChannel struct {
	mailer   email.EmailSender
	renderer *Renderer
	baseURL  string
	footer   string
}

type EmailChannelOption func(*EmailChannel)

// WithEmailFooter sets footer text appended to every message.
func WithEmailFooter(footer string) EmailChannelOption {
	return func(c *EmailChannel) { c.footer = footer }
}

// NewEmailChannel creates the email channel. baseURL is the public origin
// serving the tracking pixel; pixels are disabled when it is empty.
func NewEmailChannel(mailer email.EmailSender, renderer *Renderer, baseURL string, opts ...EmailChannelOption) *EmailChannel {
	c := &EmailChannel{
		mailer:   mailer,
		renderer: renderer,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EmailChannel) Channel() Channel { return ChannelEmail }

// PixelURL returns the tracking pixel address for token.
func (c *EmailChannel) PixelURL(token string) string {
	if c.baseURL == "" || token == "" {
		return ""
	}
	return c.baseURL + "/t/" + token + ".gif"
}

func (c *EmailChannel) Prepare(ctx context.Context, env Envelope) (*Outbound, error) {
	addr := strings.TrimSpace(env.Contact.Email)
	if !email.ValidAddress(addr) {
		return nil, ErrRecipientUnreachable
	}
	content := c.renderer.Render(ctx, env.Type, ChannelEmail, env.Contact.Locale, env.RenderData())
	doc, err := templates.Render(ctx, templates.Layout(templates.LayoutData{
		Title:    content.Subject,
		Content:  content.Body,
		PixelURL: c.PixelURL(env.TrackingToken),
		Footer:   c.footer,
	}))
	if err != nil {
		return nil, fmt.Errorf("render email layout: %w", err)
	}
	content.Body = doc
	return &Outbound{Envelope: env, Content: content, Address: addr}, nil
}

func (c *EmailChannel) Send(ctx context.Context, out *Outbound) (Outcome, error) {
	id, err := c.mailer.SendEmail(ctx, email.SendEmailParams{
		SendTo:   out.Address,
		Subject:  out.Content.Subject,
		BodyHTML: out.Content.Body,
		BodyText: out.Content.Text,
		Tag:      out.Type.Code,
		Metadata: map[string]string{
			"notification_id": out.Notification.ID,
			"recipient_id":    out.Recipient.ID,
		},
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ProviderID: id}, nil
}
