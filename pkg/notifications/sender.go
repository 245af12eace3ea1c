package notifications

import (
	"context"
	"maps"
)

// Envelope is what a channel gets for one recipient.
type Envelope struct {
	Notification  Notification
	Recipient     Recipient
	Type          NotificationType
	Contact       Contact
	TrackingToken string
}

// RenderData builds template data: the payload plus title, message, type
// and recipient fields.
func (e Envelope) RenderData() map[string]any {
	data := make(map[string]any, len(e.Notification.Payload)+6)
	maps.Copy(data, e.Notification.Payload)
	data["title"] = e.Notification.Title
	data["message"] = e.Notification.Message
	data["type"] = e.Type.Code
	data["type_name"] = e.Type.Name
	data["recipient_name"] = e.Contact.Name
	data["recipient"] = map[string]any{
		"id":    e.Contact.UserID,
		"name":  e.Contact.Name,
		"email": e.Contact.Email,
	}
	return data
}

// Outbound is a prepared message, ready for Send.
type Outbound struct {
	Envelope
	Content Content
	Address string
	Tokens  []string
}

// Outcome describes a successful send.
type Outcome struct {
	ProviderID   string
	TokenResults []TokenResult
}

// Sender delivers notifications on one channel.
//
// Prepare checks eligibility and renders content; it returns
// ErrRecipientUnreachable when there is nothing to send to, in which case no
// Delivery is created. Send performs the transport call and must honour ctx.
// Send may return token results together with an error.
type Sender interface {
	Channel() Channel
	Prepare(ctx context.Context, env Envelope) (*Outbound, error)
	Send(ctx context.Context, out *Outbound) (Outcome, error)
}

// InAppChannel stores the rendered content on the delivery row. Feeding a
// realtime transport is left to consumers of the inbox read model.
type InAppChannel struct {
	renderer *Renderer
}

func NewInAppChannel(renderer *Renderer) *InAppChannel {
	return &InAppChannel{renderer: renderer}
}

func (c *InAppChannel) Channel() Channel { return ChannelInApp }

func (c *InAppChannel) Prepare(ctx context.Context, env Envelope) (*Outbound, error) {
	content := c.renderer.Render(ctx, env.Type, ChannelInApp, env.Contact.Locale, env.RenderData())
	return &Outbound{Envelope: env, Content: content}, nil
}

func (c *InAppChannel) Send(ctx context.Context, _ *Outbound) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nil
}
