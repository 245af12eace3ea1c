package fcm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/dmitrymomot/opshub/pkg/notifications"
)

type message struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    notification      `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
	Priority        string            `json:"priority,omitempty"`
	TimeToLive      int               `json:"time_to_live,omitempty"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type response struct {
	MulticastID int64    `json:"multicast_id"`
	Success     int      `json:"success"`
	Failure     int      `json:"failure"`
	Results     []result `json:"results"`
}

type result struct {
	MessageID      string `json:"message_id,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Client sends multicast push messages.
type Client struct {
	cfg  Config
	http *resty.Client
}

var _ notifications.PushTransport = (*Client)(nil)

type Option func(*Client)

// WithRestyClient replaces the underlying HTTP client.
func WithRestyClient(rc *resty.Client) Option {
	return func(c *Client) { c.http = rc }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrMissingServerKey
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	c := &Client{
		cfg:  cfg,
		http: resty.New().SetTimeout(cfg.Timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.
		SetHeader("Authorization", "key="+cfg.ServerKey).
		SetHeader("Content-Type", "application/json")
	return c, nil
}

// Send delivers msg to every token, batching as needed. Results are in
// token order. ProviderID is the multicast ID of the first batch. When a
// batch fails after earlier ones were accepted, the error comes with the
// accepted results and every unsent token reported as unavailable.
func (c *Client) Send(ctx context.Context, msg notifications.PushMessage) (notifications.PushResponse, error) {
	var out notifications.PushResponse
	for start := 0; start < len(msg.Tokens); start += c.cfg.BatchSize {
		batch := msg.Tokens[start:min(start+c.cfg.BatchSize, len(msg.Tokens))]
		resp, err := c.sendBatch(ctx, batch, msg)
		if err != nil {
			if len(out.Results) == 0 {
				return out, err
			}
			for _, tok := range msg.Tokens[start:] {
				out.Results = append(out.Results, notifications.TokenResult{
					Token: tok,
					Error: notifications.PushErrUnavailable,
				})
			}
			return out, err
		}
		if out.ProviderID == "" && resp.MulticastID != 0 {
			out.ProviderID = strconv.FormatInt(resp.MulticastID, 10)
		}
		for i, tok := range batch {
			r := resp.Results[i]
			out.Results = append(out.Results, notifications.TokenResult{
				Token:     tok,
				MessageID: r.MessageID,
				Error:     r.Error,
			})
		}
	}
	return out, nil
}

func (c *Client) sendBatch(ctx context.Context, tokens []string, msg notifications.PushMessage) (*response, error) {
	body := message{
		RegistrationIDs: tokens,
		Notification:    notification{Title: msg.Title, Body: msg.Body, Sound: "default"},
		Data:            msg.Data,
		Priority:        c.cfg.Priority,
		TimeToLive:      int(c.cfg.TTL.Seconds()),
	}
	var parsed response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		Post(c.cfg.Endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Join(ErrRequestFailed, ctxErr)
		}
		return nil, errors.Join(ErrRequestFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode(), resp.String())
	}
	if len(parsed.Results) != len(tokens) {
		return nil, fmt.Errorf("%w: %d results for %d tokens", ErrResultMismatch, len(parsed.Results), len(tokens))
	}
	return &parsed, nil
}
