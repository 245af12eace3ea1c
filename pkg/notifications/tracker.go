package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/opshub/pkg/logger"
)

// DefaultTrackingTTL bounds how long an open-tracking token is honoured.
const DefaultTrackingTTL = 90 * 24 * time.Hour

// Tracker owns delivery state. Every status change goes through it and
// regressing or repeated transitions are silently ignored.
type Tracker struct {
	deliveries  DeliveryStore
	inbox       InboxStore
	devices     DeviceStore
	logger      *slog.Logger
	trackingTTL time.Duration
	now         func() time.Time
}

type TrackerOption func(*Tracker)

func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithTrackingTTL sets how long after creation an open token is accepted.
func WithTrackingTTL(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.trackingTTL = d }
}

// WithTrackerClock overrides the time source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(store Storage, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		deliveries:  store,
		inbox:       store,
		devices:     store,
		logger:      slog.Default(),
		trackingTTL: DefaultTrackingTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Queue creates a delivery in the queued state. It reports false when a
// delivery for the same recipient and channel already exists; the existing
// row is returned.
func (t *Tracker) Queue(ctx context.Context, d Delivery) (*Delivery, bool, error) {
	now := t.now()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.TrackingToken == "" {
		d.TrackingToken = uuid.NewString()
	}
	d.Status = StatusQueued
	d.AttemptCount = 0
	d.CreatedAt = now
	d.UpdatedAt = now
	return t.deliveries.CreateDelivery(ctx, d)
}

func (t *Tracker) MarkSent(ctx context.Context, id string, out Outcome) (*Delivery, bool, error) {
	return t.transition(ctx, id, Transition{
		To:           StatusSent,
		At:           t.now(),
		ProviderID:   out.ProviderID,
		TokenResults: out.TokenResults,
	})
}

func (t *Tracker) MarkDelivered(ctx context.Context, id string) (*Delivery, bool, error) {
	return t.transition(ctx, id, Transition{To: StatusDelivered, At: t.now()})
}

// MarkFailed records cause on the delivery. results may be nil.
func (t *Tracker) MarkFailed(ctx context.Context, id string, cause error, results []TokenResult) (*Delivery, bool, error) {
	return t.transition(ctx, id, FailedTransition(t.now(), cause, results))
}

func (t *Tracker) transition(ctx context.Context, id string, tr Transition) (*Delivery, bool, error) {
	d, applied, err := t.deliveries.TransitionDelivery(ctx, id, tr)
	if err != nil {
		return nil, false, fmt.Errorf("transition delivery %s to %s: %w", id, tr.To, err)
	}
	if !applied && d != nil {
		t.logger.DebugContext(ctx, "delivery transition ignored",
			logger.DeliveryID(id),
			slog.String("from", string(d.Status)),
			slog.String("to", string(tr.To)),
		)
	}
	return d, applied, nil
}

// TrackOpen handles an open-tracking hit. Unknown and expired tokens are
// ignored. A successful open also marks the owning recipient read.
func (t *Tracker) TrackOpen(ctx context.Context, token string) {
	if token == "" {
		return
	}
	d, err := t.deliveries.GetDeliveryByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, ErrDeliveryNotFound) {
			t.logger.WarnContext(ctx, "open tracking lookup failed", logger.Error(err))
		}
		return
	}
	now := t.now()
	if t.trackingTTL > 0 && now.Sub(d.CreatedAt) > t.trackingTTL {
		return
	}
	if _, _, err := t.transition(ctx, d.ID, Transition{To: StatusOpened, At: now}); err != nil {
		t.logger.WarnContext(ctx, "failed to record open", logger.DeliveryID(d.ID), logger.Error(err))
		return
	}
	changed, err := t.inbox.MarkRecipientRead(ctx, d.RecipientID, now)
	if err != nil {
		t.logger.WarnContext(ctx, "failed to mark recipient read on open",
			logger.RecipientID(d.RecipientID),
			logger.Error(err),
		)
		return
	}
	if changed {
		if err := t.MarkRecipientRead(ctx, d.RecipientID); err != nil {
			t.logger.WarnContext(ctx, "failed to mark in-app delivery read on open",
				logger.RecipientID(d.RecipientID),
				logger.Error(err),
			)
		}
	}
}

// MarkRecipientRead moves the recipient's in-app delivery to read.
func (t *Tracker) MarkRecipientRead(ctx context.Context, recipientID string) error {
	deliveries, err := t.deliveries.ListDeliveries(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("list deliveries of recipient %s: %w", recipientID, err)
	}
	now := t.now()
	for _, d := range deliveries {
		if d.Channel != ChannelInApp {
			continue
		}
		if _, _, err := t.transition(ctx, d.ID, Transition{To: StatusRead, At: now}); err != nil {
			return err
		}
	}
	return nil
}

// PushReport is an asynchronous per-token report from the push provider.
// The delivery is located by DeliveryID, or by ProviderID when empty.
type PushReport struct {
	DeliveryID string        `json:"delivery_id"`
	ProviderID string        `json:"provider_id"`
	Results    []TokenResult `json:"results"`
}

// ApplyPushReport merges per-token results into the delivery, revokes
// permanently invalid tokens and advances the aggregate status: delivered
// when any token was accepted, failed when every known token was rejected.
func (t *Tracker) ApplyPushReport(ctx context.Context, rep PushReport) (*Delivery, error) {
	var (
		d   *Delivery
		err error
	)
	switch {
	case rep.DeliveryID != "":
		d, err = t.deliveries.GetDelivery(ctx, rep.DeliveryID)
	case rep.ProviderID != "":
		d, err = t.deliveries.GetDeliveryByProviderID(ctx, ChannelPush, rep.ProviderID)
	default:
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, err
	}
	if d.Channel != ChannelPush {
		return nil, fmt.Errorf("%w: delivery %s is not a push delivery", ErrDeliveryNotFound, d.ID)
	}

	merged := mergeTokenResults(d.TokenResults, rep.Results)
	revokeTokens(ctx, t.devices, t.logger, t.now(), rep.Results)

	accepted := 0
	for _, r := range merged {
		if r.OK() {
			accepted++
		}
	}
	tr := Transition{To: StatusDelivered, At: t.now(), TokenResults: merged}
	if accepted == 0 {
		tr = FailedTransition(t.now(), ErrPushRejected, merged)
	}
	out, _, err := t.transition(ctx, d.ID, tr)
	return out, err
}

func mergeTokenResults(current, update []TokenResult) []TokenResult {
	out := make([]TokenResult, 0, len(current)+len(update))
	idx := make(map[string]int, len(current))
	for _, r := range current {
		idx[r.Token] = len(out)
		out = append(out, r)
	}
	for _, r := range update {
		if i, ok := idx[r.Token]; ok {
			out[i] = r
			continue
		}
		idx[r.Token] = len(out)
		out = append(out, r)
	}
	return out
}

// HandleProviderDelivered records a delivery receipt keyed by the provider
// message ID. Unknown IDs are ignored.
func (t *Tracker) HandleProviderDelivered(ctx context.Context, ch Channel, providerID string) error {
	d, err := t.deliveries.GetDeliveryByProviderID(ctx, ch, providerID)
	if err != nil {
		if errors.Is(err, ErrDeliveryNotFound) {
			return nil
		}
		return err
	}
	_, _, err = t.MarkDelivered(ctx, d.ID)
	return err
}

// Reconcile fails deliveries stuck in queued longer than maxAge and returns
// how many were moved.
func (t *Tracker) Reconcile(ctx context.Context, maxAge time.Duration, limit int) (int, error) {
	stale, err := t.deliveries.ListStaleDeliveries(ctx, t.now().Add(-maxAge), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale deliveries: %w", err)
	}
	n := 0
	for _, d := range stale {
		_, applied, err := t.MarkFailed(ctx, d.ID, ErrSendTimeout, nil)
		if err != nil {
			return n, err
		}
		if applied {
			n++
		}
	}
	return n, nil
}
