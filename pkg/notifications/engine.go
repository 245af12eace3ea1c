package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/opshub/pkg/async"
	"github.com/dmitrymomot/opshub/pkg/logger"
)

const (
	DefaultSendTimeout    = 10 * time.Second
	DefaultMaxConcurrency = 32
	recordGrace           = 2 * time.Second
)

// RaiseRequest is the input of Engine.Raise. Type is a type code or a
// numeric type ID.
type RaiseRequest struct {
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Payload      map[string]any `json:"payload,omitempty"`
	Refs         Refs           `json:"refs"`
	ThreadKey    string         `json:"thread_key,omitempty"`
	DedupeKey    string         `json:"dedupe_key,omitempty"`
	Importance   *Importance    `json:"importance,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	Recipients   []string       `json:"recipients"`
}

// DeliveryReport summarizes one channel attempt of a dispatch.
type DeliveryReport struct {
	UserID      string         `json:"user_id"`
	RecipientID string         `json:"recipient_id"`
	Channel     Channel        `json:"channel"`
	DeliveryID  string         `json:"delivery_id,omitempty"`
	Status      DeliveryStatus `json:"status,omitempty"`
	Skipped     bool           `json:"skipped,omitempty"`
	Coalesced   bool           `json:"coalesced,omitempty"`
	Err         error          `json:"-"`
}

// Engine fans notifications out to channel senders.
type Engine struct {
	catalog       CatalogStore
	notifications NotificationStore
	resolver      *PreferenceResolver
	tracker       *Tracker
	directory     Directory
	senders       map[Channel]Sender
	sendTimeout   time.Duration
	sem           chan struct{}
	logger        *slog.Logger
	now           func() time.Time
}

type EngineOption func(*Engine)

// WithSender registers a channel sender, replacing any sender for the same
// channel.
func WithSender(s Sender) EngineOption {
	return func(e *Engine) { e.senders[s.Channel()] = s }
}

func WithDirectory(d Directory) EngineOption {
	return func(e *Engine) { e.directory = d }
}

// WithSendTimeout bounds each channel send.
func WithSendTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.sendTimeout = d
		}
	}
}

// WithMaxConcurrency bounds concurrent channel sends per engine.
func WithMaxConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.sem = make(chan struct{}, n)
		}
	}
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Storage, tracker *Tracker, resolver *PreferenceResolver, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:       store,
		notifications: store,
		resolver:      resolver,
		tracker:       tracker,
		directory:     StaticDirectory{},
		senders:       make(map[Channel]Sender, len(KnownChannels)),
		sendTimeout:   DefaultSendTimeout,
		sem:           make(chan struct{}, DefaultMaxConcurrency),
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Raise validates req, stores the notification with its recipients and,
// unless scheduled for later, dispatches it to every enabled channel.
// Only input errors and storage failures are returned; channel failures are
// recorded on their deliveries.
func (e *Engine) Raise(ctx context.Context, req RaiseRequest) (*Notification, error) {
	t, err := e.resolveType(ctx, req.Type)
	if err != nil {
		return nil, err
	}
	userIDs := normalizeRecipients(req.Recipients)
	if len(userIDs) == 0 {
		return nil, ErrNoRecipients
	}
	if req.Payload != nil {
		if _, err := json.Marshal(req.Payload); err != nil {
			return nil, errors.Join(ErrInvalidPayload, err)
		}
	}

	dedupeKey := strings.TrimSpace(req.DedupeKey)
	if dedupeKey != "" {
		existing, err := e.notifications.GetNotificationByDedupeKey(ctx, dedupeKey)
		if err == nil {
			e.logger.DebugContext(ctx, "notification coalesced by dedupe key",
				logger.NotificationID(existing.ID),
				logger.TypeCode(t.Code),
			)
			return existing, nil
		}
		if !errors.Is(err, ErrNotificationNotFound) {
			return nil, fmt.Errorf("lookup dedupe key: %w", err)
		}
	}

	now := e.now()
	n := Notification{
		ID:           uuid.NewString(),
		TypeCode:     t.Code,
		Inbox:        t.Inbox,
		Importance:   t.Importance,
		Title:        strings.TrimSpace(req.Title),
		Message:      strings.TrimSpace(req.Message),
		Payload:      req.Payload,
		Refs:         req.Refs,
		ThreadKey:    strings.TrimSpace(req.ThreadKey),
		DedupeKey:    dedupeKey,
		CreatedAt:    now,
		ScheduledFor: req.ScheduledFor,
	}
	if req.Importance != nil {
		n.Importance = *req.Importance
	}
	if n.Title == "" {
		n.Title = t.Name
	}
	if !n.Deferred(now) {
		n.DispatchedAt = &now
	}

	recipients := make([]Recipient, 0, len(userIDs))
	for _, uid := range userIDs {
		recipients = append(recipients, Recipient{
			ID:             uuid.NewString(),
			NotificationID: n.ID,
			UserID:         uid,
			CreatedAt:      now,
		})
	}

	if err := e.notifications.CreateNotification(ctx, n, recipients); err != nil {
		if errors.Is(err, ErrDuplicateNotification) && dedupeKey != "" {
			return e.notifications.GetNotificationByDedupeKey(ctx, dedupeKey)
		}
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if n.Deferred(now) {
		e.logger.InfoContext(ctx, "notification scheduled",
			logger.NotificationID(n.ID),
			logger.TypeCode(t.Code),
			slog.Time("scheduled_for", *n.ScheduledFor),
		)
		return &n, nil
	}

	e.dispatch(ctx, *t, n, recipients)
	return &n, nil
}

// Dispatch fans an already stored notification out to its recipients.
func (e *Engine) Dispatch(ctx context.Context, n Notification) ([]DeliveryReport, error) {
	t, err := e.resolveType(ctx, n.TypeCode)
	if err != nil {
		return nil, err
	}
	recipients, err := e.notifications.ListRecipients(ctx, n.ID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return e.dispatch(ctx, *t, n, recipients), nil
}

// DispatchDue claims scheduled notifications that became due and dispatches
// them. It returns the number of notifications dispatched.
func (e *Engine) DispatchDue(ctx context.Context, limit int) (int, error) {
	due, err := e.notifications.ClaimDue(ctx, e.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("claim due notifications: %w", err)
	}
	for _, n := range due {
		if _, err := e.Dispatch(ctx, n); err != nil {
			e.logger.ErrorContext(ctx, "scheduled dispatch failed",
				logger.NotificationID(n.ID),
				logger.Error(err),
			)
		}
	}
	return len(due), nil
}

func (e *Engine) resolveType(ctx context.Context, ref string) (*NotificationType, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty type", ErrUnknownType)
	}
	t, err := e.catalog.GetType(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, ref)
		}
		return nil, fmt.Errorf("resolve type %q: %w", ref, err)
	}
	return t, nil
}

type deliveryJob struct {
	sender   Sender
	env      Envelope
	deadline time.Time
}

func (j deliveryJob) report() DeliveryReport {
	return DeliveryReport{
		UserID:      j.env.Recipient.UserID,
		RecipientID: j.env.Recipient.ID,
		Channel:     j.sender.Channel(),
	}
}

func (e *Engine) dispatch(ctx context.Context, t NotificationType, n Notification, recipients []Recipient) []DeliveryReport {
	userIDs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		userIDs = append(userIDs, r.UserID)
	}
	sets, err := e.resolver.ResolveMany(ctx, userIDs, t)
	if err != nil {
		e.logger.ErrorContext(ctx, "preference resolution failed, restricting to in-app",
			logger.NotificationID(n.ID),
			logger.Error(err),
		)
		sets = make(map[string]ChannelSet, len(userIDs))
		for _, uid := range userIDs {
			sets[uid] = ChannelSet{ChannelInApp: {}}
		}
	}

	// Sends outlive a cancelled caller; each is bounded by sendTimeout.
	detached := context.WithoutCancel(ctx)
	// Waiting for a send slot counts against the same deadline as the send.
	deadline := time.Now().Add(e.sendTimeout)
	jobs := make([]deliveryJob, 0, len(recipients)*len(KnownChannels))
	futures := make([]*async.Future[DeliveryReport], 0, cap(jobs))
	for _, r := range recipients {
		contact := e.contact(ctx, r.UserID)
		for _, ch := range sets[r.UserID].Ordered() {
			s, ok := e.senders[ch]
			if !ok {
				continue
			}
			job := deliveryJob{sender: s, env: Envelope{
				Notification:  n,
				Recipient:     r,
				Type:          t,
				Contact:       contact,
				TrackingToken: uuid.NewString(),
			}, deadline: deadline}
			jobs = append(jobs, job)
			futures = append(futures, async.Async(detached, job, e.deliver))
		}
	}

	outcomes := async.WaitAllWithTimeout(e.sendTimeout+recordGrace, futures...)
	reports := make([]DeliveryReport, 0, len(outcomes))
	for i, o := range outcomes {
		if errors.Is(o.Err, async.ErrTimeout) {
			r := jobs[i].report()
			r.Err = ErrSendTimeout
			e.logger.WarnContext(ctx, "delivery did not complete",
				logger.NotificationID(n.ID),
				logger.UserID(r.UserID),
				logger.Channel(string(r.Channel)),
				logger.Error(o.Err),
			)
			reports = append(reports, r)
			continue
		}
		reports = append(reports, o.Value)
	}
	e.logger.InfoContext(ctx, "notification dispatched",
		logger.NotificationID(n.ID),
		logger.TypeCode(t.Code),
		logger.Count(len(recipients)),
		slog.Int("deliveries", len(reports)),
	)
	return reports
}

func (e *Engine) contact(ctx context.Context, userID string) Contact {
	c, err := e.directory.Contact(ctx, userID)
	if err != nil {
		e.logger.WarnContext(ctx, "contact lookup failed", logger.UserID(userID), logger.Error(err))
		return Contact{UserID: userID}
	}
	c.UserID = userID
	return c
}

func (e *Engine) deliver(ctx context.Context, job deliveryJob) (DeliveryReport, error) {
	env := job.env
	rep := job.report()

	out, prepErr := job.sender.Prepare(ctx, env)
	if errors.Is(prepErr, ErrRecipientUnreachable) {
		rep.Skipped = true
		return rep, nil
	}

	d := Delivery{
		NotificationID: env.Notification.ID,
		RecipientID:    env.Recipient.ID,
		UserID:         env.Recipient.UserID,
		Channel:        rep.Channel,
		TrackingToken:  env.TrackingToken,
	}
	if out != nil {
		d.Subject = out.Content.Subject
		d.Body = out.Content.Body
	}
	queued, created, err := e.tracker.Queue(ctx, d)
	if err != nil {
		rep.Err = err
		return rep, err
	}
	rep.DeliveryID, rep.Status = queued.ID, queued.Status
	if !created {
		rep.Coalesced = true
		return rep, nil
	}
	if prepErr != nil {
		return e.fail(ctx, rep, prepErr, nil)
	}

	deadline := job.deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(e.sendTimeout)
	}
	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-sendCtx.Done():
		return e.fail(ctx, rep, ErrSendTimeout, nil)
	}

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		o, err := job.sender.Send(sendCtx, out)
		done <- result{o, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
				r.err = errors.Join(ErrSendTimeout, r.err)
			}
			return e.fail(ctx, rep, r.err, r.outcome.TokenResults)
		}
		d, _, err := e.tracker.MarkSent(ctx, rep.DeliveryID, r.outcome)
		if err != nil {
			rep.Err = err
			return rep, err
		}
		rep.Status = d.Status
		return rep, nil
	case <-sendCtx.Done():
		return e.fail(ctx, rep, ErrSendTimeout, nil)
	}
}

func (e *Engine) fail(ctx context.Context, rep DeliveryReport, cause error, results []TokenResult) (DeliveryReport, error) {
	rep.Err = cause
	e.logger.WarnContext(ctx, "channel send failed",
		logger.DeliveryID(rep.DeliveryID),
		logger.Channel(string(rep.Channel)),
		logger.UserID(rep.UserID),
		logger.Error(cause),
	)
	d, _, err := e.tracker.MarkFailed(ctx, rep.DeliveryID, cause, results)
	if err != nil {
		return rep, errors.Join(cause, err)
	}
	rep.Status = d.Status
	return rep, nil
}

func normalizeRecipients(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
