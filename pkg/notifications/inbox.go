package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/opshub/pkg/logger"
)

// Page is one slice of an inbox listing.
type Page struct {
	Items  []InboxItem `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// InboxService is the per-user read model over recipients.
type InboxService struct {
	store   InboxStore
	tracker *Tracker
	logger  *slog.Logger
	now     func() time.Time
}

type InboxOption func(*InboxService)

func WithInboxLogger(l *slog.Logger) InboxOption {
	return func(s *InboxService) { s.logger = l }
}

func WithInboxClock(now func() time.Time) InboxOption {
	return func(s *InboxService) { s.now = now }
}

func NewInboxService(store InboxStore, tracker *Tracker, opts ...InboxOption) *InboxService {
	s := &InboxService{
		store:   store,
		tracker: tracker,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Counts returns unread and total counters per inbox for userID.
func (s *InboxService) Counts(ctx context.Context, userID string) ([]InboxCount, error) {
	return s.store.CountInbox(ctx, userID)
}

// List returns a filtered, paginated listing. Pinned items come first.
func (s *InboxService) List(ctx context.Context, userID string, opts ListOptions) (Page, error) {
	opts = opts.Normalize()
	items, total, err := s.store.ListInbox(ctx, userID, opts)
	if err != nil {
		return Page{}, fmt.Errorf("list inbox: %w", err)
	}
	if items == nil {
		items = []InboxItem{}
	}
	return Page{Items: items, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// Apply runs an inbox action on one recipient owned by userID. Reading an
// item also advances its in-app delivery to read.
func (s *InboxService) Apply(ctx context.Context, userID, recipientID string, action RecipientAction, pinOrder int) (*Recipient, error) {
	upd := RecipientUpdate{Action: action, At: s.now(), PinOrder: pinOrder}
	if !upd.Apply(&Recipient{}) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	r, err := s.store.UpdateRecipient(ctx, userID, recipientID, upd)
	if err != nil {
		return nil, err
	}
	if action == ActionRead {
		s.syncRead(ctx, r.ID)
	}
	return r, nil
}

// MarkAllRead marks every visible unread item as read, optionally limited
// to one inbox, and returns how many changed.
func (s *InboxService) MarkAllRead(ctx context.Context, userID, inbox string) (int, error) {
	ids, err := s.store.MarkAllRead(ctx, userID, inbox, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	for _, id := range ids {
		s.syncRead(ctx, id)
	}
	return len(ids), nil
}

func (s *InboxService) syncRead(ctx context.Context, recipientID string) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.MarkRecipientRead(ctx, recipientID); err != nil {
		s.logger.WarnContext(ctx, "failed to advance in-app delivery to read",
			logger.RecipientID(recipientID),
			logger.Error(err),
		)
	}
}
