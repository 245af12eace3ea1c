package notifications

import (
	"context"
	"strings"
	"time"
)

// CatalogStore persists inboxes and notification types.
type CatalogStore interface {
	UpsertInbox(ctx context.Context, inbox Inbox) error
	ListInboxes(ctx context.Context) ([]Inbox, error)
	// UpsertType inserts or updates a type by code and returns it with its ID.
	UpsertType(ctx context.Context, t NotificationType) (*NotificationType, error)
	// GetType resolves a type by code or by numeric ID in decimal form.
	GetType(ctx context.Context, ref string) (*NotificationType, error)
	ListTypes(ctx context.Context) ([]NotificationType, error)
}

// NotificationStore persists notifications and their recipients.
type NotificationStore interface {
	// CreateNotification stores n and one Recipient per distinct user in a
	// single atomic step. It returns ErrDuplicateNotification when n carries
	// a dedupe key that already exists.
	CreateNotification(ctx context.Context, n Notification, recipients []Recipient) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	GetNotificationByDedupeKey(ctx context.Context, key string) (*Notification, error)
	ListRecipients(ctx context.Context, notificationID string) ([]Recipient, error)
	// ClaimDue marks up to limit scheduled notifications due at now as
	// dispatched and returns them. A notification is claimed at most once.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Notification, error)
}

// DeliveryStore persists deliveries. TransitionDelivery is the only way to
// change a delivery's status.
type DeliveryStore interface {
	// CreateDelivery inserts d unless a delivery for the same recipient and
	// channel exists, in which case the existing one is returned with false.
	CreateDelivery(ctx context.Context, d Delivery) (*Delivery, bool, error)
	// TransitionDelivery applies tr when allowed by CanTransition and
	// reports whether it was applied. The returned delivery is current.
	TransitionDelivery(ctx context.Context, id string, tr Transition) (*Delivery, bool, error)
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	GetDeliveryByToken(ctx context.Context, token string) (*Delivery, error)
	GetDeliveryByProviderID(ctx context.Context, ch Channel, providerID string) (*Delivery, error)
	ListDeliveries(ctx context.Context, recipientID string) ([]Delivery, error)
	// ListStaleDeliveries returns queued deliveries created before olderThan.
	ListStaleDeliveries(ctx context.Context, olderThan time.Time, limit int) ([]Delivery, error)
}

// InboxStore serves the per-user read model.
type InboxStore interface {
	// GetRecipient returns the recipient only when owned by userID.
	GetRecipient(ctx context.Context, userID, recipientID string) (*Recipient, error)
	// UpdateRecipient applies an inbox action to a recipient owned by userID.
	UpdateRecipient(ctx context.Context, userID, recipientID string, upd RecipientUpdate) (*Recipient, error)
	// MarkRecipientRead sets read_at (and seen_at) when unset and reports
	// whether anything changed.
	MarkRecipientRead(ctx context.Context, recipientID string, at time.Time) (bool, error)
	// MarkAllRead marks every unread, visible recipient of userID as read,
	// optionally limited to one inbox, and returns the affected IDs.
	MarkAllRead(ctx context.Context, userID, inbox string, at time.Time) ([]string, error)
	ListInbox(ctx context.Context, userID string, opts ListOptions) ([]InboxItem, int, error)
	CountInbox(ctx context.Context, userID string) ([]InboxCount, error)
}

// PreferenceStore persists explicit per-user channel preferences.
type PreferenceStore interface {
	ListPreferences(ctx context.Context, userID string) ([]ChannelPreference, error)
	// ListPreferencesFor returns the preferences of the given users for one
	// notification type.
	ListPreferencesFor(ctx context.Context, userIDs []string, typeID int64) ([]ChannelPreference, error)
	// SavePreferences upserts prefs for userID atomically.
	SavePreferences(ctx context.Context, userID string, prefs []ChannelPreference) error
}

// DeviceStore persists push device tokens.
type DeviceStore interface {
	// RegisterDevice inserts or re-activates a token for its user.
	RegisterDevice(ctx context.Context, d DeviceToken) error
	RevokeDevice(ctx context.Context, token string, at time.Time) error
	ListActiveDevices(ctx context.Context, userID string) ([]DeviceToken, error)
}

// TemplateStore persists admin-authored templates.
type TemplateStore interface {
	// GetTemplate returns an exact (type, channel, locale) match or
	// ErrTemplateNotFound.
	GetTemplate(ctx context.Context, typeID int64, ch Channel, locale string) (*Template, error)
	SaveTemplate(ctx context.Context, t Template) error
}

// Storage aggregates every store the engine needs.
type Storage interface {
	CatalogStore
	NotificationStore
	DeliveryStore
	InboxStore
	PreferenceStore
	DeviceStore
	TemplateStore
}

// Directory resolves contact data for users. It is owned by the people
// subsystem; the engine only reads it.
type Directory interface {
	Contact(ctx context.Context, userID string) (Contact, error)
}

// StaticDirectory is a fixed in-memory Directory.
type StaticDirectory map[string]Contact

func (d StaticDirectory) Contact(_ context.Context, userID string) (Contact, error) {
	c, ok := d[userID]
	if !ok {
		return Contact{UserID: userID}, nil
	}
	c.UserID = userID
	return c, nil
}

// SortOrder selects inbox ordering. Pinned items always come first.
type SortOrder string

const (
	SortNewest     SortOrder = "newest"
	SortOldest     SortOrder = "oldest"
	SortImportance SortOrder = "importance"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListOptions filters an inbox listing.
type ListOptions struct {
	Inbox           string
	OnlyUnread      bool
	IncludeArchived bool
	Search          string
	Ref             *EntityRef
	ThreadKey       string
	Sort            SortOrder
	Limit           int
	Offset          int
}

// Normalize clamps paging and fills defaults.
func (o ListOptions) Normalize() ListOptions {
	o.Search = strings.TrimSpace(o.Search)
	switch o.Sort {
	case SortNewest, SortOldest, SortImportance:
	default:
		o.Sort = SortNewest
	}
	if o.Limit <= 0 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// InboxCount holds counters for one inbox. Dismissed and archived items are
// excluded from both.
type InboxCount struct {
	Inbox  string `json:"inbox"`
	Unread int    `json:"unread"`
	Total  int    `json:"total"`
}

// RecipientAction is a per-item inbox mutation.
type RecipientAction string

const (
	ActionSeen      RecipientAction = "seen"
	ActionRead      RecipientAction = "read"
	ActionDismiss   RecipientAction = "dismiss"
	ActionArchive   RecipientAction = "archive"
	ActionUnarchive RecipientAction = "unarchive"
	ActionPin       RecipientAction = "pin"
	ActionUnpin     RecipientAction = "unpin"
)

// RecipientUpdate is one action applied at At. PinOrder is used by ActionPin.
type RecipientUpdate struct {
	Action   RecipientAction
	At       time.Time
	PinOrder int
}

// Apply mutates r and reports whether the action is known.
func (u RecipientUpdate) Apply(r *Recipient) bool {
	at := u.At
	switch u.Action {
	case ActionSeen:
		if r.SeenAt == nil {
			r.SeenAt = &at
		}
	case ActionRead:
		if r.SeenAt == nil {
			r.SeenAt = &at
		}
		if r.ReadAt == nil {
			r.ReadAt = &at
		}
	case ActionDismiss:
		if r.DismissedAt == nil {
			r.DismissedAt = &at
		}
	case ActionArchive:
		if r.ArchivedAt == nil {
			r.ArchivedAt = &at
		}
	case ActionUnarchive:
		r.ArchivedAt = nil
	case ActionPin:
		order := u.PinOrder
		r.PinOrder = &order
	case ActionUnpin:
		r.PinOrder = nil
	default:
		return false
	}
	return true
}
