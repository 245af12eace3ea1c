package notifications

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Channel is a delivery medium with a stable code.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// KnownChannels lists supported channels in their canonical order.
var KnownChannels = []Channel{ChannelInApp, ChannelEmail, ChannelPush}

// ParseChannel validates a channel code.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.TrimSpace(s))
	if !slices.Contains(KnownChannels, c) {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return c, nil
}

// Importance orders notifications for "by importance" listings.
type Importance int

const (
	ImportanceLow Importance = iota
	ImportanceNormal
	ImportanceHigh
	ImportanceUrgent
)

var importanceNames = []string{"low", "normal", "high", "urgent"}

func (i Importance) String() string {
	if i < ImportanceLow || i > ImportanceUrgent {
		return "normal"
	}
	return importanceNames[i]
}

func (i Importance) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Importance) UnmarshalText(b []byte) error {
	idx := slices.Index(importanceNames, strings.ToLower(strings.TrimSpace(string(b))))
	if idx < 0 {
		return fmt.Errorf("notifications: unknown importance %q", b)
	}
	*i = Importance(idx)
	return nil
}

// Inbox partitions notifications for display.
type Inbox struct {
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"name" yaml:"name"`
	Position int    `json:"position" yaml:"position"`
}

// NotificationType is reference data: every notification has one and every
// type belongs to exactly one inbox.
type NotificationType struct {
	ID              int64      `json:"id"`
	Code            string     `json:"code"`
	Name            string     `json:"name"`
	Inbox           string     `json:"inbox"`
	Importance      Importance `json:"importance"`
	DefaultChannels []Channel  `json:"default_channels"`
}

// DefaultsTo reports whether ch is in the type's default channel list.
func (t NotificationType) DefaultsTo(ch Channel) bool {
	return slices.Contains(t.DefaultChannels, ch)
}

// RefKind names the kind of business entity a notification originates from.
type RefKind string

const (
	RefTask       RefKind = "task"
	RefAbsence    RefKind = "absence"
	RefEvent      RefKind = "event"
	RefChatThread RefKind = "chat_thread"
)

// Refs holds optional references to the originating business entity.
type Refs struct {
	TaskID       string `json:"task_id,omitempty"`
	AbsenceID    string `json:"absence_id,omitempty"`
	EventID      string `json:"event_id,omitempty"`
	ChatThreadID string `json:"chat_thread_id,omitempty"`
}

// EntityRef selects notifications by originating entity.
type EntityRef struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

// Matches reports whether refs points at ref.
func (r Refs) Matches(ref EntityRef) bool {
	if ref.ID == "" {
		return false
	}
	switch ref.Kind {
	case RefTask:
		return r.TaskID == ref.ID
	case RefAbsence:
		return r.AbsenceID == ref.ID
	case RefEvent:
		return r.EventID == ref.ID
	case RefChatThread:
		return r.ChatThreadID == ref.ID
	}
	return false
}

// Notification is one logical event. Immutable after creation apart from
// DispatchedAt, which marks a scheduled notification as fanned out.
type Notification struct {
	ID           string         `json:"id"`
	TypeCode     string         `json:"type"`
	Inbox        string         `json:"inbox"`
	Importance   Importance     `json:"importance"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Payload      map[string]any `json:"payload,omitempty"`
	Refs         Refs           `json:"refs"`
	ThreadKey    string         `json:"thread_key,omitempty"`
	DedupeKey    string         `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	DispatchedAt *time.Time     `json:"dispatched_at,omitempty"`
}

// Deferred reports whether channel dispatch must wait for ScheduledFor.
func (n Notification) Deferred(now time.Time) bool {
	return n.ScheduledFor != nil && n.ScheduledFor.After(now)
}

// Recipient is the per-user fan-out target of a notification. At most one
// exists per (notification, user).
type Recipient struct {
	ID             string     `json:"id"`
	NotificationID string     `json:"notification_id"`
	UserID         string     `json:"user_id"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	PinOrder       *int       `json:"pin_order,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// InboxItem is a Recipient joined with its Notification.
type InboxItem struct {
	Recipient    Recipient    `json:"recipient"`
	Notification Notification `json:"notification"`
}

// Contact is what channels need to know about a user.
type Contact struct {
	UserID string
	Name   string
	Email  string
	Locale string
}

// DeviceToken is a push registration owned by a user.
type DeviceToken struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	Platform  string     `json:"platform"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
