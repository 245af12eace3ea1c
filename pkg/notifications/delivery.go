package notifications

import "time"

// DeliveryStatus is the lifecycle state of one channel attempt.
type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusOpened    DeliveryStatus = "opened"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Statuses lists every status, forward states first.
var Statuses = []DeliveryStatus{StatusQueued, StatusSent, StatusDelivered, StatusOpened, StatusRead, StatusFailed}

var statusRank = map[DeliveryStatus]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusOpened:    3,
	StatusRead:      4,
}

// CanTransition reports whether a delivery in from may move to to.
// Forward states only advance; failed is terminal and reachable from
// queued or sent.
func CanTransition(from, to DeliveryStatus) bool {
	if from == to || from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return from == StatusQueued || from == StatusSent
	}
	rf, okFrom := statusRank[from]
	rt, okTo := statusRank[to]
	return okFrom && okTo && rt > rf
}

// AllowedFrom returns the statuses from which to is reachable. Stores use it
// to apply transitions as a single conditional write.
func AllowedFrom(to DeliveryStatus) []DeliveryStatus {
	var out []DeliveryStatus
	for _, s := range Statuses {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// TokenResult is the provider verdict for one push device token.
type TokenResult struct {
	Token     string `json:"token"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r TokenResult) OK() bool { return r.Error == "" }

// Permanent provider errors: the token will never be valid again.
const (
	PushErrNotRegistered       = "NotRegistered"
	PushErrInvalidRegistration = "InvalidRegistration"
)

// PushErrUnavailable marks tokens whose batch never reached the provider.
const PushErrUnavailable = "Unavailable"

// IsPermanent reports whether the token should be revoked.
func (r TokenResult) IsPermanent() bool {
	return r.Error == PushErrNotRegistered || r.Error == PushErrInvalidRegistration
}

// Delivery is one channel attempt for one recipient.
type Delivery struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notification_id"`
	RecipientID    string         `json:"recipient_id"`
	UserID         string         `json:"user_id"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	Subject        string         `json:"subject,omitempty"`
	Body           string         `json:"body,omitempty"`
	TrackingToken  string         `json:"-"`
	ProviderID     string         `json:"provider_id,omitempty"`
	TokenResults   []TokenResult  `json:"token_results,omitempty"`
	AttemptCount   int            `json:"attempt_count"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	OpenedAt       *time.Time     `json:"opened_at,omitempty"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`
}

// Transition is a requested status change.
type Transition struct {
	To           DeliveryStatus
	At           time.Time
	ProviderID   string
	Error        string
	TokenResults []TokenResult
}

// FailedTransition builds a transition to failed carrying cause.
func FailedTransition(at time.Time, cause error, results []TokenResult) Transition {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return Transition{To: StatusFailed, At: at, Error: msg, TokenResults: results}
}

// Apply mutates d according to tr and reports whether the change was
// allowed. Stores that keep deliveries in memory use it directly; SQL
// stores mirror it in a conditional update.
func (d *Delivery) Apply(tr Transition) bool {
	if !CanTransition(d.Status, tr.To) {
		return false
	}
	at := tr.At
	d.Status = tr.To
	d.UpdatedAt = at
	switch tr.To {
	case StatusSent:
		d.SentAt = &at
		d.AttemptCount++
	case StatusDelivered:
		d.DeliveredAt = &at
	case StatusOpened:
		d.OpenedAt = &at
	case StatusRead:
		d.ReadAt = &at
	case StatusFailed:
		d.FailedAt = &at
		d.AttemptCount++
		d.LastError = tr.Error
	}
	if tr.ProviderID != "" {
		d.ProviderID = tr.ProviderID
	}
	if tr.TokenResults != nil {
		d.TokenResults = tr.TokenResults
	}
	return true
}
