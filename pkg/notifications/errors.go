package notifications

import "errors"

var (
	// Input errors, returned to the caller of Raise.
	ErrUnknownType    = errors.New("notifications: unknown notification type")
	ErrUnknownInbox   = errors.New("notifications: notification type references unknown inbox")
	ErrNoRecipients   = errors.New("notifications: recipient list is empty")
	ErrInvalidPayload = errors.New("notifications: payload cannot be encoded")
	ErrUnknownChannel = errors.New("notifications: unknown channel")
	ErrInvalidAction  = errors.New("notifications: invalid inbox action")

	// Lookup errors.
	ErrNotificationNotFound = errors.New("notifications: notification not found")
	ErrRecipientNotFound    = errors.New("notifications: recipient not found")
	ErrDeliveryNotFound     = errors.New("notifications: delivery not found")
	ErrTemplateNotFound     = errors.New("notifications: template not found")

	// ErrDuplicateNotification is returned by storage when a dedupe key is
	// already taken. Engine coalesces it into the existing notification.
	ErrDuplicateNotification = errors.New("notifications: duplicate dedupe key")

	// ErrRecipientUnreachable tells the engine a channel has nothing to send
	// to (no address, no active device). No Delivery is created.
	ErrRecipientUnreachable = errors.New("notifications: recipient unreachable on channel")

	// Transport errors, recorded on the Delivery.
	ErrSendTimeout  = errors.New("notifications: channel send timed out")
	ErrPushRejected = errors.New("notifications: push provider rejected every device token")
)
