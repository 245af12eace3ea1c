package fcm

import "errors"

var (
	ErrMissingServerKey = errors.New("fcm: server key is required")
	ErrRequestFailed    = errors.New("fcm: request failed")
	ErrUnexpectedStatus = errors.New("fcm: unexpected response status")
	ErrResultMismatch   = errors.New("fcm: result count does not match token count")
)
