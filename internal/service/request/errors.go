package request

import "errors"

// Validation errors are expected user-input conditions: surfaced for
// display, never logged as failures.
var (
	ErrNoHoldings = errors.New("request has no holdings")
	ErrClosed     = errors.New("record is closed for requests")
	ErrInUse      = errors.New("holding is not available")
)
