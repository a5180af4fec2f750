package reproduction

import "errors"

var (
	ErrNotFound = errors.New("reproduction not found")
	ErrHoldingNotFound = errors.New("holding not found")
	// ErrNotConfirmed guards the order write path: orders exist only for
	// confirmed reproductions.
	ErrNotConfirmed = errors.New("reproduction not confirmed")
	// ErrIncompleteOrderDetails is raised when an order is attempted
	// before every holding request has a price.
	ErrIncompleteOrderDetails = errors.New("not every holding has order details")
	// ErrOrderRegistrationFailure means the gateway rejected the order;
	// the reproduction's status is left untouched.
	ErrOrderRegistrationFailure = errors.New("gateway order registration failed")
	ErrOrderMismatch            = errors.New("callback order does not match")
)
