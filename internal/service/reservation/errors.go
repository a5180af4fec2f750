package reservation

import "errors"

var (
	ErrNotFound        = errors.New("reservation not found")
	ErrHoldingNotFound = errors.New("holding not found")
)
