package query

import (
	"errors"
)

var (
	ErrRecordNotFound       = errors.New("record not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReproductionNotFound = errors.New("reproduction not found")
)
