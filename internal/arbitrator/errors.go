package arbitrator

import "errors"

// ErrOnHold signals an I3 violation: either a second holding request
// tried to go on hold for the same holding, or an activation found
// nothing on hold.
var ErrOnHold = errors.New("holding on-hold conflict")
