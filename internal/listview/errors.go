package listview

import "errors"

var (
	// ErrStaleResponse is returned by a load whose response arrived after a newer load was issued
	ErrStaleResponse = errors.New("stale response discarded")
	// ErrMissingScheduleID is returned when a remote delete has no schedule key to address
	ErrMissingScheduleID = errors.New("schedule id is required")
)
