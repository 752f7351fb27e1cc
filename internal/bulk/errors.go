package bulk

import "errors"

var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task not found")

	// ErrStopped is returned when the scheduler is not running.
	ErrStopped = errors.New("bulk scheduler stopped")
)

// cancelReason is the error string recorded on tasks stopped by Cancel.
const cancelReason = "cancelled"
