package jobs

import (
	"errors"
	"fmt"
)

// Sentinel errors for job operations.
// These can be checked with errors.Is().
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrWrongState   = errors.New("operation not allowed in current job state")
	ErrFileNotFound = errors.New("file not found")
)

// jobNotFoundError returns a wrapped error for a missing job.
func jobNotFoundError(id int64) error {
	return fmt.Errorf("%w: %d", ErrJobNotFound, id)
}

// wrongStateError returns a wrapped error for a job in an unexpected state.
func wrongStateError(id int64, status Status, op string) error {
	return fmt.Errorf("%w: cannot %s job %d (status: %s)", ErrWrongState, op, id, status)
}
