package marcjob

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProfileNotFound is returned when no job profile has the requested name.
	ErrProfileNotFound = errors.New("job profile not found")
	// ErrSummaryUnavailable is returned in strict mode when the job summary
	// could not be fetched.
	ErrSummaryUnavailable = errors.New("job summary unavailable")
	// ErrInvalidTransition is returned when an operation is not allowed in the
	// job's current state.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// JobError is an unrecoverable failure of one job execution. The job is
// cancelled and the import of the file may be retried with a new job.
type JobError struct {
	JobID string
	Op    string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s: %s failed: %v", e.JobID, e.Op, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// BatchError is an unexpected failure submitting a batch. The job is
// cancelled and the error is not retried.
type BatchError struct {
	BatchID string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %s: %v", e.BatchID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// IsRecordLevel reports whether a submission status means the remote side
// rejected the records themselves. Such batches are quarantined and the run
// continues. 500 is included only when accept500 is set, for remote versions
// that report record errors that way.
func IsRecordLevel(status int, accept500 bool) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return true
	case http.StatusInternalServerError:
		return accept500
	}
	return false
}
