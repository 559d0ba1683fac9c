package application

import "errors"

var (
	// ErrUnauthorized is returned when the caller presented no valid API credentials.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested user or resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrScanInProgress is returned when another scan already holds the user's execution guard.
	ErrScanInProgress = errors.New("application: scan already in progress")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// SubmissionLogError reports tickets that were submitted downstream but could
// not be written to the submission log. Callers retry with Submissions through
// RecordCompletedSubmissions instead of submitting again.
type SubmissionLogError struct {
	User        string
	Submissions []NewSubmission
	Err         error
}

// Error implements the error interface.
func (e *SubmissionLogError) Error() string {
	if e == nil || e.Err == nil {
		return "submission log write failed"
	}
	return "submission log write failed: " + e.Err.Error()
}

// Unwrap exposes the underlying storage error.
func (e *SubmissionLogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
