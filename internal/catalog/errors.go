package catalog

import "fmt"

// NotFoundError indicates that the requested dataset or file does not exist
// on the server (HTTP 404). Synchronization treats this as "nothing
// available this pass" rather than a failure.
type NotFoundError struct {
	Resource string // Dataset id or file name that was requested
	URL      string // Request URL, useful in operator logs
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found on server (%s)", e.Resource, e.URL)
}

// TransientError indicates a failure that is worth retrying on a later
// pass: network errors, timeouts, and 5xx responses.
type TransientError struct {
	Operation  string // The operation that failed (e.g. "list_files", "fetch_file")
	StatusCode int    // HTTP status code, 0 for non-HTTP failures
	Err        error  // Underlying error, if any
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient error during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError indicates a failure that will not resolve by retrying,
// such as a rejected query or a 4xx response other than 404.
type PermanentError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("permanent error during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	return fmt.Sprintf("permanent error during %s: %v", e.Operation, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// statusError maps an unexpected HTTP status to the matching typed error.
func statusError(operation, resource, url string, status int) error {
	switch {
	case status == 404:
		return &NotFoundError{Resource: resource, URL: url}
	case status >= 500 || status == 429:
		return &TransientError{Operation: operation, StatusCode: status}
	default:
		return &PermanentError{Operation: operation, StatusCode: status}
	}
}
