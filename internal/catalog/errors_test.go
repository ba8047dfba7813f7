package catalog

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{
			name:   "404 maps to not found",
			status: 404,
			check: func(err error) bool {
				var target *NotFoundError

				return errors.As(err, &target)
			},
		},
		{
			name:   "500 maps to transient",
			status: 500,
			check: func(err error) bool {
				var target *TransientError

				return errors.As(err, &target)
			},
		},
		{
			name:   "503 maps to transient",
			status: 503,
			check: func(err error) bool {
				var target *TransientError

				return errors.As(err, &target)
			},
		},
		{
			name:   "429 maps to transient",
			status: 429,
			check: func(err error) bool {
				var target *TransientError

				return errors.As(err, &target)
			},
		},
		{
			name:   "400 maps to permanent",
			status: 400,
			check: func(err error) bool {
				var target *PermanentError

				return errors.As(err, &target)
			},
		},
		{
			name:   "403 maps to permanent",
			status: 403,
			check: func(err error) bool {
				var target *PermanentError

				return errors.As(err, &target)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := statusError("list_files", "ru33", "https://example.org", tc.status)
			if !tc.check(err) {
				t.Errorf("status %d produced wrong error type: %v", tc.status, err)
			}
		})
	}
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("connection reset")
	err := &TransientError{Operation: "fetch_file", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected transient error to unwrap to the inner error")
	}
}

func TestPermanentErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("bad query")
	err := &PermanentError{Operation: "read_table", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected permanent error to unwrap to the inner error")
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := &NotFoundError{Resource: "ru33", URL: "https://example.org/erddap/files/ru33/"}

	want := "ru33 not found on server (https://example.org/erddap/files/ru33/)"
	if err.Error() != want {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
