package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the code returned by backend calls. StatusSuccess (0) means the call succeeded.
type Status int

const (
	StatusSuccess Status = iota
	StatusInvalidArgument
	StatusInvalidBuffer
	StatusInternal
	StatusNotSupported
	StatusNotFound
	StatusUnavailable
	StatusTimeout
	StatusTransfer
	StatusRuntime
)

var statusNames = []string{
	StatusSuccess:         "success",
	StatusInvalidArgument: "invalid argument",
	StatusInvalidBuffer:   "invalid buffer",
	StatusInternal:        "internal error",
	StatusNotSupported:    "not supported",
	StatusNotFound:        "not found",
	StatusUnavailable:     "resource unavailable",
	StatusTimeout:         "timeout",
	StatusTransfer:        "transfer failure",
	StatusRuntime:         "runtime failure",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Ok returns whether the status is StatusSuccess.
func (s Status) Ok() bool { return s == StatusSuccess }

// Err converts the status to an error: nil for StatusSuccess, a *StatusError otherwise.
func (s Status) Err() error {
	if s.Ok() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError is an error carrying a non-success Status.
type StatusError struct {
	Status  Status
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collective backend error %d (%s)", int(e.Status), e.Status)
	}
	return fmt.Sprintf("collective backend error %d (%s): %s", int(e.Status), e.Status, e.Message)
}

// Errorf returns a *StatusError with the given status and formatted message.
func Errorf(status Status, format string, args ...any) error {
	return errors.WithStack(&StatusError{Status: status, Message: fmt.Sprintf(format, args...)})
}

// StatusOf extracts the Status from an error: StatusSuccess for nil, the status of a wrapped *StatusError,
// or StatusInternal for any other error.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return StatusInternal
}
