package ops

import "github.com/pkg/errors"

// Error categories returned by the operators. Check them with errors.Is.
var (
	// ErrUnsupportedDType is returned for tensors whose dtype has no backend data type.
	ErrUnsupportedDType = errors.New("unsupported data type")

	// ErrInvalidArgument is returned for invalid attributes or inputs, or for communicators that don't
	// satisfy the operator requirements (e.g. not exactly 2 ranks).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPreconditionNotMet is returned when the runtime is missing something the operator needs, e.g.
	// when no collective backend was compiled in.
	ErrPreconditionNotMet = errors.New("precondition not met")

	// ErrTransport is returned when the backend fails to enqueue a transfer. It is not retried: the
	// step should be aborted.
	ErrTransport = errors.New("transport failure")
)

// categorize wraps err so that errors.Is(result, category) holds, keeping err's message and stack.
func categorize(category, err error) error {
	if err == nil {
		return nil
	}
	return &categorizedError{category: category, err: err}
}

type categorizedError struct {
	category, err error
}

func (e *categorizedError) Error() string {
	return e.category.Error() + ": " + e.err.Error()
}

// Is implements the errors.Is interface.
func (e *categorizedError) Is(target error) bool {
	return target == e.category
}

// Unwrap implements the errors.Unwrap interface.
func (e *categorizedError) Unwrap() error {
	return e.err
}

// categoryf returns a new error of the given category with the formatted message.
func categoryf(category error, format string, args ...any) error {
	return categorize(category, errors.Errorf(format, args...))
}
