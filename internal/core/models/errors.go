package models

import "github.com/cockroachdb/errors"

// Error kinds. Every error returned by the engine is marked with exactly one
// of these sentinels so callers can classify with errors.Is without knowing
// the concrete cause.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrTypeMismatch     = errors.New("type mismatch")
	ErrValidation       = errors.New("validation")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrBackendTransient = errors.New("backend transient")
	ErrBackendFatal     = errors.New("backend fatal")
)

func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func Conflictf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

func TypeMismatchf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrTypeMismatch)
}

func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func LimitExceededf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrLimitExceeded)
}

// ErrorCode returns the machine-readable code for an error kind. Unclassified
// errors report as BACKEND_FATAL.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrTypeMismatch):
		return "TYPE_MISMATCH"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrLimitExceeded):
		return "LIMIT_EXCEEDED"
	case errors.Is(err, ErrBackendTransient):
		return "BACKEND_TRANSIENT"
	default:
		return "BACKEND_FATAL"
	}
}
