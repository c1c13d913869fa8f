package core

import "errors"

// Error codes for domain errors. These are the wire-facing fault taxonomy:
// validation and authorization failures are returned to the caller and
// never broadcast.
const (
	ErrCodeUnauthenticated  = "unauthenticated"
	ErrCodeInvalidRoom      = "invalid_room"
	ErrCodeInvalidInput     = "invalid_input"
	ErrCodeNotFound         = "not_found"
	ErrCodeForbidden        = "forbidden"
	ErrCodeStoreUnavailable = "store_unavailable"
)

var (
	ErrInvalidRoom      = errors.New("invalid room")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// Code returns the taxonomy code for an error produced by the hub,
// falling back to store_unavailable for unclassified failures.
func Code(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	switch {
	case errors.Is(err, ErrInvalidRoom):
		return ErrCodeInvalidRoom
	case errors.Is(err, ErrInvalidInput):
		return ErrCodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrForbidden):
		return ErrCodeForbidden
	default:
		return ErrCodeStoreUnavailable
	}
}
