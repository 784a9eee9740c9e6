package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a request rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates a missing or invalid API token.
	ErrUnauthorized = errors.New("unauthorized")
)

// UserSafeMessage maps internal errors to messages that may be shown to
// API consumers without leaking storage details.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "The requested resource was not found."
	case errors.Is(err, ErrValidation):
		return "The request failed validation."
	case errors.Is(err, ErrUnauthorized):
		return "Authentication required."
	case errors.Is(err, ErrIdempotencyConflict):
		return "This operation was already processed."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
