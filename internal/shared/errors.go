package shared

import (
	"errors"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

var (
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
	// ErrIdempotencyConflict indicates a duplicate key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

// Flash kinds understood by the pages.
const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashWarning = "warning"
	FlashError   = "error"
)

// UserSafeMessage renders an error for display in a flash or form banner
// without leaking internals.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, httpx.ErrNotFound):
		return "We couldn't find what you were looking for."
	case errors.Is(err, httpx.ErrValidation):
		return "Please check the highlighted fields and try again."
	case errors.Is(err, httpx.ErrForbidden), errors.Is(err, httpx.ErrUnauthorized):
		return "You don't have access to do that."
	case errors.Is(err, httpx.ErrConflict), errors.Is(err, httpx.ErrDuplicate):
		return "That action conflicts with the current state. Please refresh and try again."
	case errors.Is(err, httpx.ErrUpstream):
		return "The payment provider could not be reached. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
