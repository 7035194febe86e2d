package quotes

import (
	"fmt"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

var (
	// ErrQuoteNotFound is returned for unknown tokens.
	ErrQuoteNotFound = fmt.Errorf("quote: %w", httpx.ErrNotFound)
	// ErrUnavailable means the quote is closed or past valid_until.
	ErrUnavailable = fmt.Errorf("quote: no longer available: %w", httpx.ErrConflict)
	// ErrReservationHeld means another session holds an active reservation.
	ErrReservationHeld = fmt.Errorf("quote: reserved by another customer: %w", httpx.ErrConflict)
	// ErrReservationLost means the caller no longer holds the reservation.
	ErrReservationLost = fmt.Errorf("quote: reservation expired or not held: %w", httpx.ErrForbidden)
	// ErrAlreadyAccepted is returned when an acceptance already exists.
	ErrAlreadyAccepted = fmt.Errorf("quote: already accepted: %w", httpx.ErrConflict)
	// ErrReferenceTaken means the quote reference is already in use.
	ErrReferenceTaken = fmt.Errorf("quote: reference already in use: %w", httpx.ErrDuplicate)
	// ErrClaimantRequired means no session identity was supplied.
	ErrClaimantRequired = fmt.Errorf("quote: claimant session required: %w", httpx.ErrUnauthorized)
)
