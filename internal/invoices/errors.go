package invoices

import (
	"fmt"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

var (
	// ErrInvoiceNotFound is returned for unknown or foreign invoice numbers.
	ErrInvoiceNotFound = fmt.Errorf("invoice: %w", httpx.ErrNotFound)
	// ErrInvoiceExists is returned when the quote already has an invoice.
	ErrInvoiceExists = fmt.Errorf("invoice: quote already invoiced: %w", httpx.ErrDuplicate)
	// ErrPaymentNotFound is returned when no ledger row matches.
	ErrPaymentNotFound = fmt.Errorf("invoice payment: %w", httpx.ErrNotFound)
	// ErrIllegalTransition is returned when a terminal row is asked to move.
	ErrIllegalTransition = fmt.Errorf("invoice payment: status is terminal: %w", httpx.ErrConflict)
	// ErrNothingOutstanding is returned when a full-balance payment has nothing to cover.
	ErrNothingOutstanding = fmt.Errorf("invoice: nothing outstanding: %w", httpx.ErrConflict)
	// ErrInvalidEventType rejects unknown milestone types.
	ErrInvalidEventType = fmt.Errorf("invoice event: unknown type: %w", httpx.ErrValidation)
)
