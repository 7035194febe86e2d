// Package checkout collects card payments through a hosted checkout page and
// confirms them from the customer's return redirect or the provider webhook.
package checkout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

// EventSessionCompleted is the webhook event type that completes a charge.
const EventSessionCompleted = "checkout.session.completed"

var (
	// ErrInvalidSignature rejects webhook payloads that fail verification.
	ErrInvalidSignature = fmt.Errorf("checkout: invalid webhook signature: %w", httpx.ErrValidation)
	// ErrProvider wraps failures reported by the payment provider.
	ErrProvider = fmt.Errorf("checkout: %w", httpx.ErrUpstream)
	// ErrDisabled is returned when card payments are not configured.
	ErrDisabled = fmt.Errorf("checkout: card payments disabled: %w", httpx.ErrUnavailable)
	// ErrAlreadyPaid is returned when checkout starts for a settled invoice.
	ErrAlreadyPaid = fmt.Errorf("checkout: invoice already paid: %w", httpx.ErrConflict)
	// ErrNothingToPay is returned when the outstanding balance is not positive.
	ErrNothingToPay = fmt.Errorf("checkout: nothing to pay: %w", httpx.ErrConflict)
	// ErrSessionMismatch is returned when a session belongs to another invoice.
	ErrSessionMismatch = fmt.Errorf("checkout: session does not match invoice: %w", httpx.ErrValidation)
)

// Line is one priced row on the hosted page.
type Line struct {
	Name   string
	Amount decimal.Decimal
}

// SessionRequest describes the hosted page to open.
type SessionRequest struct {
	InvoiceNumber string
	CustomerEmail string
	Lines         []Line
	// Fee is the card fee included in Lines, zero when none is charged.
	Fee           decimal.Decimal
	SuccessURL    string
	CancelURL     string
}

// Session is the provider's view of a checkout.
type Session struct {
	ID            string
	URL           string
	Paid          bool
	InvoiceNumber string
}

// Event is a verified webhook delivery.
type Event struct {
	ID      string
	Type    string
	Session *Session
}

// Gateway is the hosted checkout provider.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ExpireSession(ctx context.Context, id string) error
	// ParseWebhook verifies signature against payload and decodes the event.
	ParseWebhook(payload []byte, signature string) (*Event, error)
	// WebhooksEnabled reports whether a signing secret is configured.
	WebhooksEnabled() bool
}
