package invoices

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates invoice settlement states. unpaid → paid is one-way.
type Status string

const (
	StatusUnpaid Status = "unpaid"
	StatusPaid   Status = "paid"
)

// PaymentStatus enumerates ledger row states.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// EventType enumerates customer-facing invoice milestones.
type EventType string

const (
	EventPaid           EventType = "paid"
	EventStockOK        EventType = "stock_ok"
	EventBuildScheduled EventType = "build_scheduled"
	EventShipScheduled  EventType = "ship_scheduled"
)

// Subject is the notification headline for the event type.
func (t EventType) Subject() string {
	switch t {
	case EventPaid:
		return "Payment received"
	case EventStockOK:
		return "Items confirmed in stock"
	case EventBuildScheduled:
		return "Build scheduled"
	case EventShipScheduled:
		return "Shipping scheduled"
	}
	return ""
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t.Subject() != ""
}

// Payment methods and providers written by the application itself.
const (
	MethodCard         = "card"
	MethodBankTransfer = "bank-transfer"
	MethodUnspecified  = "unspecified"

	ProviderStripe  = "stripe"
	ProviderBank    = "bank"
	ProviderWebhook = "webhook"
)

// Invoice is the frozen financial record created from an accepted quote.
type Invoice struct {
	ID          int64           `json:"-"`
	QuoteID     int64           `json:"-"`
	UserID      *int64          `json:"-"`
	AssignedTo  *int64          `json:"-"`
	Number      string          `json:"number"`
	ClientName  string          `json:"client_name"`
	ClientEmail string          `json:"client_email"`
	ClientPhone string          `json:"client_phone"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Delivery    decimal.Decimal `json:"delivery_price"`
	VAT         decimal.Decimal `json:"vat_amount"`
	Total       decimal.Decimal `json:"total"`
	Status      Status          `json:"status"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`

	ItemsInStockAt *time.Time `json:"items_in_stock_at,omitempty"`
	BuildDate      *time.Time `json:"build_date,omitempty"`
	ShippingDate   *time.Time `json:"shipping_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Paid reports whether the invoice has settled.
func (i *Invoice) Paid() bool {
	return i.Status == StatusPaid
}

// OwnedBy reports whether a signed-in customer may see the invoice: either it
// is linked to the user, or it is unlinked and the snapshot email matches.
func (i *Invoice) OwnedBy(userID int64, email string) bool {
	if i.UserID != nil {
		return *i.UserID == userID
	}
	return email != "" && strings.EqualFold(i.ClientEmail, email)
}

// Payment is one ledger row against an invoice.
type Payment struct {
	ID                int64           `json:"id"`
	InvoiceID         int64           `json:"-"`
	Method            string          `json:"method"`
	Amount            decimal.Decimal `json:"amount"`
	Status            PaymentStatus   `json:"status"`
	Provider          string          `json:"provider"`
	ProviderReference string          `json:"provider_reference"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Event is an append-only milestone entry.
type Event struct {
	ID        int64     `json:"id"`
	InvoiceID int64     `json:"-"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// TotalCompleted sums completed rows in ledger order.
func TotalCompleted(payments []Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentCompleted {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

// FromQuoteInput is the snapshot copied from a quote at acceptance time.
type FromQuoteInput struct {
	QuoteID     int64
	UserID      *int64
	Subtotal    decimal.Decimal
	Delivery    decimal.Decimal
	VAT         decimal.Decimal
	Total       decimal.Decimal
	ClientName  string
	ClientEmail string
	ClientPhone string
}

// PaymentInput describes a ledger row to append.
type PaymentInput struct {
	Method            string
	Amount            decimal.Decimal
	Status            PaymentStatus
	Provider          string
	ProviderReference string
	// Actor identifies who recorded the row for the audit trail.
	Actor string
}

// Detail is the read model behind invoice pages and documents.
type Detail struct {
	Invoice     Invoice         `json:"invoice"`
	Payments    []Payment       `json:"payments"`
	Events      []Event         `json:"events"`
	PaidSoFar   decimal.Decimal `json:"paid_so_far"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// CanPay reports whether the customer still owes money.
func (d *Detail) CanPay() bool {
	return !d.Invoice.Paid() && d.Outstanding.IsPositive()
}

// LineItem is a priced line rendered on invoice documents.
type LineItem struct {
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	Total       decimal.Decimal
}

// Document bundles what an invoice PDF shows.
type Document struct {
	Detail
	Items []LineItem
}
