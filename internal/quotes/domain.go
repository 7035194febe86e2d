package quotes

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/money"
)

// Status enumerates quote lifecycle states.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

// Closed reports whether the status ends the acceptance flow.
func (s Status) Closed() bool {
	return s == StatusAccepted || s == StatusDeclined || s == StatusExpired
}

// DefaultReservationWindow is how long a claimant holds a quote.
const DefaultReservationWindow = 15 * time.Minute

// Client is a prospective customer attached to a quote.
type Client struct {
	ID      int64
	Name    string
	Email   string
	Phone   string
	Company string
}

// Item is a quote line.
type Item struct {
	ID          int64
	QuoteID     int64
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	Position    int
}

// LineTotal is quantity × unit price, rounded to pence.
func (i Item) LineTotal() decimal.Decimal {
	return money.Round(i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))))
}

// VATAmount applies the item's VAT rate (a percentage) to the line total.
func (i Item) VATAmount() decimal.Decimal {
	return money.Round(i.LineTotal().Mul(i.VATRate).Div(decimal.NewFromInt(100)))
}

// Totals are the derived figures shown on a quote and frozen onto its invoice.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Delivery decimal.Decimal `json:"delivery"`
	VAT      decimal.Decimal `json:"vat"`
	Total    decimal.Decimal `json:"total"`
}

// Quote is a priced offer addressed by an unguessable token.
type Quote struct {
	ID               int64
	Token            uuid.UUID
	Reference        string
	Title            string
	Notes            string
	Status           Status
	IsPublic         bool
	NotVATRegistered bool
	ValidUntil       *time.Time
	DeliveryPrice    decimal.Decimal
	Client           *Client
	Items            []Item

	ReservationStartedAt  *time.Time
	ReservationSessionKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Totals computes subtotal, VAT and grand total. Each line and each line's
// VAT is rounded before summing and the sums are rounded again.
// NotVATRegistered only changes how documents label the VAT column.
func (q *Quote) Totals() Totals {
	subtotal := decimal.Zero
	vat := decimal.Zero
	for _, item := range q.Items {
		subtotal = subtotal.Add(item.LineTotal())
		vat = vat.Add(item.VATAmount())
	}
	subtotal = money.Round(subtotal)
	vat = money.Round(vat)
	delivery := money.Round(q.DeliveryPrice)
	return Totals{
		Subtotal: subtotal,
		Delivery: delivery,
		VAT:      vat,
		Total:    money.Round(subtotal.Add(delivery).Add(vat)),
	}
}

// Expired reports whether valid_until lies before the calendar day of now.
func (q *Quote) Expired(now time.Time) bool {
	if q.ValidUntil == nil {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	vy, vm, vd := q.ValidUntil.Date()
	return time.Date(vy, vm, vd, 0, 0, 0, 0, time.UTC).Before(today)
}

// Available reports whether the quote can still be accepted.
func (q *Quote) Available(now time.Time) bool {
	return !q.Status.Closed() && !q.Expired(now)
}

// Acceptance records the customer's signed acceptance of a quote.
type Acceptance struct {
	ID           int64
	QuoteID      int64
	FullName     string
	Email        string
	Phone        string
	Company      string
	AddressLine1 string
	AddressLine2 string
	City         string
	Postcode     string
	Notes        string
	AcceptedAt   time.Time
}

// AcceptanceForm is the customer-supplied acceptance payload.
type AcceptanceForm struct {
	FullName     string `json:"full_name" validate:"required,max=200"`
	Email        string `json:"email" validate:"required,email,max=254"`
	Phone        string `json:"phone" validate:"required,max=50"`
	Company      string `json:"company" validate:"max=200"`
	AddressLine1 string `json:"address_line1" validate:"required,max=200"`
	AddressLine2 string `json:"address_line2" validate:"max=200"`
	City         string `json:"city" validate:"required,max=100"`
	Postcode     string `json:"postcode" validate:"required,max=20"`
	Notes        string `json:"notes" validate:"max=2000"`
}

func (f *AcceptanceForm) normalize() {
	for _, field := range []*string{
		&f.FullName, &f.Email, &f.Phone, &f.Company, &f.AddressLine1,
		&f.AddressLine2, &f.City, &f.Postcode, &f.Notes,
	} {
		*field = strings.TrimSpace(*field)
	}
	f.Email = strings.ToLower(f.Email)
	f.Postcode = strings.ToUpper(f.Postcode)
}
