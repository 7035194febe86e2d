package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/odyssey-erp/quotedesk/internal/money"
)

const (
	metaInvoiceNumber = "invoice_number"
	metaCardFee       = "includes_card_fee"
)

// PaymentMethodTypes offered on the hosted page.
var PaymentMethodTypes = []string{"klarna", "card", "afterpay_clearpay"}

// StripeGateway talks to Stripe Checkout.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a gateway whose API calls are bounded by timeout.
func NewStripeGateway(secretKey, webhookSecret string, timeout time.Duration) *StripeGateway {
	backends := stripe.NewBackends(&http.Client{Timeout: timeout})
	return &StripeGateway{api: client.New(secretKey, backends), webhookSecret: webhookSecret}
}

// CreateSession opens a hosted payment page with one price per line. The
// invoice number and the card fee travel in the session metadata.
func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice(PaymentMethodTypes),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(req.InvoiceNumber),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(money.Currency),
				UnitAmount: stripe.Int64(money.MinorUnits(line.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
		})
	}
	params.AddMetadata(metaInvoiceNumber, req.InvoiceNumber)
	params.AddMetadata(metaCardFee, req.Fee.StringFixed(2))
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrProvider, err)
	}
	return toSession(s), nil
}

// GetSession retrieves a session and its payment status.
func (g *StripeGateway) GetSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve session: %v", ErrProvider, err)
	}
	return toSession(s), nil
}

// ExpireSession closes an open session so it can no longer be paid.
func (g *StripeGateway) ExpireSession(ctx context.Context, id string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := g.api.CheckoutSessions.Expire(id, params); err != nil {
		return fmt.Errorf("%w: expire session: %v", ErrProvider, err)
	}
	return nil
}

// WebhooksEnabled reports whether a signing secret is configured.
func (g *StripeGateway) WebhooksEnabled() bool {
	return g.webhookSecret != ""
}

// ParseWebhook verifies the Stripe-Signature header and decodes completed
// checkout sessions. Other event types carry no session.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Type == stripe.EventTypeCheckoutSessionCompleted && ev.Data != nil {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: decode session: %v", ErrInvalidSignature, err)
		}
		out.Session = toSession(&s)
	}
	return out, nil
}

func toSession(s *stripe.CheckoutSession) *Session {
	return &Session{
		ID:            s.ID,
		URL:           s.URL,
		Paid:          s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		InvoiceNumber: s.Metadata[metaInvoiceNumber],
	}
}
