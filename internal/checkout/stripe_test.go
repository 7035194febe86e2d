package checkout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

const completedEvent = `{
  "id": "evt_test_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_42",
    "object": "checkout.session",
    "payment_status": "paid",
    "metadata": {"invoice_number": "INV-20260310-ABC123", "includes_card_fee": "3.19"}
  }}
}`

func TestStripeGatewayParsesSignedEvent(t *testing.T) {
	g := NewStripeGateway("sk_test_x", "whsec_test", time.Second)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(completedEvent),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	ev, err := g.ParseWebhook(signed.Payload, signed.Header)
	require.NoError(t, err)
	require.Equal(t, "evt_test_1", ev.ID)
	require.Equal(t, EventSessionCompleted, ev.Type)
	require.Equal(t, "cs_test_42", ev.Session.ID)
	require.True(t, ev.Session.Paid)
	require.Equal(t, "INV-20260310-ABC123", ev.Session.InvoiceNumber)
}

func TestStripeGatewayRejectsBadSignature(t *testing.T) {
	g := NewStripeGateway("sk_test_x", "whsec_test", time.Second)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(completedEvent),
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})

	_, err := g.ParseWebhook(signed.Payload, signed.Header)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.False(t, NewStripeGateway("sk", "", time.Second).WebhooksEnabled())
}

func TestStripeGatewayWritesFeeIntoMetadata(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_7","object":"checkout.session","url":"https://checkout.test/cs_test_7",` +
			`"payment_status":"unpaid","metadata":{"invoice_number":"INV-20260310-ABC123","includes_card_fee":"3.19"}}`))
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	g := &StripeGateway{api: client.New("sk_test_x", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})}

	sess, err := g.CreateSession(context.Background(), SessionRequest{
		InvoiceNumber: "INV-20260310-ABC123",
		Lines: []Line{
			{Name: "Invoice INV-20260310-ABC123", Amount: decimal.RequireFromString("100.00")},
			{Name: "Card processing fee", Amount: decimal.RequireFromString("3.19")},
		},
		Fee:        decimal.RequireFromString("3.19"),
		SuccessURL: "https://quotes.example/success",
		CancelURL:  "https://quotes.example/cancel",
	})
	require.NoError(t, err)
	require.Equal(t, "cs_test_7", sess.ID)
	require.Equal(t, "INV-20260310-ABC123", sess.InvoiceNumber)
	require.Equal(t, []string{"3.19"}, form["metadata[includes_card_fee]"])
	require.Equal(t, []string{"INV-20260310-ABC123"}, form["metadata[invoice_number]"])
	require.Equal(t, []string{"319"}, form["line_items[1][price_data][unit_amount]"])
}
