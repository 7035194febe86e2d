package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quotedesk/internal/checkout"
	"github.com/odyssey-erp/quotedesk/internal/company"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/invoices/invoicestest"
	"github.com/odyssey-erp/quotedesk/internal/money"
	"github.com/odyssey-erp/quotedesk/internal/shared"
	"github.com/odyssey-erp/quotedesk/internal/testing/txfake"
)

const customerID int64 = 2

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*checkout.Session
	requests  []checkout.SessionRequest
	expired   []string
	lookups   int
	createErr error
	events    map[string]*checkout.Event
	secret    string
	// gate, when set, holds every session lookup until it is closed.
	gate chan struct{}
}

func newGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*checkout.Session{}, events: map[string]*checkout.Event{}, secret: "whsec_test"}
}

func (g *fakeGateway) CreateSession(_ context.Context, req checkout.SessionRequest) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.requests = append(g.requests, req)
	id := fmt.Sprintf("cs_test_%d", len(g.requests))
	s := &checkout.Session{ID: id, URL: "https://checkout.example/" + id, InvoiceNumber: req.InvoiceNumber}
	g.sessions[id] = s
	return s, nil
}

func (g *fakeGateway) GetSession(ctx context.Context, id string) (*checkout.Session, error) {
	g.mu.Lock()
	g.lookups++
	gate := g.gate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", checkout.ErrProvider, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such session", checkout.ErrProvider)
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) ExpireSession(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, id)
	return nil
}

func (g *fakeGateway) WebhooksEnabled() bool { return g.secret != "" }

// ParseWebhook treats the signature as the event id registered with deliver.
func (g *fakeGateway) ParseWebhook(_ []byte, signature string) (*checkout.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[signature]
	if !ok {
		return nil, checkout.ErrInvalidSignature
	}
	return ev, nil
}

func (g *fakeGateway) hold() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
	return g.gate
}

func (g *fakeGateway) lookupCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookups
}

func (g *fakeGateway) markPaid(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id].Paid = true
}

func (g *fakeGateway) deliver(eventID, typ, sessionID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := *g.sessions[sessionID]
	g.events[eventID] = &checkout.Event{ID: eventID, Type: typ, Session: &s}
	return eventID
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type staticCompany company.Details

func (c staticCompany) Details(context.Context) company.Details { return company.Details(c) }

type fixture struct {
	repo     *invoicestest.Repository
	notifier *invoicestest.Notifier
	invoices *invoices.Service
	gateway  *fakeGateway
	idem     *memoryIdempotency
	svc      *checkout.Service
	quotes   int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		repo:     invoicestest.New(),
		notifier: &invoicestest.Notifier{},
		gateway:  newGateway(),
		idem:     &memoryIdempotency{},
	}
	f.repo.AddUser(customerID, "ada@example.com")
	f.invoices = invoices.NewService(f.repo, &txfake.Transactor{}, f.notifier, logger,
		invoices.WithClock(func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }))
	f.svc = checkout.NewService(f.invoices, f.gateway,
		staticCompany{Bank: company.Bank{AccountNumber: "12345678", SortCode: "00-11-22"}},
		f.idem, checkout.Config{
			Fees:      money.DefaultFeeSchedule(),
			BaseURL:   "https://quotes.example/",
			PublicKey: "pk_test",
		}, logger)
	return f
}

func (f *fixture) invoice(t *testing.T, total string) *invoices.Invoice {
	t.Helper()
	f.quotes++
	inv, err := f.invoices.CreateFromQuote(context.Background(), invoices.FromQuoteInput{
		QuoteID:     f.quotes,
		Subtotal:    dec(total),
		Total:       dec(total),
		ClientName:  "Ada Lovelace",
		ClientEmail: "ada@example.com",
	})
	require.NoError(t, err)
	return inv
}

func TestStartRecordsPendingChargeWithFee(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100.00")

	sess, err := f.svc.Start(context.Background(), inv.Number, customerID)
	require.NoError(t, err)
	require.Contains(t, sess.URL, sess.ID)

	req := f.gateway.requests[0]
	require.Len(t, req.Lines, 2)
	require.Equal(t, "Invoice "+inv.Number, req.Lines[0].Name)
	require.True(t, req.Lines[0].Amount.Equal(dec("100.00")))
	require.Equal(t, "Card processing fee", req.Lines[1].Name)
	require.True(t, req.Lines[1].Amount.Equal(dec("3.19")), req.Lines[1].Amount.String())
	require.True(t, req.Fee.Equal(dec("3.19")))
	require.Equal(t, "https://quotes.example/account/invoices/"+inv.Number+"/pay/success?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)

	payments := f.repo.Payments(inv.ID)
	require.Len(t, payments, 1)
	require.Equal(t, invoices.PaymentPending, payments[0].Status)
	require.Equal(t, invoices.ProviderStripe, payments[0].Provider)
	require.Equal(t, sess.ID, payments[0].ProviderReference)
	require.True(t, payments[0].Amount.Equal(dec("103.19")))
}

func TestStartRejectsPaidAndForeignInvoices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "50.00")

	_, err := f.svc.Start(ctx, inv.Number, 99)
	require.ErrorIs(t, err, invoices.ErrInvoiceNotFound)

	_, err = f.invoices.MarkPaid(ctx, inv.Number, "user:1")
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, inv.Number, customerID)
	require.ErrorIs(t, err, checkout.ErrAlreadyPaid)
	require.Empty(t, f.gateway.requests)
}

func TestStartExpiresSessionWhenLedgerWriteFails(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100.00")
	f.repo.FailInsertPayment = errors.New("disk full")

	_, err := f.svc.Start(context.Background(), inv.Number, customerID)
	require.Error(t, err)
	require.Equal(t, []string{"cs_test_1"}, f.gateway.expired)
	require.Empty(t, f.repo.Payments(inv.ID))
}

func TestStartSurfacesProviderFailure(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100.00")
	f.gateway.createErr = fmt.Errorf("%w: card_declined", checkout.ErrProvider)

	_, err := f.svc.Start(context.Background(), inv.Number, customerID)
	require.ErrorIs(t, err, checkout.ErrProvider)
	require.Empty(t, f.repo.Payments(inv.ID))
}

func TestConfirmReturnCompletesOnlyWhenPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "100.00")
	sess, err := f.svc.Start(ctx, inv.Number, customerID)
	require.NoError(t, err)

	paid, err := f.svc.ConfirmReturn(ctx, inv.Number, customerID, sess.ID)
	require.NoError(t, err)
	require.False(t, paid)
	require.Equal(t, invoices.PaymentPending, f.repo.Payments(inv.ID)[0].Status)

	f.gateway.markPaid(sess.ID)
	for i := 0; i < 2; i++ {
		paid, err = f.svc.ConfirmReturn(ctx, inv.Number, customerID, sess.ID)
		require.NoError(t, err)
		require.True(t, paid)
	}
	got, err := f.invoices.Get(ctx, inv.Number)
	require.NoError(t, err)
	require.True(t, got.Paid())
	require.Equal(t, 1, invoicestest.CountEvents(f.repo.Events(inv.ID), invoices.EventPaid))
}

func TestConfirmReturnRejectsSessionOfOtherInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.invoice(t, "10.00")
	b := f.invoice(t, "20.00")
	sess, err := f.svc.Start(ctx, a.Number, customerID)
	require.NoError(t, err)
	f.gateway.markPaid(sess.ID)

	_, err = f.svc.ConfirmReturn(ctx, b.Number, customerID, sess.ID)
	require.ErrorIs(t, err, checkout.ErrSessionMismatch)
}

type confirmation struct {
	paid bool
	err  error
}

func confirmAsync(f *fixture, ctx context.Context, number, sessionID string) <-chan confirmation {
	out := make(chan confirmation, 1)
	go func() {
		paid, err := f.svc.ConfirmReturn(ctx, number, customerID, sessionID)
		out <- confirmation{paid: paid, err: err}
	}()
	return out
}

func TestConcurrentReturnsForDifferentInvoicesAreCheckedSeparately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.invoice(t, "10.00")
	b := f.invoice(t, "20.00")
	sess, err := f.svc.Start(ctx, a.Number, customerID)
	require.NoError(t, err)
	f.gateway.markPaid(sess.ID)
	gate := f.gateway.hold()

	first := confirmAsync(f, ctx, a.Number, sess.ID)
	require.Eventually(t, func() bool { return f.gateway.lookupCount() == 1 }, time.Second, time.Millisecond)
	second := confirmAsync(f, ctx, b.Number, sess.ID)
	require.Eventually(t, func() bool { return f.gateway.lookupCount() == 2 }, time.Second, time.Millisecond)
	close(gate)

	got := <-first
	require.NoError(t, got.err)
	require.True(t, got.paid)
	got = <-second
	require.ErrorIs(t, got.err, checkout.ErrSessionMismatch)
	require.False(t, got.paid)

	other, err := f.invoices.Get(ctx, b.Number)
	require.NoError(t, err)
	require.False(t, other.Paid())
}

func TestConfirmReturnCompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(t, "100.00")
	sess, err := f.svc.Start(context.Background(), inv.Number, customerID)
	require.NoError(t, err)
	f.gateway.markPaid(sess.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	paid, err := f.svc.ConfirmReturn(ctx, inv.Number, customerID, sess.ID)
	require.NoError(t, err)
	require.True(t, paid)

	got, err := f.invoices.Get(context.Background(), inv.Number)
	require.NoError(t, err)
	require.True(t, got.Paid())
}

func TestConfirmReturnWithoutPendingChargeIsStillProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "100.00")
	sess, err := f.gateway.CreateSession(ctx, checkout.SessionRequest{InvoiceNumber: inv.Number})
	require.NoError(t, err)
	f.gateway.markPaid(sess.ID)

	paid, err := f.svc.ConfirmReturn(ctx, inv.Number, customerID, sess.ID)
	require.NoError(t, err)
	require.False(t, paid)
	require.Empty(t, f.repo.Payments(inv.ID))
}

func TestWebhookAppliesEventOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "100.00")
	sess, err := f.svc.Start(ctx, inv.Number, customerID)
	require.NoError(t, err)
	sig := f.gateway.deliver("evt_1", checkout.EventSessionCompleted, sess.ID)

	require.NoError(t, f.svc.HandleWebhook(ctx, nil, sig))
	require.NoError(t, f.svc.HandleWebhook(ctx, nil, sig))

	got, err := f.invoices.Get(ctx, inv.Number)
	require.NoError(t, err)
	require.True(t, got.Paid())
	require.Equal(t, invoices.PaymentCompleted, f.repo.Payments(inv.ID)[0].Status)
	require.Equal(t, 1, invoicestest.CountEvents(f.repo.Events(inv.ID), invoices.EventPaid))
	require.Len(t, f.notifier.Sent, 1)
}

func TestWebhookAndReturnRaceSettleOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "100.00")
	sess, err := f.svc.Start(ctx, inv.Number, customerID)
	require.NoError(t, err)
	f.gateway.markPaid(sess.ID)
	sig := f.gateway.deliver("evt_2", checkout.EventSessionCompleted, sess.ID)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConfirmReturn(ctx, inv.Number, customerID, sess.ID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandleWebhook(ctx, nil, sig))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, invoicestest.CountEvents(f.repo.Events(inv.ID), invoices.EventPaid))
}

func TestWebhookIgnoresOtherEventsAndBadSignatures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "100.00")
	sess, err := f.svc.Start(ctx, inv.Number, customerID)
	require.NoError(t, err)

	sig := f.gateway.deliver("evt_3", "payment_intent.created", sess.ID)
	require.NoError(t, f.svc.HandleWebhook(ctx, nil, sig))
	require.Equal(t, invoices.PaymentPending, f.repo.Payments(inv.ID)[0].Status)

	require.ErrorIs(t, f.svc.HandleWebhook(ctx, nil, "forged"), checkout.ErrInvalidSignature)
}

func TestOptionsSplitsLedgerAndPreviewsFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "100.00")
	_, _, err := f.invoices.RecordPayment(ctx, inv.Number, invoices.PaymentInput{
		Method: invoices.MethodBankTransfer, Amount: dec("40.00"), Status: invoices.PaymentCompleted,
	})
	require.NoError(t, err)
	_, _, err = f.invoices.RecordPayment(ctx, inv.Number, invoices.PaymentInput{
		Method: invoices.MethodCard, Amount: dec("10.00"), Status: invoices.PaymentFailed,
	})
	require.NoError(t, err)

	opts, err := f.svc.Options(ctx, inv.Number, customerID)
	require.NoError(t, err)
	require.True(t, opts.Outstanding.Equal(dec("60.00")))
	require.True(t, opts.AlreadyPaid.Equal(dec("40.00")))
	require.True(t, opts.StripeAvailable)
	require.NotNil(t, opts.StripeFee)
	fee, total := money.DefaultFeeSchedule().Charge(dec("60.00"))
	require.True(t, opts.StripeFee.Equal(fee))
	require.True(t, opts.CardTotal.Equal(total))
	require.Len(t, opts.Completed, 1)
	require.Len(t, opts.Failed, 1)
	require.Empty(t, opts.Pending)
	require.Equal(t, "12345678", opts.Bank.AccountNumber)
}

func TestStartSendsPreviewedFeeToProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(t, "250.00")

	opts, err := f.svc.Options(ctx, inv.Number, customerID)
	require.NoError(t, err)
	require.NotNil(t, opts.StripeFee)

	_, err = f.svc.Start(ctx, inv.Number, customerID)
	require.NoError(t, err)
	req := f.gateway.requests[0]
	require.True(t, req.Fee.Equal(*opts.StripeFee), "sent %s previewed %s", req.Fee, opts.StripeFee)
	require.True(t, req.Fee.Equal(req.Lines[1].Amount))
	require.True(t, f.repo.Payments(inv.ID)[0].Amount.Equal(*opts.CardTotal))
}
