package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/quotedesk/internal/company"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/money"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// idempotencyModule scopes processed webhook event ids.
const idempotencyModule = "checkout.webhook"

// Idempotency remembers processed webhook events.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// CompanySource provides bank transfer details.
type CompanySource interface {
	Details(ctx context.Context) company.Details
}

// Config carries checkout settings.
type Config struct {
	Fees      money.FeeSchedule
	BaseURL   string
	PublicKey string
	Timeout   time.Duration
}

// Service orchestrates checkout against the invoice ledger.
type Service struct {
	invoices *invoices.Service
	gateway  Gateway
	company  CompanySource
	idem     Idempotency
	cfg      Config
	logger   *slog.Logger
	group    singleflight.Group
}

// NewService constructs Service. A nil gateway disables card payments.
func NewService(inv *invoices.Service, gateway Gateway, companySrc CompanySource, idem Idempotency, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Service{invoices: inv, gateway: gateway, company: companySrc, idem: idem, cfg: cfg, logger: logger}
}

// Available reports whether card checkout can be offered.
func (s *Service) Available() bool {
	return s.gateway != nil && s.cfg.PublicKey != ""
}

// FeeSettings is the fee schedule as shown to customers.
type FeeSettings struct {
	Percent decimal.Decimal `json:"percent"`
	Fixed   decimal.Decimal `json:"fixed"`
	GrossUp bool            `json:"gross_up"`
}

// Options is the payment-methods view of an invoice.
type Options struct {
	Invoice         invoices.Invoice   `json:"invoice"`
	Outstanding     decimal.Decimal    `json:"outstanding"`
	InvoiceTotal    decimal.Decimal    `json:"invoice_total"`
	AlreadyPaid     decimal.Decimal    `json:"already_paid"`
	StripeAvailable bool               `json:"stripe_available"`
	StripeFee       *decimal.Decimal   `json:"stripe_fee,omitempty"`
	CardTotal       *decimal.Decimal   `json:"card_total,omitempty"`
	Bank            company.Bank       `json:"bank_details"`
	Fees            FeeSettings        `json:"fee_settings"`
	Completed       []invoices.Payment `json:"completed_payments"`
	Pending         []invoices.Payment `json:"pending_payments"`
	Failed          []invoices.Payment `json:"failed_payments"`
}

// Options assembles the payment-methods page for the invoice owner.
func (s *Service) Options(ctx context.Context, number string, userID int64) (*Options, error) {
	d, err := s.invoices.FindForCustomer(ctx, number, userID)
	if err != nil {
		return nil, err
	}
	out := &Options{
		Invoice:         d.Invoice,
		Outstanding:     d.Outstanding,
		InvoiceTotal:    d.Invoice.Total,
		AlreadyPaid:     d.PaidSoFar,
		StripeAvailable: s.Available(),
		Fees:            FeeSettings{Percent: s.cfg.Fees.Percent, Fixed: s.cfg.Fees.Fixed, GrossUp: s.cfg.Fees.GrossUp},
		Completed:       []invoices.Payment{},
		Pending:         []invoices.Payment{},
		Failed:          []invoices.Payment{},
	}
	if s.company != nil {
		out.Bank = s.company.Details(ctx).Bank
	}
	if out.StripeAvailable && d.Outstanding.IsPositive() {
		fee, total := s.cfg.Fees.Charge(d.Outstanding)
		out.StripeFee, out.CardTotal = &fee, &total
	}
	for _, p := range d.Payments {
		switch p.Status {
		case invoices.PaymentCompleted:
			out.Completed = append(out.Completed, p)
		case invoices.PaymentPending:
			out.Pending = append(out.Pending, p)
		case invoices.PaymentFailed:
			out.Failed = append(out.Failed, p)
		}
	}
	return out, nil
}

// Start opens a hosted checkout for the outstanding balance plus card fee and
// records the charge as a pending ledger row. The remote session is expired
// again when the ledger write fails.
func (s *Service) Start(ctx context.Context, number string, userID int64) (*Session, error) {
	d, err := s.invoices.FindForCustomer(ctx, number, userID)
	if err != nil {
		return nil, err
	}
	if d.Invoice.Paid() {
		return nil, ErrAlreadyPaid
	}
	if !d.Outstanding.IsPositive() {
		return nil, ErrNothingToPay
	}
	if !s.Available() {
		return nil, ErrDisabled
	}

	fee, total := s.cfg.Fees.Charge(d.Outstanding)
	lines := []Line{{Name: "Invoice " + d.Invoice.Number, Amount: money.Round(d.Outstanding)}}
	if fee.IsPositive() {
		lines = append(lines, Line{Name: "Card processing fee", Amount: fee})
	}
	base := s.cfg.BaseURL + "/account/invoices/" + url.PathEscape(d.Invoice.Number) + "/pay"

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	sess, err := s.gateway.CreateSession(callCtx, SessionRequest{
		InvoiceNumber: d.Invoice.Number,
		CustomerEmail: d.Invoice.ClientEmail,
		Lines:         lines,
		Fee:           fee,
		SuccessURL:    base + "/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     base + "/cancel",
	})
	if err != nil {
		return nil, err
	}

	_, _, err = s.invoices.RecordPayment(ctx, d.Invoice.Number, invoices.PaymentInput{
		Method:            invoices.MethodCard,
		Amount:            total,
		Status:            invoices.PaymentPending,
		Provider:          invoices.ProviderStripe,
		ProviderReference: sess.ID,
		Actor:             fmt.Sprintf("user:%d", userID),
	})
	if err != nil {
		s.expire(sess.ID)
		return nil, err
	}
	s.logger.Info("checkout started",
		slog.String("invoice", d.Invoice.Number),
		slog.String("session", sess.ID),
		slog.String("amount", total.StringFixed(2)))
	return sess, nil
}

func (s *Service) expire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.gateway.ExpireSession(ctx, sessionID); err != nil {
		s.logger.Error("checkout session expire failed", slog.String("session", sessionID), slog.Any("error", err))
	}
}

// ConfirmReturn checks the session the customer came back with and completes
// the pending row when the provider reports it paid. Concurrent confirmations
// of one session for one invoice share a single provider lookup, which runs
// detached from any single caller's cancellation.
func (s *Service) ConfirmReturn(ctx context.Context, number string, userID int64, sessionID string) (bool, error) {
	d, err := s.invoices.FindForCustomer(ctx, number, userID)
	if err != nil {
		return false, err
	}
	if sessionID == "" {
		return d.Invoice.Paid(), nil
	}
	if s.gateway == nil {
		return false, ErrDisabled
	}
	invoiceNumber := d.Invoice.Number
	detached := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(invoiceNumber+"|"+sessionID, func() (any, error) {
		callCtx, cancel := context.WithTimeout(detached, s.cfg.Timeout)
		defer cancel()
		sess, err := s.gateway.GetSession(callCtx, sessionID)
		if err != nil {
			return false, err
		}
		if sess.InvoiceNumber != "" && sess.InvoiceNumber != invoiceNumber {
			return false, ErrSessionMismatch
		}
		if !sess.Paid {
			return false, nil
		}
		_, _, err = s.invoices.CompleteByReference(detached, invoiceNumber, invoices.ProviderStripe, sess.ID)
		if errors.Is(err, invoices.ErrPaymentNotFound) {
			s.logger.Warn("checkout return without pending charge",
				slog.String("invoice", invoiceNumber),
				slog.String("session", sess.ID))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// WebhooksEnabled reports whether signed deliveries are verified.
func (s *Service) WebhooksEnabled() bool {
	return s.gateway != nil && s.gateway.WebhooksEnabled()
}

// HandleWebhook verifies and applies one provider delivery. Events are
// applied at most once; a failed apply forgets the event so a retry can
// succeed.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.WebhooksEnabled() {
		return nil
	}
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if ev.Type != EventSessionCompleted || ev.Session == nil {
		return nil
	}
	if s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, ev.ID, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.logger.Info("checkout webhook replay ignored", slog.String("event", ev.ID))
				return nil
			}
			return err
		}
	}
	err = s.completeFromWebhook(ctx, ev)
	if err != nil && s.idem != nil {
		if derr := s.idem.Delete(ctx, ev.ID); derr != nil {
			s.logger.Error("checkout webhook key rollback failed", slog.String("event", ev.ID), slog.Any("error", derr))
		}
	}
	return err
}

func (s *Service) completeFromWebhook(ctx context.Context, ev *Event) error {
	number := ev.Session.InvoiceNumber
	if number == "" {
		s.logger.Warn("checkout webhook without invoice number", slog.String("session", ev.Session.ID))
		return nil
	}
	changed, _, err := s.invoices.CompleteByReference(ctx, number, invoices.ProviderStripe, ev.Session.ID)
	switch {
	case errors.Is(err, invoices.ErrPaymentNotFound), errors.Is(err, invoices.ErrInvoiceNotFound):
		s.logger.Warn("checkout webhook for unknown charge",
			slog.String("invoice", number), slog.String("session", ev.Session.ID))
		return nil
	case err != nil:
		return err
	}
	s.logger.Info("checkout webhook applied",
		slog.String("invoice", number), slog.String("session", ev.Session.ID), slog.Bool("changed", changed))
	return nil
}
