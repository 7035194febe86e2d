package invoices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/money"
	"github.com/odyssey-erp/quotedesk/internal/platform/db"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

const numberAttempts = 3

var errNumberTaken = errors.New("invoices: number taken")

// AuditRecorder persists operator actions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics observes ledger and settlement outcomes.
type Metrics interface {
	PaymentRecorded(channel string, status string)
	InvoiceSettled()
}

// Service orchestrates invoice creation, the payment ledger, settlement and
// fulfilment milestones.
type Service struct {
	repo    RepositoryPort
	tx      db.Transactor
	events  *EventLog
	audit   AuditRecorder
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.events.now = now
	}
}

// WithAudit enables the operator audit trail.
func WithAudit(a AuditRecorder) Option {
	return func(s *Service) { s.audit = a }
}

// WithMetrics enables ledger metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, tx db.Transactor, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:   repo,
		tx:     tx,
		events: NewEventLog(repo, tx, notifier, logger),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events exposes the event log for callers that record milestones directly.
func (s *Service) Events() *EventLog {
	return s.events
}

// CreateFromQuote snapshots quote totals into a new invoice. A quote can be
// invoiced once; later attempts return ErrInvoiceExists.
func (s *Service) CreateFromQuote(ctx context.Context, in FromQuoteInput) (*Invoice, error) {
	if in.QuoteID == 0 {
		return nil, errors.New("invoice: quote id required")
	}
	var created *Invoice
	err := s.tx.Transact(ctx, func(ctx context.Context) error {
		exists, err := s.repo.ExistsForQuote(ctx, in.QuoteID)
		if err != nil {
			return err
		}
		if exists {
			return ErrInvoiceExists
		}
		now := s.now()
		inv := Invoice{
			QuoteID:     in.QuoteID,
			UserID:      in.UserID,
			ClientName:  in.ClientName,
			ClientEmail: strings.ToLower(strings.TrimSpace(in.ClientEmail)),
			ClientPhone: in.ClientPhone,
			Subtotal:    money.Round(in.Subtotal),
			Delivery:    money.Round(in.Delivery),
			VAT:         money.Round(in.VAT),
			Total:       money.Round(in.Total),
			Status:      StatusUnpaid,
			CreatedAt:   now,
		}
		for attempt := 0; attempt < numberAttempts; attempt++ {
			inv.Number = shared.NewCode("INV", now)
			created, err = s.repo.Create(ctx, inv)
			if !errors.Is(err, errNumberTaken) {
				return err
			}
		}
		return fmt.Errorf("invoice: could not allocate a number after %d attempts", numberAttempts)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice created", slog.String("invoice", created.Number), slog.Int64("quote_id", in.QuoteID))
	return created, nil
}

// Get returns an invoice by number.
func (s *Service) Get(ctx context.Context, number string) (*Invoice, error) {
	return s.repo.GetByNumber(ctx, number)
}

// GetByQuote returns the invoice created from a quote.
func (s *Service) GetByQuote(ctx context.Context, quoteID int64) (*Invoice, error) {
	return s.repo.GetByQuote(ctx, quoteID)
}

// Detail returns the invoice with its ledger, events and balances.
func (s *Service) Detail(ctx context.Context, number string) (*Detail, error) {
	inv, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, inv)
}

// FindForCustomer returns the detail only if the user owns the invoice.
func (s *Service) FindForCustomer(ctx context.Context, number string, userID int64) (*Detail, error) {
	inv, err := s.repo.GetForCustomer(ctx, number, userID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, inv)
}

// ListForCustomer lists invoices visible to the user.
func (s *Service) ListForCustomer(ctx context.Context, userID int64) ([]Invoice, error) {
	return s.repo.ListForCustomer(ctx, userID)
}

// Document assembles what an invoice PDF renders.
func (s *Service) Document(ctx context.Context, d *Detail) (*Document, error) {
	items, err := s.repo.ListLineItems(ctx, d.Invoice.QuoteID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Total = money.Round(items[i].UnitPrice.Mul(decimal.NewFromInt(int64(items[i].Quantity))))
	}
	return &Document{Detail: *d, Items: items}, nil
}

func (s *Service) detail(ctx context.Context, inv *Invoice) (*Detail, error) {
	payments, err := s.repo.ListPayments(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	paid := TotalCompleted(payments)
	return &Detail{
		Invoice:     *inv,
		Payments:    payments,
		Events:      events,
		PaidSoFar:   paid,
		Outstanding: inv.Total.Sub(paid),
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, inv *Invoice, meta map[string]any) error {
	if s.audit == nil || actor == "" {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "invoice",
		EntityID: inv.Number,
		Meta:     meta,
		At:       s.now(),
	})
}
