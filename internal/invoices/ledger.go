package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/money"
	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

func normalizePayment(in PaymentInput, defaultStatus PaymentStatus, defaultProvider string) (PaymentInput, error) {
	fields := httpx.FieldErrors{}
	in.Method = strings.TrimSpace(in.Method)
	if in.Method == "" {
		in.Method = MethodUnspecified
	}
	in.Provider = strings.TrimSpace(in.Provider)
	if in.Provider == "" {
		in.Provider = defaultProvider
	}
	in.ProviderReference = strings.TrimSpace(in.ProviderReference)
	if in.Status == "" {
		in.Status = defaultStatus
	}
	if !in.Status.Valid() {
		fields["status"] = "must be one of pending, completed, failed"
	}
	if !in.Amount.IsPositive() {
		fields["amount"] = "must be greater than zero"
	} else if !in.Amount.Equal(money.Round(in.Amount)) {
		fields["amount"] = "must have at most two decimal places"
	}
	if len(in.Method) > 50 {
		fields["method"] = "must be at most 50 characters"
	}
	if len(in.Provider) > 50 {
		fields["provider"] = "must be at most 50 characters"
	}
	if len(in.ProviderReference) > 100 {
		fields["provider_reference"] = "must be at most 100 characters"
	}
	if len(fields) > 0 {
		return in, fields
	}
	return in, nil
}

// RecordPayment appends a ledger row of any status. Completed rows run the
// settlement check in the same transaction.
func (s *Service) RecordPayment(ctx context.Context, number string, in PaymentInput) (*Payment, *Invoice, error) {
	in, err := normalizePayment(in, PaymentPending, "")
	if err != nil {
		return nil, nil, fmt.Errorf("invoice payment: %w", err)
	}
	var (
		pay *Payment
		inv *Invoice
	)
	err = s.tx.Transact(ctx, func(ctx context.Context) error {
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		pay, err = s.appendPayment(ctx, inv, in)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, in.Actor, "invoice.payment_recorded", inv, map[string]any{
			"payment_id": pay.ID,
			"amount":     pay.Amount.StringFixed(2),
			"status":     pay.Status,
			"method":     pay.Method,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return pay, inv, nil
}

// RecordBankTransfer writes a completed bank transfer for the full outstanding
// balance and settles the invoice.
func (s *Service) RecordBankTransfer(ctx context.Context, number, reference, actor string) (*Payment, *Invoice, error) {
	var (
		pay *Payment
		inv *Invoice
	)
	err := s.tx.Transact(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		outstanding, err := s.outstanding(ctx, inv)
		if err != nil {
			return err
		}
		if inv.Paid() || !outstanding.IsPositive() {
			return ErrNothingOutstanding
		}
		pay, err = s.appendPayment(ctx, inv, PaymentInput{
			Method:            MethodBankTransfer,
			Amount:            outstanding,
			Status:            PaymentCompleted,
			Provider:          ProviderBank,
			ProviderReference: strings.TrimSpace(reference),
		})
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, "invoice.bank_transfer", inv, map[string]any{
			"payment_id": pay.ID,
			"amount":     pay.Amount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return pay, inv, nil
}

// TransitionPayment moves a pending row to completed or failed. Repeating the
// same transition is a no-op; any other move off a terminal status fails.
func (s *Service) TransitionPayment(ctx context.Context, number string, paymentID int64, to PaymentStatus) (*Payment, *Invoice, error) {
	if !to.Terminal() {
		return nil, nil, fmt.Errorf("invoice payment: %w", httpx.FieldErrors{"status": "must be completed or failed"})
	}
	var (
		pay *Payment
		inv *Invoice
	)
	err := s.tx.Transact(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		pay, err = s.repo.GetPayment(ctx, inv.ID, paymentID)
		if err != nil {
			return err
		}
		_, err = s.transition(ctx, inv, pay, to)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return pay, inv, nil
}

// CompleteByReference completes the pending row carrying the provider
// reference. It reports false when the row was already terminal, so repeated
// deliveries complete and settle once.
func (s *Service) CompleteByReference(ctx context.Context, number, provider, reference string) (bool, *Invoice, error) {
	if reference == "" {
		return false, nil, ErrPaymentNotFound
	}
	var (
		changed bool
		inv     *Invoice
	)
	err := s.tx.Transact(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		pay, err := s.repo.FindPaymentByReference(ctx, inv.ID, provider, reference)
		if err != nil {
			return err
		}
		if pay == nil {
			return ErrPaymentNotFound
		}
		if pay.Status != PaymentPending {
			return nil
		}
		changed, err = s.transition(ctx, inv, pay, PaymentCompleted)
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return changed, inv, nil
}

// RecordExternalPayment handles rows reported by the generic payment webhook.
// A repeated provider reference never creates a second row: a pending match
// is moved to the reported status and any other match is left as is.
func (s *Service) RecordExternalPayment(ctx context.Context, number string, in PaymentInput) (*Payment, bool, *Invoice, error) {
	in, err := normalizePayment(in, PaymentCompleted, ProviderWebhook)
	if err != nil {
		return nil, false, nil, fmt.Errorf("invoice payment: %w", err)
	}
	var (
		pay     *Payment
		created bool
		inv     *Invoice
	)
	err = s.tx.Transact(ctx, func(ctx context.Context) error {
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		if in.ProviderReference != "" {
			existing, err := s.repo.FindPaymentByReference(ctx, inv.ID, in.Provider, in.ProviderReference)
			if err != nil {
				return err
			}
			if existing != nil {
				pay = existing
				if existing.Status == PaymentPending && in.Status.Terminal() {
					_, err = s.transition(ctx, inv, pay, in.Status)
					return err
				}
				s.logger.Info("duplicate payment webhook ignored",
					slog.String("invoice", inv.Number),
					slog.String("provider", in.Provider),
					slog.String("reference", in.ProviderReference))
				return nil
			}
		}
		pay, err = s.appendPayment(ctx, inv, in)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, nil, err
	}
	return pay, created, inv, nil
}

// Outstanding returns total minus completed payments.
func (s *Service) Outstanding(ctx context.Context, number string) (decimal.Decimal, error) {
	inv, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return decimal.Zero, err
	}
	return s.outstanding(ctx, inv)
}

func (s *Service) outstanding(ctx context.Context, inv *Invoice) (decimal.Decimal, error) {
	payments, err := s.repo.ListPayments(ctx, inv.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Total.Sub(TotalCompleted(payments)), nil
}

// appendPayment expects inv to be locked by the caller's transaction.
func (s *Service) appendPayment(ctx context.Context, inv *Invoice, in PaymentInput) (*Payment, error) {
	pay, err := s.repo.InsertPayment(ctx, Payment{
		InvoiceID:         inv.ID,
		Method:            in.Method,
		Amount:            in.Amount,
		Status:            in.Status,
		Provider:          in.Provider,
		ProviderReference: in.ProviderReference,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.observePayment(pay)
	if pay.Status == PaymentCompleted {
		if _, err := s.settleLocked(ctx, inv); err != nil {
			return nil, err
		}
	}
	return pay, nil
}

// transition expects inv to be locked by the caller's transaction.
func (s *Service) transition(ctx context.Context, inv *Invoice, pay *Payment, to PaymentStatus) (bool, error) {
	if pay.Status == to {
		return false, nil
	}
	if pay.Status.Terminal() {
		return false, ErrIllegalTransition
	}
	ok, err := s.repo.TransitionPayment(ctx, inv.ID, pay.ID, to)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrIllegalTransition
	}
	pay.Status = to
	s.observePayment(pay)
	if to == PaymentCompleted {
		if _, err := s.settleLocked(ctx, inv); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Service) observePayment(p *Payment) {
	if s.metrics == nil {
		return
	}
	channel := p.Provider
	if channel == "" {
		channel = p.Method
	}
	s.metrics.PaymentRecorded(channel, string(p.Status))
}
