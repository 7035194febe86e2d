package invoices

import (
	"context"
	"fmt"
	"log/slog"
)

// Settle runs the settlement check for an invoice. It is safe to call any
// number of times; an already paid invoice is left untouched.
func (s *Service) Settle(ctx context.Context, number string) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.Transact(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		_, err = s.settleLocked(ctx, inv)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// MarkPaid forces the invoice to paid regardless of the ledger. Repeated calls
// are no-ops.
func (s *Service) MarkPaid(ctx context.Context, number, actor string) (*Invoice, error) {
	var inv *Invoice
	err := s.tx.Transact(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		flipped, err := s.markPaidLocked(ctx, inv)
		if err != nil || !flipped {
			return err
		}
		return s.recordAudit(ctx, actor, "invoice.mark_paid", inv, nil)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// settleLocked expects inv to be row-locked by the caller's transaction.
func (s *Service) settleLocked(ctx context.Context, inv *Invoice) (bool, error) {
	if inv.Paid() {
		return false, nil
	}
	payments, err := s.repo.ListPayments(ctx, inv.ID)
	if err != nil {
		return false, err
	}
	if TotalCompleted(payments).LessThan(inv.Total) {
		return false, nil
	}
	return s.markPaidLocked(ctx, inv)
}

func (s *Service) markPaidLocked(ctx context.Context, inv *Invoice) (bool, error) {
	if inv.Paid() {
		return false, nil
	}
	now := s.now()
	flipped, err := s.repo.MarkPaid(ctx, inv.ID, now)
	if err != nil {
		return false, err
	}
	if !flipped {
		inv.Status = StatusPaid
		return false, nil
	}
	inv.Status = StatusPaid
	inv.PaidAt = &now
	if _, err := s.events.Record(ctx, inv, EventPaid, fmt.Sprintf("Payment completed for %s.", inv.Number)); err != nil {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.InvoiceSettled()
	}
	s.logger.Info("invoice settled", slog.String("invoice", inv.Number))
	return true, nil
}
