package invoices

import (
	"context"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ConfirmItemsInStock stamps the stock milestone once; later calls are no-ops.
func (s *Service) ConfirmItemsInStock(ctx context.Context, number, actor string) (*Invoice, bool, error) {
	return s.milestone(ctx, number, actor, "invoice.stock_confirmed", func(ctx context.Context, inv *Invoice) (bool, error) {
		if inv.ItemsInStockAt != nil {
			return false, nil
		}
		now := s.now()
		if err := s.repo.SetItemsInStock(ctx, inv.ID, now); err != nil {
			return false, err
		}
		inv.ItemsInStockAt = &now
		_, err := s.events.Record(ctx, inv, EventStockOK, "All items confirmed in stock.")
		return err == nil, err
	})
}

// ScheduleBuild sets the build date. Setting the date it already has is a no-op.
func (s *Service) ScheduleBuild(ctx context.Context, number string, date time.Time, actor string) (*Invoice, bool, error) {
	date = truncateDate(date)
	return s.milestone(ctx, number, actor, "invoice.build_scheduled", func(ctx context.Context, inv *Invoice) (bool, error) {
		if sameDate(inv.BuildDate, date) {
			return false, nil
		}
		if err := s.repo.SetBuildDate(ctx, inv.ID, date); err != nil {
			return false, err
		}
		inv.BuildDate = &date
		_, err := s.events.Record(ctx, inv, EventBuildScheduled, fmt.Sprintf("Build scheduled for %s.", date.Format(dateLayout)))
		return err == nil, err
	})
}

// ScheduleShipping sets the shipping date. Setting the date it already has is a no-op.
func (s *Service) ScheduleShipping(ctx context.Context, number string, date time.Time, actor string) (*Invoice, bool, error) {
	date = truncateDate(date)
	return s.milestone(ctx, number, actor, "invoice.shipping_scheduled", func(ctx context.Context, inv *Invoice) (bool, error) {
		if sameDate(inv.ShippingDate, date) {
			return false, nil
		}
		if err := s.repo.SetShippingDate(ctx, inv.ID, date); err != nil {
			return false, err
		}
		inv.ShippingDate = &date
		_, err := s.events.Record(ctx, inv, EventShipScheduled, fmt.Sprintf("Shipping scheduled for %s.", date.Format(dateLayout)))
		return err == nil, err
	})
}

func (s *Service) milestone(ctx context.Context, number, actor, action string, apply func(context.Context, *Invoice) (bool, error)) (*Invoice, bool, error) {
	var (
		inv     *Invoice
		changed bool
	)
	err := s.tx.Transact(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.repo.LockByNumber(ctx, number)
		if err != nil {
			return err
		}
		changed, err = apply(ctx, inv)
		if err != nil || !changed {
			return err
		}
		return s.recordAudit(ctx, actor, action, inv, nil)
	})
	if err != nil {
		return nil, false, err
	}
	return inv, changed, nil
}

// ParseDate reads a YYYY-MM-DD form value.
func ParseDate(raw string) (time.Time, error) {
	return time.Parse(dateLayout, raw)
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDate(current *time.Time, date time.Time) bool {
	return current != nil && truncateDate(*current).Equal(date)
}
