package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeSchedule describes the card surcharge applied on top of a balance.
type FeeSchedule struct {
	Percent decimal.Decimal
	Fixed   decimal.Decimal
	GrossUp bool
}

// DefaultFeeSchedule is 2.9% + £0.20 grossed up.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Percent: decimal.RequireFromString("2.9"),
		Fixed:   decimal.RequireFromString("0.20"),
		GrossUp: true,
	}
}

// NewFeeSchedule parses and validates a schedule.
func NewFeeSchedule(percent, fixed string, grossUp bool) (FeeSchedule, error) {
	p, err := decimal.NewFromString(percent)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("money: fee percent %q: %w", percent, err)
	}
	f, err := decimal.NewFromString(fixed)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("money: fixed fee %q: %w", fixed, err)
	}
	s := FeeSchedule{Percent: p, Fixed: f, GrossUp: grossUp}
	return s, s.Validate()
}

// Validate rejects schedules that cannot produce a finite fee.
func (s FeeSchedule) Validate() error {
	if s.Percent.IsNegative() || s.Percent.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("money: fee percent must be in [0, 100), got %s", s.Percent)
	}
	if s.Fixed.IsNegative() {
		return fmt.Errorf("money: fixed fee must not be negative, got %s", s.Fixed)
	}
	return nil
}

// Fee returns the surcharge for balance. With GrossUp the fee is sized so
// that after the processor keeps its cut the merchant nets the balance.
func (s FeeSchedule) Fee(balance decimal.Decimal) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	rate := s.Percent.Div(hundred)
	if !s.GrossUp {
		return Round(balance.Mul(rate).Add(s.Fixed))
	}
	gross := balance.Add(s.Fixed).DivRound(decimal.NewFromInt(1).Sub(rate), 16)
	return Round(gross.Sub(balance))
}

// Charge returns the fee and the total the customer pays by card.
func (s FeeSchedule) Charge(balance decimal.Decimal) (fee, total decimal.Decimal) {
	fee = s.Fee(balance)
	return fee, Round(balance).Add(fee)
}

// Net is what the merchant keeps from gross after the processor's cut.
func (s FeeSchedule) Net(gross decimal.Decimal) decimal.Decimal {
	return gross.Sub(gross.Mul(s.Percent).Div(hundred)).Sub(s.Fixed)
}
