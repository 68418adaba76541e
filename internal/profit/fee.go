package profit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeSchedule describes the payment provider's per-charge pricing
type FeeSchedule struct {
	Rate       decimal.Decimal
	FixedCents int64
}

// DefaultFeeSchedule is 2.9% + 30c
var DefaultFeeSchedule = FeeSchedule{
	Rate:       decimal.RequireFromString("0.029"),
	FixedCents: 30,
}

// NewFeeSchedule builds a schedule from a percentage such as "2.9"
func NewFeeSchedule(percent string, fixedCents int64) (FeeSchedule, error) {
	p, err := decimal.NewFromString(percent)
	if err != nil {
		return FeeSchedule{}, fmt.Errorf("invalid fee percent %q: %w", percent, err)
	}
	if p.IsNegative() || fixedCents < 0 {
		return FeeSchedule{}, fmt.Errorf("fee schedule must not be negative")
	}
	return FeeSchedule{
		Rate:       p.Div(decimal.NewFromInt(100)),
		FixedCents: fixedCents,
	}, nil
}

// Fee returns round(amount × rate) + fixed, rounding the percentage term half-up
func (f FeeSchedule) Fee(amountCents int64) int64 {
	pct := decimal.NewFromInt(amountCents).Mul(f.Rate).Round(0)
	return pct.IntPart() + f.FixedCents
}
