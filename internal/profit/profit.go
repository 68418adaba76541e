package profit

import (
	"pickup-service/internal/models"

	"github.com/shopspring/decimal"
)

// Breakdown holds the accounting fields derived for one order
type Breakdown struct {
	RevenueCents     int64 `json:"revenue_cents"`
	CostCents        int64 `json:"cost_cents"`
	PlatformFeeCents int64 `json:"platform_fee_cents"`
	CommCostCents    int64 `json:"comm_cost_cents"`
	GrossProfitCents int64 `json:"gross_profit_cents"`
	NetProfitCents   int64 `json:"net_profit_cents"`
}

// Calculate derives gross and net profit
func Calculate(revenueCents, costCents, platformFeeCents, commCostCents int64) Breakdown {
	gross := revenueCents - costCents
	return Breakdown{
		RevenueCents:     revenueCents,
		CostCents:        costCents,
		PlatformFeeCents: platformFeeCents,
		CommCostCents:    commCostCents,
		GrossProfitCents: gross,
		NetProfitCents:   gross - platformFeeCents - commCostCents,
	}
}

// WithCommCost returns the breakdown with a new cumulative communication cost
func (b Breakdown) WithCommCost(commCostCents int64) Breakdown {
	b.CommCostCents = commCostCents
	b.NetProfitCents = b.GrossProfitCents - b.PlatformFeeCents - commCostCents
	return b
}

// ApplyTo writes the accounting fields onto an order
func (b Breakdown) ApplyTo(order *models.Order) {
	order.StripeFeeCents = models.Int64Ptr(b.PlatformFeeCents)
	order.CommCostCents = models.Int64Ptr(b.CommCostCents)
	order.GrossProfitCents = models.Int64Ptr(b.GrossProfitCents)
	order.NetProfitCents = models.Int64Ptr(b.NetProfitCents)
}

// fromOrder reads back the persisted accounting. Revenue and cost are not stored on the order.
func fromOrder(order *models.Order) Breakdown {
	return Breakdown{
		PlatformFeeCents: models.Int64Value(order.StripeFeeCents),
		CommCostCents:    models.Int64Value(order.CommCostCents),
		GrossProfitCents: models.Int64Value(order.GrossProfitCents),
		NetProfitCents:   models.Int64Value(order.NetProfitCents),
	}
}

// ItemsRevenue sums snapshot price × quantity
func ItemsRevenue(items []models.OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.PriceCentsSnapshot * int64(item.Quantity)
	}
	return total
}

// ItemsCost sums snapshot cost × quantity
func ItemsCost(items []models.OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.CostCentsSnapshot * int64(item.Quantity)
	}
	return total
}

// ApplyCommCost adds a confirmed communication cost to the order and re-derives net profit.
// Orders that have not been through payment confirmation carry no accounting and are untouched.
func ApplyCommCost(order *models.Order, costCents int64) {
	if order.GrossProfitCents == nil || costCents == 0 {
		return
	}
	b := fromOrder(order)
	b.WithCommCost(b.CommCostCents + costCents).ApplyTo(order)
}

// MarginPercent returns profit/revenue as a percentage rounded to two places
func MarginPercent(profitCents, revenueCents int64) decimal.Decimal {
	if revenueCents <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(profitCents).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(revenueCents)).
		Round(2)
}
