package store

import (
	"context"
	"time"
)

// SettledTotals aggregates PAID orders placed in a time range
type SettledTotals struct {
	OrderCount       int64 `db:"order_count"`
	RevenueCents     int64 `db:"revenue_cents"`
	GrossProfitCents int64 `db:"gross_profit_cents"`
	NetProfitCents   int64 `db:"net_profit_cents"`
	StripeFeeCents   int64 `db:"stripe_fee_cents"`
	CommCostCents    int64 `db:"comm_cost_cents"`
}

// ItemTotals aggregates item snapshots of PAID orders, grouped by name
type ItemTotals struct {
	Name         string `db:"name"`
	Quantity     int64  `db:"quantity"`
	RevenueCents int64  `db:"revenue_cents"`
	CostCents    int64  `db:"cost_cents"`
}

// SettledTotals sums settled orders of a store with placed_at in [from, to)
func (s *Store) SettledTotals(ctx context.Context, storeID string, from, to time.Time) (*SettledTotals, error) {
	var totals SettledTotals
	err := s.db.GetContext(ctx, &totals, `
		SELECT
			COUNT(*) AS order_count,
			COALESCE(SUM(total_cents), 0) AS revenue_cents,
			COALESCE(SUM(gross_profit_cents), 0) AS gross_profit_cents,
			COALESCE(SUM(net_profit_cents), 0) AS net_profit_cents,
			COALESCE(SUM(stripe_fee_cents), 0) AS stripe_fee_cents,
			COALESCE(SUM(comm_cost_cents), 0) AS comm_cost_cents
		FROM orders
		WHERE store_id = $1 AND payment_status = 'PAID' AND placed_at >= $2 AND placed_at < $3`,
		storeID, from, to)
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// ItemTotals groups the item snapshots of settled orders with placed_at in [from, to)
func (s *Store) ItemTotals(ctx context.Context, storeID string, from, to time.Time) ([]ItemTotals, error) {
	var rows []ItemTotals
	err := s.db.SelectContext(ctx, &rows, `
		SELECT
			oi.name_snapshot AS name,
			SUM(oi.quantity) AS quantity,
			SUM(oi.price_cents_snapshot * oi.quantity) AS revenue_cents,
			SUM(oi.cost_cents_snapshot * oi.quantity) AS cost_cents
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.store_id = $1 AND o.payment_status = 'PAID' AND o.placed_at >= $2 AND o.placed_at < $3
		GROUP BY oi.name_snapshot
		ORDER BY revenue_cents DESC, oi.name_snapshot`,
		storeID, from, to)
	return rows, err
}
