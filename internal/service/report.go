package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"pickup-service/internal/models"
	"pickup-service/internal/profit"
	"pickup-service/internal/store"
	"pickup-service/internal/util"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// DailySummary rolls up the settled orders of one store-local day
type DailySummary struct {
	Date                  string `json:"date"`
	OrderCount            int64  `json:"order_count"`
	TotalRevenueCents     int64  `json:"total_revenue_cents"`
	TotalGrossProfitCents int64  `json:"total_gross_profit_cents"`
	TotalNetProfitCents   int64  `json:"total_net_profit_cents"`
	TotalStripeFeeCents   int64  `json:"total_stripe_fee_cents"`
	TotalCommCostCents    int64  `json:"total_comm_cost_cents"`
}

// ItemReportRow is the performance of one menu item name over a date range
type ItemReportRow struct {
	ItemName      string  `json:"item_name"`
	Quantity      int64   `json:"quantity"`
	RevenueCents  int64   `json:"revenue_cents"`
	CostCents     int64   `json:"cost_cents"`
	ProfitCents   int64   `json:"profit_cents"`
	MarginPercent float64 `json:"margin_percent"`
}

// ReportService serves read-only rollups over settled orders. Results are cached briefly;
// ORDER_PAID events drop a store's entries early.
type ReportService struct {
	store  ReportStore
	cache  *expirable.LRU[string, interface{}]
	logger *zap.Logger
}

// NewReportService creates a report service with an LRU of size entries living for ttl
func NewReportService(store ReportStore, size int, ttl time.Duration) *ReportService {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ReportService{
		store:  store,
		cache:  expirable.NewLRU[string, interface{}](size, nil, ttl),
		logger: util.GetLogger(),
	}
}

// DailySummary sums settled orders placed on date (YYYY-MM-DD) in the store's timezone
func (s *ReportService) DailySummary(ctx context.Context, storeID, date string) (*DailySummary, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.DailySummary")
	defer span.End()

	if !validID(storeID) || date == "" {
		return nil, ValidationError("storeId and date are required")
	}

	key := cacheKey(storeID, "daily", date)
	if v, ok := s.cache.Get(key); ok {
		util.ReportCacheTotal.WithLabelValues("hit").Inc()
		return v.(*DailySummary), nil
	}
	util.ReportCacheTotal.WithLabelValues("miss").Inc()

	loc, err := s.location(ctx, storeID)
	if err != nil {
		return nil, err
	}
	from, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return nil, ValidationError("date must be YYYY-MM-DD")
	}

	totals, err := s.store.SettledTotals(ctx, storeID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to sum orders: %w", err)
	}

	summary := &DailySummary{
		Date:                  date,
		OrderCount:            totals.OrderCount,
		TotalRevenueCents:     totals.RevenueCents,
		TotalGrossProfitCents: totals.GrossProfitCents,
		TotalNetProfitCents:   totals.NetProfitCents,
		TotalStripeFeeCents:   totals.StripeFeeCents,
		TotalCommCostCents:    totals.CommCostCents,
	}
	s.cache.Add(key, summary)
	return summary, nil
}

// ItemReport groups settled item snapshots by name between dateFrom and dateTo inclusive,
// sorted by revenue descending
func (s *ReportService) ItemReport(ctx context.Context, storeID, dateFrom, dateTo string) ([]ItemReportRow, error) {
	ctx, span := util.StartSpan(ctx, "ReportService.ItemReport")
	defer span.End()

	if !validID(storeID) || dateFrom == "" || dateTo == "" {
		return nil, ValidationError("storeId, dateFrom, and dateTo are required")
	}

	key := cacheKey(storeID, "items", dateFrom+".."+dateTo)
	if v, ok := s.cache.Get(key); ok {
		util.ReportCacheTotal.WithLabelValues("hit").Inc()
		return v.([]ItemReportRow), nil
	}
	util.ReportCacheTotal.WithLabelValues("miss").Inc()

	loc, err := s.location(ctx, storeID)
	if err != nil {
		return nil, err
	}
	from, err1 := time.ParseInLocation(dateLayout, dateFrom, loc)
	to, err2 := time.ParseInLocation(dateLayout, dateTo, loc)
	if err1 != nil || err2 != nil {
		return nil, ValidationError("dates must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return nil, ValidationError("dateTo must not be before dateFrom")
	}

	totals, err := s.store.ItemTotals(ctx, storeID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to group items: %w", err)
	}

	rows := make([]ItemReportRow, 0, len(totals))
	for _, t := range totals {
		profitCents := t.RevenueCents - t.CostCents
		rows = append(rows, ItemReportRow{
			ItemName:      t.Name,
			Quantity:      t.Quantity,
			RevenueCents:  t.RevenueCents,
			CostCents:     t.CostCents,
			ProfitCents:   profitCents,
			MarginPercent: profit.MarginPercent(profitCents, t.RevenueCents).InexactFloat64(),
		})
	}

	s.cache.Add(key, rows)
	return rows, nil
}

// InvalidateStore drops every cached report of a store
func (s *ReportService) InvalidateStore(storeID string) int {
	prefix := storeID + "|"
	removed := 0
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) && s.cache.Remove(k) {
			removed++
		}
	}
	return removed
}

// HandleOrderPaid invalidates the paying store's reports
func (s *ReportService) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	s.invalidate(event.StoreID, event.EventType)
	return nil
}

// HandleOrderStatusChanged invalidates the store's reports. Ready calls and
// reissued codes add communication cost to a settled order.
func (s *ReportService) HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	s.invalidate(event.StoreID, event.EventType)
	return nil
}

func (s *ReportService) invalidate(storeID, reason string) {
	n := s.InvalidateStore(storeID)
	s.logger.Debug("Report cache invalidated",
		zap.String("store_id", storeID),
		zap.String("event_type", reason),
		zap.Int("entries", n))
}

func (s *ReportService) location(ctx context.Context, storeID string) (*time.Location, error) {
	st, err := s.store.GetStoreByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Store")
		}
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	loc, err := time.LoadLocation(st.Timezone)
	if err != nil || st.Timezone == "" {
		s.logger.Warn("Unknown store timezone, using UTC",
			zap.String("store_id", storeID),
			zap.String("timezone", st.Timezone))
		return time.UTC, nil
	}
	return loc, nil
}

func cacheKey(storeID, kind, rangeKey string) string {
	return storeID + "|" + kind + "|" + rangeKey
}
