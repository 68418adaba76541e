package service

import (
	"context"
	"testing"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReportStore struct {
	shop     *models.Store
	totals   store.SettledTotals
	items    []store.ItemTotals
	calls    int
	from, to time.Time
}

func (f *fakeReportStore) GetStoreByID(ctx context.Context, id string) (*models.Store, error) {
	if f.shop == nil || id != f.shop.ID {
		return nil, store.ErrNotFound
	}
	return f.shop, nil
}

func (f *fakeReportStore) SettledTotals(ctx context.Context, storeID string, from, to time.Time) (*store.SettledTotals, error) {
	f.calls++
	f.from, f.to = from, to
	t := f.totals
	return &t, nil
}

func (f *fakeReportStore) ItemTotals(ctx context.Context, storeID string, from, to time.Time) ([]store.ItemTotals, error) {
	f.calls++
	f.from, f.to = from, to
	return f.items, nil
}

func newFakeReportStore(tz string) *fakeReportStore {
	return &fakeReportStore{
		shop: &models.Store{ID: uuid.New().String(), Name: "Downtown", Slug: "downtown", Timezone: tz},
		totals: store.SettledTotals{
			OrderCount:       2,
			RevenueCents:     3000,
			GrossProfitCents: 1500,
			NetProfitCents:   1349,
			StripeFeeCents:   148,
			CommCostCents:    3,
		},
		items: []store.ItemTotals{
			{Name: "Burger", Quantity: 4, RevenueCents: 3200, CostCents: 1200},
			{Name: "Water", Quantity: 2, RevenueCents: 0, CostCents: 20},
		},
	}
}

func TestDailySummaryUsesStoreTimezone(t *testing.T) {
	rs := newFakeReportStore("America/New_York")
	svc := NewReportService(rs, 16, time.Minute)

	summary, err := svc.DailySummary(context.Background(), rs.shop.ID, "2026-03-14")
	require.NoError(t, err)

	assert.Equal(t, "2026-03-14", summary.Date)
	assert.Equal(t, int64(2), summary.OrderCount)
	assert.Equal(t, int64(1349), summary.TotalNetProfitCents)
	assert.Equal(t, int64(148), summary.TotalStripeFeeCents)

	loc, _ := time.LoadLocation("America/New_York")
	assert.True(t, rs.from.Equal(time.Date(2026, 3, 14, 0, 0, 0, 0, loc)))
	assert.True(t, rs.to.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, loc)))
}

func TestDailySummaryValidation(t *testing.T) {
	rs := newFakeReportStore("UTC")
	svc := NewReportService(rs, 16, time.Minute)

	_, err := svc.DailySummary(context.Background(), "", "2026-03-14")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.DailySummary(context.Background(), rs.shop.ID, "")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.DailySummary(context.Background(), rs.shop.ID, "14/03/2026")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.DailySummary(context.Background(), uuid.New().String(), "2026-03-14")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestReportCacheAndInvalidation(t *testing.T) {
	rs := newFakeReportStore("UTC")
	svc := NewReportService(rs, 16, time.Minute)
	ctx := context.Background()

	_, err := svc.DailySummary(ctx, rs.shop.ID, "2026-03-14")
	require.NoError(t, err)
	_, err = svc.DailySummary(ctx, rs.shop.ID, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 1, rs.calls)

	err = svc.HandleOrderPaid(ctx, &models.OrderPaidEvent{StoreID: rs.shop.ID})
	require.NoError(t, err)

	rs.totals.OrderCount = 3
	summary, err := svc.DailySummary(ctx, rs.shop.ID, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 2, rs.calls)
	assert.Equal(t, int64(3), summary.OrderCount)

	// another store's payment leaves this store cached
	assert.Equal(t, 0, svc.InvalidateStore(uuid.New().String()))

	// comm cost from a ready call changes settled totals too
	err = svc.HandleOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderReady},
		StoreID:   rs.shop.ID,
	})
	require.NoError(t, err)
	_, err = svc.DailySummary(ctx, rs.shop.ID, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, 3, rs.calls)
}

func TestItemReport(t *testing.T) {
	rs := newFakeReportStore("UTC")
	svc := NewReportService(rs, 16, time.Minute)

	rows, err := svc.ItemReport(context.Background(), rs.shop.ID, "2026-03-01", "2026-03-14")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Burger", rows[0].ItemName)
	assert.Equal(t, int64(2000), rows[0].ProfitCents)
	assert.InDelta(t, 62.5, rows[0].MarginPercent, 0.0001)

	// zero revenue has no defined margin
	assert.Equal(t, int64(-20), rows[1].ProfitCents)
	assert.Equal(t, 0.0, rows[1].MarginPercent)

	// dateTo is inclusive
	assert.True(t, rs.to.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestItemReportValidation(t *testing.T) {
	rs := newFakeReportStore("UTC")
	svc := NewReportService(rs, 16, time.Minute)

	_, err := svc.ItemReport(context.Background(), rs.shop.ID, "2026-03-14", "")
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = svc.ItemReport(context.Background(), rs.shop.ID, "2026-03-14", "2026-03-01")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, 0, rs.calls)
}
