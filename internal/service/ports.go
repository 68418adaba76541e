package service

import (
	"context"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/store"
)

// OrderStore is the persistence used by the order lifecycle
type OrderStore interface {
	WithOrderLock(ctx context.Context, orderID string, fn func(tx store.OrderTx) error) error
	UpdateCallLogStatus(ctx context.Context, callSID, status string, errorCode *string) (int64, error)
}

// CatalogStore is the persistence used by checkout, order lookup and the menu
type CatalogStore interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetOrderItemsByOrderIDs(ctx context.Context, orderIDs []string) (map[string][]models.OrderItem, error)
	ListOrders(ctx context.Context, storeID string, status models.OrderStatus, limit int) ([]models.Order, error)
	GetStoreBySlug(ctx context.Context, slug string) (*models.Store, error)
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	GetMenuItems(ctx context.Context, storeID string) ([]models.MenuItem, error)
	GetAvailableMenuItemsByIDs(ctx context.Context, storeID string, ids []string) ([]models.MenuItem, error)
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SetCheckoutSession(ctx context.Context, orderID, sessionID string) error
}

// ReportStore runs the settled-order aggregations
type ReportStore interface {
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	SettledTotals(ctx context.Context, storeID string, from, to time.Time) (*store.SettledTotals, error)
	ItemTotals(ctx context.Context, storeID string, from, to time.Time) ([]store.ItemTotals, error)
}

// StaffStore looks up staff credentials
type StaffStore interface {
	GetStaffUserByUsername(ctx context.Context, username string) (*models.StaffUser, error)
}

// EventPublisher emits domain events after state changes commit
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// IdempotencyStore remembers request keys for a while
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteIdempotencyKey(ctx context.Context, key string) error
}

// Clock returns the current time
type Clock func() time.Time
