package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/payment"
	"pickup-service/internal/store"
	"pickup-service/internal/util"

	"go.uber.org/zap"
)

const (
	maxCartQuantity    = 99
	idempotencyTTL     = 24 * time.Hour
	idempotencyPending = "pending"
	staffOrderLimit    = 200
)

var phoneE164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// OrderService handles checkout and read access to orders and menus
type OrderService struct {
	store     CatalogStore
	gateway   payment.Gateway
	idem      IdempotencyStore
	publisher EventPublisher
	currency  string
	logger    *zap.Logger
}

// NewOrderService creates a new order service. idem may be nil.
func NewOrderService(
	store CatalogStore,
	gateway payment.Gateway,
	idem IdempotencyStore,
	publisher EventPublisher,
	currency string,
) *OrderService {
	if currency == "" {
		currency = "usd"
	}
	return &OrderService{
		store:     store,
		gateway:   gateway,
		idem:      idem,
		publisher: publisher,
		currency:  currency,
		logger:    util.GetLogger(),
	}
}

// CheckoutRequest represents a request to start a checkout
type CheckoutRequest struct {
	StoreID        string            `json:"store_id" binding:"required"`
	CartItems      []CartItemRequest `json:"cart_items" binding:"required,min=1,dive"`
	PhoneE164      string            `json:"phone_e164" binding:"required"`
	ConsentCall    bool              `json:"consent_call"`
	ConsentSMS     bool              `json:"consent_sms"`
	TipCents       int64             `json:"tip_cents" binding:"min=0"`
	IdempotencyKey string            `json:"-"`
}

// CartItemRequest represents one cart line
type CartItemRequest struct {
	MenuItemID string `json:"menu_item_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,min=1,max=99"`
}

// CheckoutResponse represents the response after creating a checkout session
type CheckoutResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber int64  `json:"order_number"`
	SessionID   string `json:"session_id"`
	URL         string `json:"url"`
}

func (r *CheckoutRequest) validate() error {
	if !validID(r.StoreID) {
		return ValidationError("store_id must be a UUID")
	}
	if len(r.CartItems) == 0 {
		return ValidationError("cart must contain at least one item")
	}
	for _, item := range r.CartItems {
		if !validID(item.MenuItemID) {
			return ValidationError("menu_item_id must be a UUID")
		}
		if item.Quantity < 1 || item.Quantity > maxCartQuantity {
			return ValidationError("quantity must be between 1 and %d", maxCartQuantity)
		}
	}
	if !phoneE164.MatchString(r.PhoneE164) {
		return ValidationError("phone_e164 must be an E.164 number")
	}
	if r.TipCents < 0 {
		return ValidationError("tip_cents must not be negative")
	}
	return nil
}

// CreateCheckout snapshots the cart into an unpaid order and opens a hosted payment page
func (s *OrderService) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateCheckout")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		cached, err := s.claimCheckout(ctx, req.IdempotencyKey)
		if err != nil || cached != nil {
			return cached, err
		}
	}

	resp, err := s.createCheckout(ctx, req)
	if req.IdempotencyKey != "" && s.idem != nil {
		s.finishCheckout(ctx, req.IdempotencyKey, resp, err)
	}
	return resp, err
}

func (s *OrderService) createCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	quantities := make(map[string]int)
	ids := make([]string, 0, len(req.CartItems))
	for _, item := range req.CartItems {
		if _, seen := quantities[item.MenuItemID]; !seen {
			ids = append(ids, item.MenuItemID)
		}
		quantities[item.MenuItemID] += item.Quantity
	}

	if _, err := s.store.GetStoreByID(ctx, req.StoreID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Store")
		}
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	menuItems, err := s.store.GetAvailableMenuItemsByIDs(ctx, req.StoreID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load menu items: %w", err)
	}
	if len(menuItems) != len(ids) {
		return nil, ValidationError("Some items are unavailable")
	}

	byID := make(map[string]models.MenuItem, len(menuItems))
	for _, m := range menuItems {
		byID[m.ID] = m
	}

	items := make([]models.OrderItem, 0, len(ids))
	var subtotal int64
	for _, id := range ids {
		m := byID[id]
		q := quantities[id]
		if q > maxCartQuantity {
			return nil, ValidationError("quantity must be between 1 and %d", maxCartQuantity)
		}
		items = append(items, models.OrderItem{
			MenuItemID:         m.ID,
			NameSnapshot:       m.Name,
			PriceCentsSnapshot: m.PriceCents,
			CostCentsSnapshot:  m.CostCents,
			Quantity:           q,
		})
		subtotal += m.PriceCents * int64(q)
	}

	order := &models.Order{
		StoreID:           req.StoreID,
		SubtotalCents:     subtotal,
		TipCents:          req.TipCents,
		TotalCents:        subtotal + req.TipCents,
		Currency:          s.currency,
		PaymentStatus:     models.PaymentStatusUnpaid,
		Status:            models.OrderStatusPlaced,
		CustomerPhoneE164: req.PhoneE164,
		ConsentSMS:        req.ConsentSMS,
		ConsentCall:       req.ConsentCall,
	}

	if err := s.store.CreateOrderWithItems(ctx, order, items); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	session, err := s.gateway.CreateSession(ctx, order, items)
	if err != nil {
		s.logger.Error("Failed to create checkout session",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return nil, DependencyError("Failed to create checkout session", err)
	}

	if err := s.store.SetCheckoutSession(ctx, order.ID, session.ID); err != nil {
		return nil, fmt.Errorf("failed to store checkout session: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Checkout created",
		zap.String("order_id", order.ID),
		zap.Int64("order_number", order.OrderNumber),
		zap.Int64("total_cents", order.TotalCents))

	if s.publisher != nil {
		event := &models.OrderCreatedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderCreated, time.Now()),
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			OrderNumber: order.OrderNumber,
			TotalCents:  order.TotalCents,
		}
		if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish order created event", zap.Error(err))
		}
	}

	return &CheckoutResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		SessionID:   session.ID,
		URL:         session.URL,
	}, nil
}

// claimCheckout returns the stored response of a finished request with the same key,
// or claims the key for this request. Redis errors fall through to an unguarded checkout.
func (s *OrderService) claimCheckout(ctx context.Context, key string) (*CheckoutResponse, error) {
	idemKey := "checkout:" + key

	claimed, err := s.idem.ClaimIdempotencyKey(ctx, idemKey, idempotencyPending, idempotencyTTL)
	if err != nil {
		s.logger.Warn("Idempotency check failed", zap.Error(err))
		return nil, nil
	}
	if claimed {
		return nil, nil
	}

	val, err := s.idem.GetIdempotencyKey(ctx, idemKey)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil, nil
	}
	if val == "" || val == idempotencyPending {
		return nil, &Error{Kind: KindDuplicate, Message: "A checkout with this Idempotency-Key is in progress"}
	}

	var cached CheckoutResponse
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, fmt.Errorf("failed to decode cached checkout: %w", err)
	}
	s.logger.Info("Duplicate checkout request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", cached.OrderID))
	return &cached, nil
}

func (s *OrderService) finishCheckout(ctx context.Context, key string, resp *CheckoutResponse, err error) {
	idemKey := "checkout:" + key
	if err != nil {
		if delErr := s.idem.DeleteIdempotencyKey(ctx, idemKey); delErr != nil {
			s.logger.Warn("Failed to release idempotency key", zap.Error(delErr))
		}
		return
	}
	b, _ := json.Marshal(resp)
	if setErr := s.idem.SetIdempotencyKey(ctx, idemKey, string(b), idempotencyTTL); setErr != nil {
		s.logger.Warn("Failed to store idempotency key", zap.Error(setErr))
	}
}

// StoreSummary is the public part of a store
type StoreSummary struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// OrderView is an order as shown on the staff dashboard, accounting included.
// The OTP digest never leaves the server.
type OrderView struct {
	*models.Order
	Items []models.OrderItem `json:"items"`
}

// CustomerOrderView is the public projection of an order. Fees, profit and OTP
// attempt counts stay internal.
type CustomerOrderView struct {
	ID                 string               `json:"id"`
	OrderNumber        int64                `json:"order_number"`
	Status             models.OrderStatus   `json:"status"`
	PaymentStatus      models.PaymentStatus `json:"payment_status"`
	SubtotalCents      int64                `json:"subtotal_cents"`
	TipCents           int64                `json:"tip_cents"`
	TotalCents         int64                `json:"total_cents"`
	Currency           string               `json:"currency"`
	ConsentSMS         bool                 `json:"consent_sms"`
	ConsentCall        bool                 `json:"consent_call"`
	PickupOTPLast4     *string              `json:"pickup_otp_last4,omitempty"`
	PickupOTPExpiresAt *time.Time           `json:"pickup_otp_expires_at,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	PlacedAt           *time.Time           `json:"placed_at,omitempty"`
	ReadyAt            *time.Time           `json:"ready_at,omitempty"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	Items              []models.OrderItem   `json:"items"`
	Store              *StoreSummary        `json:"store,omitempty"`
}

func newCustomerOrderView(o *models.Order, items []models.OrderItem) *CustomerOrderView {
	if items == nil {
		items = []models.OrderItem{}
	}
	return &CustomerOrderView{
		ID:                 o.ID,
		OrderNumber:        o.OrderNumber,
		Status:             o.Status,
		PaymentStatus:      o.PaymentStatus,
		SubtotalCents:      o.SubtotalCents,
		TipCents:           o.TipCents,
		TotalCents:         o.TotalCents,
		Currency:           o.Currency,
		ConsentSMS:         o.ConsentSMS,
		ConsentCall:        o.ConsentCall,
		PickupOTPLast4:     o.PickupOTPLast4,
		PickupOTPExpiresAt: o.PickupOTPExpiresAt,
		CreatedAt:          o.CreatedAt,
		PlacedAt:           o.PlacedAt,
		ReadyAt:            o.ReadyAt,
		CompletedAt:        o.CompletedAt,
		Items:              items,
	}
}

// GetOrder returns an order with its items for the customer-facing status page
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*CustomerOrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	view := newCustomerOrderView(order, items)
	if st, err := s.store.GetStoreByID(ctx, order.StoreID); err == nil {
		view.Store = &StoreSummary{Name: st.Name, Slug: st.Slug}
	}
	return view, nil
}

// OrderStoreID returns the store an order belongs to
func (s *OrderService) OrderStoreID(ctx context.Context, orderID string) (string, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.StoreID, nil
}

func (s *OrderService) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if !validID(orderID) {
		return nil, NotFoundError("Order")
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Order")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// ListOrders returns the most recent orders of a store for the staff dashboard
func (s *OrderService) ListOrders(ctx context.Context, storeID, status string) ([]OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if !validID(storeID) {
		return nil, ValidationError("storeId is required")
	}

	var filter models.OrderStatus
	if status != "" {
		filter = models.OrderStatus(status)
		if !filter.Valid() {
			return nil, ValidationError("unknown status %q", status)
		}
	}

	orders, err := s.store.ListOrders(ctx, storeID, filter, staffOrderLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	ids := make([]string, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	items, err := s.store.GetOrderItemsByOrderIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	views := make([]OrderView, len(orders))
	for i := range orders {
		orders[i].PickupOTPHash = nil
		views[i] = OrderView{Order: &orders[i], Items: items[orders[i].ID]}
		if views[i].Items == nil {
			views[i].Items = []models.OrderItem{}
		}
	}
	return views, nil
}

// MenuView is a store with its available items grouped by category
type MenuView struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Slug       string               `json:"slug"`
	Timezone   string               `json:"timezone"`
	Categories []models.MenuSection `json:"categories"`
	ItemCount  int                  `json:"item_count"`
}

// GetMenu returns the storefront menu of a store
func (s *OrderService) GetMenu(ctx context.Context, slug string) (*MenuView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetMenu")
	defer span.End()

	st, err := s.store.GetStoreBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("Store")
		}
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	items, err := s.store.GetMenuItems(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load menu: %w", err)
	}

	sections := models.GroupMenu(items)
	count := 0
	for _, sec := range sections {
		count += len(sec.Items)
	}

	return &MenuView{
		ID:         st.ID,
		Name:       st.Name,
		Slug:       st.Slug,
		Timezone:   st.Timezone,
		Categories: sections,
		ItemCount:  count,
	}, nil
}
