package store

import (
	"context"
	"database/sql"
	"fmt"

	"pickup-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const updateOrderQuery = `
	UPDATE orders SET
		payment_status = :payment_status,
		status = :status,
		stripe_checkout_session_id = :stripe_checkout_session_id,
		stripe_payment_intent_id = :stripe_payment_intent_id,
		pickup_otp_hash = :pickup_otp_hash,
		pickup_otp_last4 = :pickup_otp_last4,
		pickup_otp_expires_at = :pickup_otp_expires_at,
		pickup_otp_attempts = :pickup_otp_attempts,
		stripe_fee_cents = :stripe_fee_cents,
		comm_cost_cents = :comm_cost_cents,
		gross_profit_cents = :gross_profit_cents,
		net_profit_cents = :net_profit_cents,
		placed_at = :placed_at,
		ready_at = :ready_at,
		completed_at = :completed_at,
		updated_at = NOW()
	WHERE id = :id`

// OrderTx is a transaction holding the row lock of one order
type OrderTx interface {
	Order() *models.Order
	Items(ctx context.Context) ([]models.OrderItem, error)
	SaveOrder(ctx context.Context) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	CreateCallLog(ctx context.Context, call *models.CallLog) error
	// MarkEventProcessed returns false when the event id was already recorded
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

type orderTx struct {
	tx    *sqlx.Tx
	order *models.Order
}

// WithOrderLock loads an order with SELECT ... FOR UPDATE and runs fn inside the same
// transaction. The transaction commits only when fn returns nil.
func (s *Store) WithOrderLock(ctx context.Context, orderID string, fn func(tx OrderTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if err := fn(&orderTx{tx: tx, order: &order}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *orderTx) Order() *models.Order {
	return t.order
}

func (t *orderTx) Items(ctx context.Context) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := t.tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY name_snapshot", t.order.ID)
	return items, err
}

func (t *orderTx) SaveOrder(ctx context.Context) error {
	res, err := t.tx.NamedExecContext(ctx, updateOrderQuery, t.order)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("failed to update order %s: %d rows affected", t.order.ID, n)
	}
	return nil
}

func (t *orderTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	query := `
		INSERT INTO payments (id, order_id, provider, amount_cents, currency, status,
			stripe_checkout_session_id, stripe_payment_intent_id, receipt_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	return t.tx.GetContext(ctx, &payment.CreatedAt, query,
		payment.ID, payment.OrderID, payment.Provider, payment.AmountCents, payment.Currency,
		payment.Status, payment.StripeCheckoutSessionID, payment.StripePaymentIntentID, payment.ReceiptURL)
}

func (t *orderTx) CreateCallLog(ctx context.Context, call *models.CallLog) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	query := `
		INSERT INTO call_logs (id, order_id, to_phone_e164, from_phone_e164, twilio_call_sid, status, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query,
		call.ID, call.OrderID, call.ToPhoneE164, call.FromPhoneE164, call.TwilioCallSID,
		call.Status, call.ErrorCode).Scan(&call.CreatedAt, &call.UpdatedAt)
}

func (t *orderTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateOrderWithItems allocates the next order number of the store and inserts the
// order and its item snapshots in one transaction
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &order.OrderNumber,
		"UPDATE stores SET next_order_number = next_order_number + 1 WHERE id = $1 RETURNING next_order_number - 1",
		order.StoreID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("store %s: %w", order.StoreID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to allocate order number: %w", err)
	}

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	query := `
		INSERT INTO orders (id, store_id, order_number, subtotal_cents, tip_cents, total_cents, currency,
			payment_status, status, customer_phone_e164, consent_sms, consent_call)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.StoreID, order.OrderNumber, order.SubtotalCents, order.TipCents, order.TotalCents,
		order.Currency, order.PaymentStatus, order.Status, order.CustomerPhoneE164,
		order.ConsentSMS, order.ConsentCall).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		item := &items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.OrderID = order.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, name_snapshot, price_cents_snapshot, cost_cents_snapshot, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.OrderID, item.MenuItemID, item.NameSnapshot, item.PriceCentsSnapshot,
			item.CostCentsSnapshot, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetCheckoutSession records the hosted checkout session of an unpaid order
func (s *Store) SetCheckoutSession(ctx context.Context, orderID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET stripe_checkout_session_id = $1, updated_at = NOW() WHERE id = $2",
		sessionID, orderID)
	return err
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY name_snapshot", orderID)
	return items, err
}

// ListOrders retrieves the most recent orders of a store, optionally filtered by status
func (s *Store) ListOrders(ctx context.Context, storeID string, status models.OrderStatus, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	var orders []models.Order
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE store_id = $1 ORDER BY created_at DESC LIMIT $2", storeID, limit)
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT * FROM orders WHERE store_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3",
			storeID, status, limit)
	}
	return orders, err
}

// UpdateCallLogStatus applies a delivery callback to every call log with the given SID.
// Returns the number of rows touched.
func (s *Store) UpdateCallLogStatus(ctx context.Context, callSID, status string, errorCode *string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE call_logs SET status = $1, error_code = COALESCE($2, error_code), updated_at = NOW() WHERE twilio_call_sid = $3",
		status, errorCode, callSID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOrderItemsByOrderIDs retrieves the items of several orders keyed by order id
func (s *Store) GetOrderItemsByOrderIDs(ctx context.Context, orderIDs []string) (map[string][]models.OrderItem, error) {
	out := make(map[string][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT * FROM order_items WHERE order_id IN (?) ORDER BY name_snapshot", orderIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	return out, nil
}
