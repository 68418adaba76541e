package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderPreparing = "ORDER_PREPARING"
	EventTypeOrderReady     = "ORDER_READY"
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeOTPReissued    = "ORDER_OTP_REISSUED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when checkout creates an unpaid order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	StoreID     string `json:"store_id"`
	OrderNumber int64  `json:"order_number"`
	TotalCents  int64  `json:"total_cents"`
}

// OrderPaidEvent published after payment confirmation commits
type OrderPaidEvent struct {
	BaseEvent
	OrderID        string `json:"order_id"`
	StoreID        string `json:"store_id"`
	OrderNumber    int64  `json:"order_number"`
	TotalCents     int64  `json:"total_cents"`
	NetProfitCents int64  `json:"net_profit_cents"`
	OTPSent        bool   `json:"otp_sent"`
}

// OrderStatusChangedEvent published on PREPARING, READY and COMPLETED, and when a
// pickup code is reissued without a status change
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID     string      `json:"order_id"`
	StoreID     string      `json:"store_id"`
	OrderNumber int64       `json:"order_number"`
	Status      OrderStatus `json:"status"`
	CallPlaced  bool        `json:"call_placed,omitempty"`
}
