package models

import "fmt"

// OrderStatus is the fulfillment axis of an order
type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "PLACED"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// PaymentStatus is the payment axis of an order
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "UNPAID"
	PaymentStatusPaid   PaymentStatus = "PAID"
)

// Fulfillment moves forward only. PLACED may skip straight to READY.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPlaced:    {OrderStatusPreparing: true, OrderStatusReady: true},
	OrderStatusPreparing: {OrderStatusReady: true},
	OrderStatusReady:     {OrderStatusCompleted: true},
	OrderStatusCompleted: {},
}

// CanTransition checks if from->to is allowed
func CanTransition(from, to OrderStatus) bool {
	next := allowedTransitions[from]
	return next != nil && next[to]
}

// rank orders statuses along the fulfillment axis
func (s OrderStatus) rank() int {
	switch s {
	case OrderStatusPlaced:
		return 1
	case OrderStatusPreparing:
		return 2
	case OrderStatusReady:
		return 3
	case OrderStatusCompleted:
		return 4
	default:
		return 0
	}
}

// ParseStaffStatus validates a status a staff member may request directly
func ParseStaffStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusPreparing, OrderStatusReady:
		return OrderStatus(s), nil
	default:
		return "", fmt.Errorf("status must be one of %s, %s", OrderStatusPreparing, OrderStatusReady)
	}
}

// Valid reports whether s is a known fulfillment status
func (s OrderStatus) Valid() bool {
	return s.rank() > 0
}
