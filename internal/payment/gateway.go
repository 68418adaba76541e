package payment

import (
	"context"
	"errors"

	"pickup-service/internal/models"
)

// Event types handled by the order lifecycle
const (
	EventCheckoutCompleted = "checkout.session.completed"
)

// MetadataOrderID is the session metadata key carrying the originating order id
const MetadataOrderID = "orderId"

// ProviderStripe is recorded on every Payment row
const ProviderStripe = "stripe"

// ErrInvalidSignature is returned for any webhook that fails authentication
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Session is a hosted checkout page
type Session struct {
	ID  string
	URL string
}

// Event is a verified gateway notification, decoded into the fields the lifecycle uses
type Event struct {
	ID              string
	Type            string
	SessionID       string
	PaymentIntentID string
	OrderID         string
	ReceiptURL      string
}

// IsCheckoutCompleted reports whether the event confirms a payment
func (e *Event) IsCheckoutCompleted() bool {
	return e.Type == EventCheckoutCompleted
}

// Gateway creates hosted checkout sessions and authenticates their webhooks
type Gateway interface {
	CreateSession(ctx context.Context, order *models.Order, items []models.OrderItem) (*Session, error)
	ParseEvent(payload []byte, signatureHeader string) (*Event, error)
}
