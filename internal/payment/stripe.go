package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"pickup-service/internal/models"
	"pickup-service/internal/util"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig holds the API key, webhook secret and redirect base
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string
}

// StripeGateway implements Gateway with Stripe Checkout
type StripeGateway struct {
	sessions      sessionCreator
	webhookSecret string
	frontendURL   string
	logger        *zap.Logger
}

// NewStripeGateway creates a gateway backed by the Stripe API
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return newStripeGateway(sc.CheckoutSessions, cfg)
}

func newStripeGateway(sessions sessionCreator, cfg StripeConfig) *StripeGateway {
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: cfg.WebhookSecret,
		frontendURL:   cfg.FrontendURL,
		logger:        util.GetLogger(),
	}
}

// CreateSession opens a hosted checkout page for an unpaid order
func (g *StripeGateway) CreateSession(ctx context.Context, order *models.Order, items []models.OrderItem) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "StripeGateway.CreateSession")
	defer span.End()

	params := g.sessionParams(order, items)
	params.Context = ctx

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}

	g.logger.Info("Checkout session created",
		zap.String("order_id", order.ID),
		zap.String("session_id", s.ID))

	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) sessionParams(order *models.Order, items []models.OrderItem) *stripe.CheckoutSessionParams {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items)+1)
	for _, item := range items {
		lineItems = append(lineItems, lineItem(order.Currency, item.NameSnapshot, item.PriceCentsSnapshot, int64(item.Quantity)))
	}
	if order.TipCents > 0 {
		lineItems = append(lineItems, lineItem(order.Currency, "Tip", order.TipCents, 1))
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(fmt.Sprintf("%s/success?orderId=%s", g.frontendURL, order.ID)),
		CancelURL:         stripe.String(fmt.Sprintf("%s/cancel?orderId=%s", g.frontendURL, order.ID)),
		ClientReferenceID: stripe.String(order.ID),
	}
	params.AddMetadata(MetadataOrderID, order.ID)
	return params
}

func lineItem(currency, name string, unitAmount, quantity int64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(currency),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
			UnitAmount: stripe.Int64(unitAmount),
		},
		Quantity: stripe.Int64(quantity),
	}
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
// Events other than checkout.session.completed are returned with only ID and Type set.
func (g *StripeGateway) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if !out.IsCheckoutCompleted() {
		return out, nil
	}

	if evt.Data == nil {
		return nil, fmt.Errorf("stripe event %s: missing data object", evt.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("stripe event %s: decode checkout session: %w", evt.ID, err)
	}

	out.SessionID = session.ID
	out.OrderID = session.Metadata[MetadataOrderID]
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	return out, nil
}
