package models

import "time"

// Store represents a restaurant location
type Store struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Slug            string    `db:"slug" json:"slug"`
	Timezone        string    `db:"timezone" json:"timezone"`
	NextOrderNumber int64     `db:"next_order_number" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// MenuItem represents a live catalog entry. Orders never read prices from here after checkout.
type MenuItem struct {
	ID          string    `db:"id" json:"id"`
	StoreID     string    `db:"store_id" json:"store_id"`
	Name        string    `db:"name" json:"name"`
	Category    string    `db:"category" json:"category"`
	Description *string   `db:"description" json:"description,omitempty"`
	PriceCents  int64     `db:"price_cents" json:"price_cents"`
	CostCents   int64     `db:"cost_cents" json:"-"`
	ImageURL    *string   `db:"image_url" json:"image_url,omitempty"`
	IsAvailable bool      `db:"is_available" json:"is_available"`
	SortOrder   int       `db:"sort_order" json:"sort_order"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Order is the aggregate record of one checkout
type Order struct {
	ID          string `db:"id" json:"id"`
	StoreID     string `db:"store_id" json:"store_id"`
	OrderNumber int64  `db:"order_number" json:"order_number"`

	SubtotalCents int64  `db:"subtotal_cents" json:"subtotal_cents"`
	TipCents      int64  `db:"tip_cents" json:"tip_cents"`
	TotalCents    int64  `db:"total_cents" json:"total_cents"`
	Currency      string `db:"currency" json:"currency"`

	PaymentStatus           PaymentStatus `db:"payment_status" json:"payment_status"`
	Status                  OrderStatus   `db:"status" json:"status"`
	StripeCheckoutSessionID *string       `db:"stripe_checkout_session_id" json:"-"`
	StripePaymentIntentID   *string       `db:"stripe_payment_intent_id" json:"-"`

	CustomerPhoneE164 string `db:"customer_phone_e164" json:"-"`
	ConsentSMS        bool   `db:"consent_sms" json:"consent_sms"`
	ConsentCall       bool   `db:"consent_call" json:"consent_call"`

	PickupOTPHash      *string    `db:"pickup_otp_hash" json:"-"`
	PickupOTPLast4     *string    `db:"pickup_otp_last4" json:"pickup_otp_last4,omitempty"`
	PickupOTPExpiresAt *time.Time `db:"pickup_otp_expires_at" json:"pickup_otp_expires_at,omitempty"`
	PickupOTPAttempts  int        `db:"pickup_otp_attempts" json:"pickup_otp_attempts"`

	StripeFeeCents   *int64 `db:"stripe_fee_cents" json:"stripe_fee_cents,omitempty"`
	CommCostCents    *int64 `db:"comm_cost_cents" json:"comm_cost_cents,omitempty"`
	GrossProfitCents *int64 `db:"gross_profit_cents" json:"gross_profit_cents,omitempty"`
	NetProfitCents   *int64 `db:"net_profit_cents" json:"net_profit_cents,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	PlacedAt    *time.Time `db:"placed_at" json:"placed_at,omitempty"`
	ReadyAt     *time.Time `db:"ready_at" json:"ready_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line item whose name, price and cost are frozen at checkout
type OrderItem struct {
	ID                 string `db:"id" json:"id"`
	OrderID            string `db:"order_id" json:"order_id"`
	MenuItemID         string `db:"menu_item_id" json:"menu_item_id"`
	NameSnapshot       string `db:"name_snapshot" json:"name"`
	PriceCentsSnapshot int64  `db:"price_cents_snapshot" json:"price_cents"`
	CostCentsSnapshot  int64  `db:"cost_cents_snapshot" json:"-"`
	Quantity           int    `db:"quantity" json:"quantity"`
}

// Payment is an append-only record of a settled charge
type Payment struct {
	ID                      string    `db:"id" json:"id"`
	OrderID                 string    `db:"order_id" json:"order_id"`
	Provider                string    `db:"provider" json:"provider"`
	AmountCents             int64     `db:"amount_cents" json:"amount_cents"`
	Currency                string    `db:"currency" json:"currency"`
	Status                  string    `db:"status" json:"status"`
	StripeCheckoutSessionID string    `db:"stripe_checkout_session_id" json:"stripe_checkout_session_id"`
	StripePaymentIntentID   *string   `db:"stripe_payment_intent_id" json:"stripe_payment_intent_id,omitempty"`
	ReceiptURL              *string   `db:"receipt_url" json:"receipt_url,omitempty"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
}

// CallLog is an append-only record of an outbound voice call attempt
type CallLog struct {
	ID            string    `db:"id" json:"id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	ToPhoneE164   string    `db:"to_phone_e164" json:"to_phone_e164"`
	FromPhoneE164 string    `db:"from_phone_e164" json:"from_phone_e164"`
	TwilioCallSID *string   `db:"twilio_call_sid" json:"twilio_call_sid,omitempty"`
	Status        string    `db:"status" json:"status"`
	ErrorCode     *string   `db:"error_code" json:"error_code,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StaffUser is a per-staff credential scoped to one store
type StaffUser struct {
	ID           string    `db:"id" json:"id"`
	StoreID      string    `db:"store_id" json:"store_id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Call log statuses written by the service. Delivery callbacks may store any provider status.
const (
	CallStatusInitiated = "initiated"
	CallStatusFailed    = "failed"
)

// Payment record statuses
const (
	PaymentRecordSucceeded = "succeeded"
)

// Staff roles
const (
	StaffRoleManager = "MANAGER"
	StaffRoleStaff   = "STAFF"
)

// IsPaid reports whether payment has been confirmed
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// HasPickupOTP reports whether a digest and expiry are stored
func (o *Order) HasPickupOTP() bool {
	return o.PickupOTPHash != nil && o.PickupOTPExpiresAt != nil
}

// ProfitConsistent reports whether net = gross - fee - comm holds for the stored fields.
// Orders without accounting fields are trivially consistent.
func (o *Order) ProfitConsistent() bool {
	if o.GrossProfitCents == nil || o.NetProfitCents == nil {
		return o.NetProfitCents == nil
	}
	return *o.NetProfitCents == *o.GrossProfitCents-Int64Value(o.StripeFeeCents)-Int64Value(o.CommCostCents)
}

// Int64Value dereferences a nullable cents field, treating NULL as zero
func Int64Value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Int64Ptr returns a pointer to v
func Int64Ptr(v int64) *int64 {
	return &v
}

// StringPtr returns a pointer to s, or nil for the empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
