package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/notifier"
	"pickup-service/internal/otp"
	"pickup-service/internal/payment"
	"pickup-service/internal/profit"
	"pickup-service/internal/store"
	"pickup-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxOTPAttempts is the number of wrong codes accepted before an order locks
const MaxOTPAttempts = 5

// LifecycleConfig holds the tunables of the order state machine
type LifecycleConfig struct {
	OTPWindow time.Duration
	Fees      profit.FeeSchedule
}

// LifecycleService drives payment confirmation, staff transitions and pickup verification.
// Every mutation runs under the row lock of its order.
type LifecycleService struct {
	store     OrderStore
	notifier  notifier.Notifier
	hasher    *otp.Hasher
	publisher EventPublisher
	fees      profit.FeeSchedule
	otpWindow time.Duration
	now       Clock
	generate  func() (string, error)
	logger    *zap.Logger
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	store OrderStore,
	notifier notifier.Notifier,
	hasher *otp.Hasher,
	publisher EventPublisher,
	cfg LifecycleConfig,
) *LifecycleService {
	if cfg.OTPWindow <= 0 {
		cfg.OTPWindow = otp.DefaultWindow
	}
	if cfg.Fees.Rate.IsZero() && cfg.Fees.FixedCents == 0 {
		cfg.Fees = profit.DefaultFeeSchedule
	}
	return &LifecycleService{
		store:     store,
		notifier:  notifier,
		hasher:    hasher,
		publisher: publisher,
		fees:      cfg.Fees,
		otpWindow: cfg.OTPWindow,
		now:       time.Now,
		generate:  otp.Generate,
		logger:    util.GetLogger(),
	}
}

// ConfirmResult describes what a payment event did
type ConfirmResult struct {
	OrderID   string
	Ignored   bool
	Duplicate bool
	OTPSent   bool
}

// ConfirmPayment applies a verified checkout-completed event. Redelivery of an applied
// event, or any event for an order that is already PAID, is a no-op.
func (s *LifecycleService) ConfirmPayment(ctx context.Context, evt *payment.Event) (*ConfirmResult, error) {
	ctx, span := util.StartOrderSpan(ctx, "LifecycleService.ConfirmPayment", evt.OrderID)
	defer span.End()

	if !evt.IsCheckoutCompleted() {
		s.logger.Debug("Ignoring payment event", zap.String("event_id", evt.ID), zap.String("type", evt.Type))
		return &ConfirmResult{Ignored: true}, nil
	}
	if evt.OrderID == "" {
		util.WebhookRejectedTotal.WithLabelValues("missing_order_id").Inc()
		return nil, ValidationError("No orderId in metadata")
	}
	if !validID(evt.OrderID) {
		util.WebhookRejectedTotal.WithLabelValues("unknown_order").Inc()
		return nil, NotFoundError("Order")
	}

	result := &ConfirmResult{OrderID: evt.OrderID}
	var paid models.Order

	err := s.store.WithOrderLock(ctx, evt.OrderID, func(tx store.OrderTx) error {
		order := tx.Order()
		if order.IsPaid() {
			result.Duplicate = true
			return nil
		}

		if evt.ID != "" {
			first, err := tx.MarkEventProcessed(ctx, evt.ID, evt.Type)
			if err != nil {
				return err
			}
			if !first {
				result.Duplicate = true
				return nil
			}
		}

		items, err := tx.Items(ctx)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}

		code, err := s.generate()
		if err != nil {
			return err
		}
		now := s.now()

		var commCost int64
		if order.ConsentSMS {
			res := s.sendOTP(ctx, order, code)
			result.OTPSent = res.Success
			commCost = res.CostCents
		}

		breakdown := profit.Calculate(profit.ItemsRevenue(items), profit.ItemsCost(items), s.fees.Fee(order.TotalCents), commCost)

		order.PaymentStatus = models.PaymentStatusPaid
		order.Status = models.OrderStatusPlaced
		order.PlacedAt = models.TimePtr(now)
		if evt.SessionID != "" {
			order.StripeCheckoutSessionID = models.StringPtr(evt.SessionID)
		}
		order.StripePaymentIntentID = models.StringPtr(evt.PaymentIntentID)
		s.issueOTP(order, code, now)
		breakdown.ApplyTo(order)

		if err := tx.SaveOrder(ctx); err != nil {
			return err
		}

		p := &models.Payment{
			OrderID:                 order.ID,
			Provider:                payment.ProviderStripe,
			AmountCents:             order.TotalCents,
			Currency:                order.Currency,
			Status:                  models.PaymentRecordSucceeded,
			StripeCheckoutSessionID: evt.SessionID,
			StripePaymentIntentID:   models.StringPtr(evt.PaymentIntentID),
			ReceiptURL:              models.StringPtr(evt.ReceiptURL),
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		paid = *order
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.WebhookRejectedTotal.WithLabelValues("unknown_order").Inc()
			return nil, NotFoundError("Order")
		}
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	if result.Duplicate {
		util.DuplicateWebhooksTotal.Inc()
		s.logger.Info("Payment already applied, discarding event",
			zap.String("order_id", evt.OrderID),
			zap.String("event_id", evt.ID))
		return result, nil
	}

	util.OrdersPaidTotal.Inc()
	util.OTPIssuedTotal.WithLabelValues("payment").Inc()
	s.logger.Info("Order paid",
		zap.String("order_id", paid.ID),
		zap.Int64("order_number", paid.OrderNumber),
		zap.Int64("net_profit_cents", models.Int64Value(paid.NetProfitCents)),
		zap.Bool("otp_sent", result.OTPSent))

	s.publish(ctx, paid.ID, func() error {
		return s.publisher.PublishOrderPaid(ctx, &models.OrderPaidEvent{
			BaseEvent:      newBaseEvent(models.EventTypeOrderPaid, s.now()),
			OrderID:        paid.ID,
			StoreID:        paid.StoreID,
			OrderNumber:    paid.OrderNumber,
			TotalCents:     paid.TotalCents,
			NetProfitCents: models.Int64Value(paid.NetProfitCents),
			OTPSent:        result.OTPSent,
		})
	})

	return result, nil
}

// UpdateStatus moves a paid order to PREPARING or READY. On READY the customer is called
// when they consented; the call outcome never blocks the transition.
func (s *LifecycleService) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "LifecycleService.UpdateStatus", orderID)
	defer span.End()

	if status != models.OrderStatusPreparing && status != models.OrderStatusReady {
		return nil, ValidationError("status must be one of %s, %s", models.OrderStatusPreparing, models.OrderStatusReady)
	}
	if !validID(orderID) {
		return nil, NotFoundError("Order")
	}

	var updated models.Order
	var callPlaced bool

	err := s.store.WithOrderLock(ctx, orderID, func(tx store.OrderTx) error {
		order := tx.Order()
		if !order.IsPaid() {
			return PreconditionError("Order must be paid before status can be updated")
		}
		if !models.CanTransition(order.Status, status) {
			return PreconditionError("Cannot change status from %s to %s", order.Status, status)
		}

		now := s.now()
		order.Status = status

		if status == models.OrderStatusReady {
			if order.ReadyAt == nil {
				order.ReadyAt = models.TimePtr(now)
			}
			if order.ConsentCall {
				placed, err := s.callReady(ctx, tx, order)
				if err != nil {
					return err
				}
				callPlaced = placed
			}
		}

		if err := tx.SaveOrder(ctx); err != nil {
			return err
		}
		updated = *order
		return nil
	})
	if err != nil {
		return nil, s.fail("update_status", orderID, err)
	}

	util.OrderTransitionsTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
		zap.Bool("call_placed", callPlaced))

	s.publishStatus(ctx, &updated, callPlaced)
	return &updated, nil
}

// ResendResult describes a freshly issued pickup code
type ResendResult struct {
	Last4     string
	ExpiresAt time.Time
}

// ResendOTP replaces the pickup code and texts it. If the text cannot be sent nothing changes.
func (s *LifecycleService) ResendOTP(ctx context.Context, orderID string) (*ResendResult, error) {
	ctx, span := util.StartOrderSpan(ctx, "LifecycleService.ResendOTP", orderID)
	defer span.End()

	if !validID(orderID) {
		return nil, NotFoundError("Order")
	}

	var result ResendResult
	var reissued models.Order

	err := s.store.WithOrderLock(ctx, orderID, func(tx store.OrderTx) error {
		order := tx.Order()
		if !order.IsPaid() {
			return PreconditionError("Order must be paid")
		}
		if !order.ConsentSMS {
			return PreconditionError("Customer has not consented to SMS")
		}
		if order.Status == models.OrderStatusCompleted {
			return PreconditionError("Order is already completed")
		}

		code, err := s.generate()
		if err != nil {
			return err
		}

		res := s.sendOTP(ctx, order, code)
		if !res.Success {
			return DependencyError("Failed to send OTP", res.Err)
		}

		now := s.now()
		s.issueOTP(order, code, now)
		profit.ApplyCommCost(order, res.CostCents)

		if err := tx.SaveOrder(ctx); err != nil {
			return err
		}
		result = ResendResult{Last4: *order.PickupOTPLast4, ExpiresAt: *order.PickupOTPExpiresAt}
		reissued = *order
		return nil
	})
	if err != nil {
		return nil, s.fail("resend_otp", orderID, err)
	}

	util.OTPIssuedTotal.WithLabelValues("resend").Inc()
	s.logger.Info("Pickup OTP reissued", zap.String("order_id", orderID))

	s.publishOrderEvent(ctx, models.EventTypeOTPReissued, &reissued, false)
	return &result, nil
}

// CompleteOrder verifies the pickup code of a READY order and completes it. Expiry and
// lockout are checked before the code is compared. A wrong code is counted even though
// the operation fails.
func (s *LifecycleService) CompleteOrder(ctx context.Context, orderID, code string) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "LifecycleService.CompleteOrder", orderID)
	defer span.End()

	if !otp.ValidFormat(code) {
		return nil, ValidationError("OTP must be a %d-digit code", otp.Length)
	}
	if !validID(orderID) {
		return nil, NotFoundError("Order")
	}

	var completed models.Order
	var mismatch *Error

	err := s.store.WithOrderLock(ctx, orderID, func(tx store.OrderTx) error {
		order := tx.Order()
		if order.Status != models.OrderStatusReady {
			return PreconditionError("Order must be READY to complete")
		}
		if !order.IsPaid() {
			return PreconditionError("Order has not been paid")
		}
		if !order.HasPickupOTP() {
			return PreconditionError("No OTP set for this order")
		}

		now := s.now()
		if now.After(*order.PickupOTPExpiresAt) {
			util.OTPVerificationsTotal.WithLabelValues("expired").Inc()
			return PreconditionError("OTP has expired")
		}
		if order.PickupOTPAttempts >= MaxOTPAttempts {
			util.OTPVerificationsTotal.WithLabelValues("locked_out").Inc()
			return LockoutError("Too many failed OTP attempts")
		}

		if !s.hasher.Verify(code, *order.PickupOTPHash) {
			order.PickupOTPAttempts++
			if err := tx.SaveOrder(ctx); err != nil {
				return err
			}
			mismatch = OTPMismatchError(MaxOTPAttempts - order.PickupOTPAttempts)
			return nil
		}

		order.Status = models.OrderStatusCompleted
		order.CompletedAt = models.TimePtr(now)
		order.PickupOTPHash = nil
		order.PickupOTPExpiresAt = nil

		if err := tx.SaveOrder(ctx); err != nil {
			return err
		}
		completed = *order
		return nil
	})
	if err != nil {
		return nil, s.fail("complete", orderID, err)
	}

	if mismatch != nil {
		util.OTPVerificationsTotal.WithLabelValues("mismatch").Inc()
		s.logger.Warn("Pickup OTP mismatch",
			zap.String("order_id", orderID),
			zap.Int("attempts_remaining", *mismatch.AttemptsRemaining))
		return nil, mismatch
	}

	util.OTPVerificationsTotal.WithLabelValues("success").Inc()
	util.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusCompleted)).Inc()
	s.logger.Info("Order completed", zap.String("order_id", orderID))

	s.publishStatus(ctx, &completed, false)
	return &completed, nil
}

// RecordCallStatus applies a voice delivery callback to the call logs with the given SID
func (s *LifecycleService) RecordCallStatus(ctx context.Context, callSID, status, errorCode string) error {
	ctx, span := util.StartSpan(ctx, "LifecycleService.RecordCallStatus")
	defer span.End()

	if callSID == "" {
		return ValidationError("CallSid is required")
	}
	if status == "" {
		status = "unknown"
	}

	n, err := s.store.UpdateCallLogStatus(ctx, callSID, status, models.StringPtr(errorCode))
	if err != nil {
		return fmt.Errorf("failed to update call log: %w", err)
	}

	s.logger.Info("Call status received",
		zap.String("call_sid", callSID),
		zap.String("status", status),
		zap.Int64("rows", n))
	return nil
}

func (s *LifecycleService) sendOTP(ctx context.Context, order *models.Order, code string) notifier.SendResult {
	start := time.Now()
	res := s.notifier.SendOTP(ctx, order.CustomerPhoneE164, order.OrderNumber, code)
	s.recordNotification(notifier.ChannelSMS, start, res.Success, res.CostCents)

	if !res.Success {
		s.logger.Error("Failed to send OTP SMS",
			zap.String("order_id", order.ID),
			zap.Int64("order_number", order.OrderNumber),
			zap.Error(res.Err))
		res.CostCents = 0
	}
	return res
}

// callReady places the ready call and appends its CallLog. Returns whether the call went out.
func (s *LifecycleService) callReady(ctx context.Context, tx store.OrderTx, order *models.Order) (bool, error) {
	start := time.Now()
	res := s.notifier.CallReady(ctx, order.CustomerPhoneE164, order.OrderNumber, order.ID)
	s.recordNotification(notifier.ChannelVoice, start, res.Success, res.CostCents)

	entry := &models.CallLog{
		OrderID:       order.ID,
		ToPhoneE164:   order.CustomerPhoneE164,
		FromPhoneE164: s.notifier.FromNumber(),
		TwilioCallSID: models.StringPtr(res.CallSID),
		Status:        models.CallStatusInitiated,
	}
	if !res.Success {
		entry.Status = models.CallStatusFailed
		entry.ErrorCode = models.StringPtr(res.ErrorText())
		s.logger.Error("Failed to place ready call",
			zap.String("order_id", order.ID),
			zap.Error(res.Err))
	}

	if err := tx.CreateCallLog(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to create call log: %w", err)
	}

	if res.Success {
		profit.ApplyCommCost(order, res.CostCents)
	}
	return res.Success, nil
}

func (s *LifecycleService) recordNotification(channel notifier.Channel, start time.Time, success bool, cost int64) {
	util.NotificationLatency.WithLabelValues(string(channel)).Observe(time.Since(start).Seconds())
	outcome := "failed"
	if success {
		outcome = "sent"
		util.CommCostCentsTotal.WithLabelValues(string(channel)).Add(float64(cost))
	}
	util.NotificationsTotal.WithLabelValues(string(channel), outcome).Inc()
}

// issueOTP stores a fresh code digest, replacing any previous one
func (s *LifecycleService) issueOTP(order *models.Order, code string, now time.Time) {
	order.PickupOTPHash = models.StringPtr(s.hasher.Hash(code))
	order.PickupOTPLast4 = models.StringPtr(otp.Last4(code))
	order.PickupOTPExpiresAt = models.TimePtr(otp.ExpiryFromNow(now, s.otpWindow))
	order.PickupOTPAttempts = 0
}

// fail maps store errors onto the service taxonomy and counts rejected operations
func (s *LifecycleService) fail(op, orderID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError("Order")
	}

	switch KindOf(err) {
	case KindPrecondition, KindLockout, KindValidation:
		util.OrderPreconditionFailuresTotal.WithLabelValues(op).Inc()
		s.logger.Info("Order operation rejected",
			zap.String("operation", op),
			zap.String("order_id", orderID),
			zap.String("reason", err.Error()))
		return err
	case KindDependency:
		return err
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func (s *LifecycleService) publishStatus(ctx context.Context, order *models.Order, callPlaced bool) {
	var eventType string
	switch order.Status {
	case models.OrderStatusPreparing:
		eventType = models.EventTypeOrderPreparing
	case models.OrderStatusReady:
		eventType = models.EventTypeOrderReady
	case models.OrderStatusCompleted:
		eventType = models.EventTypeOrderCompleted
	default:
		return
	}
	s.publishOrderEvent(ctx, eventType, order, callPlaced)
}

func (s *LifecycleService) publishOrderEvent(ctx context.Context, eventType string, order *models.Order, callPlaced bool) {
	s.publish(ctx, order.ID, func() error {
		return s.publisher.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
			BaseEvent:   newBaseEvent(eventType, s.now()),
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			OrderNumber: order.OrderNumber,
			Status:      order.Status,
			CallPlaced:  callPlaced,
		})
	})
}

// publish runs fn and logs failures. Events are best effort after commit.
func (s *LifecycleService) publish(ctx context.Context, orderID string, fn func() error) {
	if s.publisher == nil {
		return
	}
	if err := fn(); err != nil {
		util.ForOrder(orderID).Error("Failed to publish event", zap.Error(err))
	}
}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
