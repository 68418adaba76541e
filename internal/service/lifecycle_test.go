package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/otp"
	"pickup-service/internal/payment"
	"pickup-service/internal/profit"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type lifecycleFixture struct {
	store     *memStore
	notifier  *fakeNotifier
	publisher *fakePublisher
	svc       *LifecycleService
	clock     time.Time
	codes     []string
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	f := &lifecycleFixture{
		store:     newMemStore(),
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		clock:     testNow,
	}
	f.svc = NewLifecycleService(f.store, f.notifier, otp.NewHasher("test-pepper"), f.publisher, LifecycleConfig{
		OTPWindow: time.Hour,
		Fees:      profit.DefaultFeeSchedule,
	})
	f.svc.now = func() time.Time { return f.clock }
	f.svc.generate = func() (string, error) {
		if len(f.codes) == 0 {
			return "123456", nil
		}
		code := f.codes[0]
		f.codes = f.codes[1:]
		return code, nil
	}
	return f
}

// unpaidOrder seeds the 1200 subtotal / 300 tip order used throughout
func (f *lifecycleFixture) unpaidOrder(consentSMS, consentCall bool) *models.Order {
	return f.store.addOrder(&models.Order{
		StoreID:           uuid.New().String(),
		OrderNumber:       7,
		SubtotalCents:     1200,
		TipCents:          300,
		TotalCents:        1500,
		Currency:          "usd",
		PaymentStatus:     models.PaymentStatusUnpaid,
		Status:            models.OrderStatusPlaced,
		CustomerPhoneE164: "+15551234567",
		ConsentSMS:        consentSMS,
		ConsentCall:       consentCall,
		CreatedAt:         testNow.Add(-time.Minute),
	}, []models.OrderItem{
		{NameSnapshot: "Burger", PriceCentsSnapshot: 800, CostCentsSnapshot: 300, Quantity: 1},
		{NameSnapshot: "Fries", PriceCentsSnapshot: 200, CostCentsSnapshot: 75, Quantity: 2},
	})
}

func (f *lifecycleFixture) paidOrder(t *testing.T, consentSMS, consentCall bool) *models.Order {
	t.Helper()
	o := f.unpaidOrder(consentSMS, consentCall)
	_, err := f.svc.ConfirmPayment(context.Background(), checkoutEvent(o.ID))
	require.NoError(t, err)
	return o
}

func (f *lifecycleFixture) readyOrder(t *testing.T) *models.Order {
	t.Helper()
	o := f.paidOrder(t, true, false)
	_, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusReady)
	require.NoError(t, err)
	return o
}

func checkoutEvent(orderID string) *payment.Event {
	return &payment.Event{
		ID:              "evt_" + uuid.New().String(),
		Type:            payment.EventCheckoutCompleted,
		SessionID:       "cs_test_1",
		PaymentIntentID: "pi_test_1",
		OrderID:         orderID,
	}
}

func TestConfirmPayment(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.unpaidOrder(true, false)

	res, err := f.svc.ConfirmPayment(context.Background(), checkoutEvent(o.ID))
	require.NoError(t, err)
	assert.True(t, res.OTPSent)
	assert.False(t, res.Duplicate)

	got := f.store.order(o.ID)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusPlaced, got.Status)
	require.NotNil(t, got.PlacedAt)
	assert.Equal(t, testNow, *got.PlacedAt)
	assert.Equal(t, "cs_test_1", *got.StripeCheckoutSessionID)
	assert.Equal(t, "pi_test_1", *got.StripePaymentIntentID)

	assert.Equal(t, int64(74), *got.StripeFeeCents)
	assert.Equal(t, int64(750), *got.GrossProfitCents)
	assert.Equal(t, int64(1), *got.CommCostCents)
	assert.Equal(t, int64(675), *got.NetProfitCents)
	assert.True(t, got.ProfitConsistent())

	require.True(t, got.HasPickupOTP())
	assert.NotEqual(t, "123456", *got.PickupOTPHash)
	assert.Equal(t, "3456", *got.PickupOTPLast4)
	assert.Equal(t, testNow.Add(time.Hour), *got.PickupOTPExpiresAt)
	assert.Equal(t, 0, got.PickupOTPAttempts)
	assert.Equal(t, "123456", f.notifier.lastCode())

	require.Len(t, f.store.payments, 1)
	assert.Equal(t, int64(1500), f.store.payments[0].AmountCents)
	assert.Equal(t, payment.ProviderStripe, f.store.payments[0].Provider)

	require.Len(t, f.publisher.paid, 1)
	assert.Equal(t, o.ID, f.publisher.paid[0].OrderID)
	assert.Equal(t, int64(675), f.publisher.paid[0].NetProfitCents)
}

func TestConfirmPaymentIsIdempotent(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.unpaidOrder(true, false)
	evt := checkoutEvent(o.ID)

	_, err := f.svc.ConfirmPayment(context.Background(), evt)
	require.NoError(t, err)
	first := f.store.order(o.ID)

	res, err := f.svc.ConfirmPayment(context.Background(), evt)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	// a different event for the same order is also discarded
	res, err = f.svc.ConfirmPayment(context.Background(), checkoutEvent(o.ID))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	assert.Len(t, f.store.payments, 1)
	assert.Len(t, f.notifier.smsCodes, 1)
	assert.Len(t, f.publisher.paid, 1)
	assert.Equal(t, first, f.store.order(o.ID))
}

func TestConfirmPaymentSMSFailureStillPays(t *testing.T) {
	f := newLifecycleFixture(t)
	f.notifier.smsFail = true
	o := f.unpaidOrder(true, false)

	res, err := f.svc.ConfirmPayment(context.Background(), checkoutEvent(o.ID))
	require.NoError(t, err)
	assert.False(t, res.OTPSent)

	got := f.store.order(o.ID)
	assert.True(t, got.IsPaid())
	assert.True(t, got.HasPickupOTP())
	assert.Equal(t, int64(0), *got.CommCostCents)
	assert.Equal(t, int64(676), *got.NetProfitCents)
}

func TestConfirmPaymentWithoutSMSConsent(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.unpaidOrder(false, false)

	res, err := f.svc.ConfirmPayment(context.Background(), checkoutEvent(o.ID))
	require.NoError(t, err)
	assert.False(t, res.OTPSent)
	assert.Empty(t, f.notifier.smsCodes)

	got := f.store.order(o.ID)
	assert.True(t, got.HasPickupOTP())
	assert.Equal(t, int64(0), *got.CommCostCents)
}

func TestConfirmPaymentRejections(t *testing.T) {
	f := newLifecycleFixture(t)

	res, err := f.svc.ConfirmPayment(context.Background(), &payment.Event{ID: "evt_1", Type: "payment_intent.created"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	_, err = f.svc.ConfirmPayment(context.Background(), &payment.Event{ID: "evt_2", Type: payment.EventCheckoutCompleted})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.ConfirmPayment(context.Background(), checkoutEvent(uuid.New().String()))
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.svc.ConfirmPayment(context.Background(), checkoutEvent("not-a-uuid"))
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestUpdateStatusRequiresPayment(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.unpaidOrder(true, true)

	_, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusPreparing)
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Equal(t, models.OrderStatusPlaced, f.store.order(o.ID).Status)
}

func TestUpdateStatusRejectsOtherTargets(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, false)

	for _, status := range []models.OrderStatus{models.OrderStatusPlaced, models.OrderStatusCompleted, "DONE"} {
		_, err := f.svc.UpdateStatus(context.Background(), o.ID, status)
		assert.Equal(t, KindValidation, KindOf(err), status)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, false)

	updated, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPreparing, updated.Status)

	_, err = f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusPreparing)
	assert.Equal(t, KindPrecondition, KindOf(err))

	f.clock = testNow.Add(10 * time.Minute)
	updated, err = f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusReady)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(10*time.Minute), *updated.ReadyAt)
	assert.Empty(t, f.store.calls)

	_, err = f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusPreparing)
	assert.Equal(t, KindPrecondition, KindOf(err))

	require.Len(t, f.publisher.changed, 2)
	assert.Equal(t, models.EventTypeOrderPreparing, f.publisher.changed[0].EventType)
	assert.Equal(t, models.EventTypeOrderReady, f.publisher.changed[1].EventType)
}

func TestUpdateStatusPlacedStraightToReady(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, false)

	updated, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusReady)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReady, updated.Status)
}

func TestReadyCallsCustomer(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, true)

	updated, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusReady)
	require.NoError(t, err)

	assert.Equal(t, int64(2), *updated.CommCostCents)
	assert.Equal(t, int64(674), *updated.NetProfitCents)
	assert.True(t, updated.ProfitConsistent())

	require.Len(t, f.store.calls, 1)
	call := f.store.calls[0]
	assert.Equal(t, models.CallStatusInitiated, call.Status)
	assert.Equal(t, "CA1", *call.TwilioCallSID)
	assert.Equal(t, "+15551234567", call.ToPhoneE164)
	assert.Equal(t, "+15550000000", call.FromPhoneE164)
	assert.True(t, f.publisher.changed[0].CallPlaced)
}

func TestReadyCallFailureDoesNotBlock(t *testing.T) {
	f := newLifecycleFixture(t)
	f.notifier.callFail = true
	o := f.paidOrder(t, true, true)
	before := f.store.order(o.ID)

	updated, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusReady)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusReady, updated.Status)
	assert.NotNil(t, updated.ReadyAt)
	assert.Equal(t, *before.CommCostCents, *updated.CommCostCents)
	assert.Equal(t, *before.NetProfitCents, *updated.NetProfitCents)

	require.Len(t, f.store.calls, 1)
	assert.Equal(t, models.CallStatusFailed, f.store.calls[0].Status)
	assert.Nil(t, f.store.calls[0].TwilioCallSID)
	assert.Contains(t, *f.store.calls[0].ErrorCode, "21211")
}

func TestResendOTP(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, false)

	// burn two attempts first
	_, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusReady)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.svc.CompleteOrder(context.Background(), o.ID, "000000")
		require.Error(t, err)
	}
	before := f.store.order(o.ID)
	assert.Equal(t, 2, before.PickupOTPAttempts)

	f.codes = []string{"654321"}
	f.clock = testNow.Add(30 * time.Minute)
	res, err := f.svc.ResendOTP(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "4321", res.Last4)
	assert.Equal(t, f.clock.Add(time.Hour), res.ExpiresAt)

	got := f.store.order(o.ID)
	assert.Equal(t, 0, got.PickupOTPAttempts)
	assert.NotEqual(t, *before.PickupOTPHash, *got.PickupOTPHash)
	assert.Equal(t, *before.CommCostCents+1, *got.CommCostCents)
	assert.Equal(t, *before.NetProfitCents-1, *got.NetProfitCents)
	assert.True(t, got.ProfitConsistent())

	last := f.publisher.changed[len(f.publisher.changed)-1]
	assert.Equal(t, models.EventTypeOTPReissued, last.EventType)
	assert.Equal(t, o.StoreID, last.StoreID)
	assert.Equal(t, models.OrderStatusReady, last.Status)

	// the old code no longer works, the new one does
	_, err = f.svc.CompleteOrder(context.Background(), o.ID, "123456")
	assert.Equal(t, KindPrecondition, KindOf(err))
	_, err = f.svc.CompleteOrder(context.Background(), o.ID, "654321")
	assert.NoError(t, err)
}

func TestResendOTPWithoutConsentChangesNothing(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, false, false)
	before := f.store.order(o.ID)

	_, err := f.svc.ResendOTP(context.Background(), o.ID)
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Equal(t, before, f.store.order(o.ID))
	assert.Empty(t, f.notifier.smsCodes)
}

func TestResendOTPSendFailureChangesNothing(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, false)
	before := f.store.order(o.ID)

	f.notifier.smsFail = true
	f.codes = []string{"999999"}
	_, err := f.svc.ResendOTP(context.Background(), o.ID)
	assert.Equal(t, KindDependency, KindOf(err))
	assert.Equal(t, before, f.store.order(o.ID))
}

func TestResendOTPPreconditions(t *testing.T) {
	f := newLifecycleFixture(t)

	unpaid := f.unpaidOrder(true, false)
	_, err := f.svc.ResendOTP(context.Background(), unpaid.ID)
	assert.Equal(t, KindPrecondition, KindOf(err))

	done := f.readyOrder(t)
	_, err = f.svc.CompleteOrder(context.Background(), done.ID, "123456")
	require.NoError(t, err)
	_, err = f.svc.ResendOTP(context.Background(), done.ID)
	assert.Equal(t, KindPrecondition, KindOf(err))

	_, err = f.svc.ResendOTP(context.Background(), uuid.New().String())
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestCompleteOrder(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.readyOrder(t)

	f.clock = testNow.Add(20 * time.Minute)
	completed, err := f.svc.CompleteOrder(context.Background(), o.ID, "123456")
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCompleted, completed.Status)
	assert.Equal(t, f.clock, *completed.CompletedAt)
	assert.Nil(t, completed.PickupOTPHash)
	assert.Nil(t, completed.PickupOTPExpiresAt)

	got := f.store.order(o.ID)
	assert.Equal(t, models.OrderStatusCompleted, got.Status)
	assert.False(t, got.HasPickupOTP())

	_, err = f.svc.CompleteOrder(context.Background(), o.ID, "123456")
	assert.Equal(t, KindPrecondition, KindOf(err))

	last := f.publisher.changed[len(f.publisher.changed)-1]
	assert.Equal(t, models.EventTypeOrderCompleted, last.EventType)
}

func TestCompleteOrderRequiresReady(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, false)

	_, err := f.svc.CompleteOrder(context.Background(), o.ID, "123456")
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Equal(t, 0, f.store.order(o.ID).PickupOTPAttempts)
}

func TestCompleteOrderRejectsMalformedCode(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.readyOrder(t)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, err := f.svc.CompleteOrder(context.Background(), o.ID, code)
		assert.Equal(t, KindValidation, KindOf(err), code)
	}
	assert.Equal(t, 0, f.store.order(o.ID).PickupOTPAttempts)
}

func TestCompleteOrderExpired(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.readyOrder(t)

	f.clock = testNow.Add(time.Hour + time.Second)
	_, err := f.svc.CompleteOrder(context.Background(), o.ID, "123456")
	require.Error(t, err)
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Contains(t, err.Error(), "expired")
	assert.Equal(t, models.OrderStatusReady, f.store.order(o.ID).Status)
}

func TestCompleteOrderLockout(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.readyOrder(t)

	for i := 1; i <= MaxOTPAttempts; i++ {
		_, err := f.svc.CompleteOrder(context.Background(), o.ID, "000000")
		require.Error(t, err)

		var svcErr *Error
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, KindPrecondition, svcErr.Kind)
		require.NotNil(t, svcErr.AttemptsRemaining)
		assert.Equal(t, MaxOTPAttempts-i, *svcErr.AttemptsRemaining)
		assert.Equal(t, i, f.store.order(o.ID).PickupOTPAttempts)
	}

	// the right code is refused once locked
	_, err := f.svc.CompleteOrder(context.Background(), o.ID, "123456")
	assert.Equal(t, KindLockout, KindOf(err))

	got := f.store.order(o.ID)
	assert.Equal(t, models.OrderStatusReady, got.Status)
	assert.Equal(t, MaxOTPAttempts, got.PickupOTPAttempts)
}

func TestCompleteOrderConcurrentGuesses(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.readyOrder(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CompleteOrder(context.Background(), o.ID, "000000")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	kinds := map[ErrorKind]int{}
	for err := range errs {
		kinds[KindOf(err)]++
	}
	assert.Equal(t, MaxOTPAttempts, kinds[KindPrecondition])
	assert.Equal(t, 10-MaxOTPAttempts, kinds[KindLockout])
	assert.Equal(t, MaxOTPAttempts, f.store.order(o.ID).PickupOTPAttempts)
}

func TestStatusNeverMovesBackward(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, true)
	ctx := context.Background()

	actions := []func() error{
		func() error { _, err := f.svc.UpdateStatus(ctx, o.ID, models.OrderStatusReady); return err },
		func() error { _, err := f.svc.UpdateStatus(ctx, o.ID, models.OrderStatusPreparing); return err },
		func() error { _, err := f.svc.ResendOTP(ctx, o.ID); return err },
		func() error { _, err := f.svc.CompleteOrder(ctx, o.ID, "000000"); return err },
		func() error { _, err := f.svc.ConfirmPayment(ctx, checkoutEvent(o.ID)); return err },
		func() error { _, err := f.svc.CompleteOrder(ctx, o.ID, "123456"); return err },
		func() error { _, err := f.svc.UpdateStatus(ctx, o.ID, models.OrderStatusReady); return err },
		func() error { _, err := f.svc.UpdateStatus(ctx, o.ID, models.OrderStatusPreparing); return err },
	}

	rank := map[models.OrderStatus]int{
		models.OrderStatusPlaced:    1,
		models.OrderStatusPreparing: 2,
		models.OrderStatusReady:     3,
		models.OrderStatusCompleted: 4,
	}

	prev := f.store.order(o.ID)
	for _, act := range actions {
		_ = act()
		cur := f.store.order(o.ID)
		assert.GreaterOrEqual(t, rank[cur.Status], rank[prev.Status], "%s -> %s", prev.Status, cur.Status)
		assert.True(t, cur.IsPaid())
		assert.True(t, cur.ProfitConsistent())
		prev = cur
	}
	assert.Equal(t, models.OrderStatusCompleted, prev.Status)
}

func TestRecordCallStatus(t *testing.T) {
	f := newLifecycleFixture(t)
	o := f.paidOrder(t, true, true)
	_, err := f.svc.UpdateStatus(context.Background(), o.ID, models.OrderStatusReady)
	require.NoError(t, err)

	err = f.svc.RecordCallStatus(context.Background(), "CA1", "completed", "")
	require.NoError(t, err)
	assert.Equal(t, "completed", f.store.calls[0].Status)

	err = f.svc.RecordCallStatus(context.Background(), "", "completed", "")
	assert.Equal(t, KindValidation, KindOf(err))
}
