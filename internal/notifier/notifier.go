package notifier

import (
	"context"
	"fmt"
)

// Channel identifies how a customer was contacted
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// CostFunc estimates the cost in cents of one successful send on a channel
type CostFunc func(channel Channel) int64

// FlatCost charges one cent per SMS and per call
func FlatCost(channel Channel) int64 {
	switch channel {
	case ChannelSMS, ChannelVoice:
		return 1
	default:
		return 0
	}
}

// SendResult is the outcome of an OTP text message
type SendResult struct {
	Success    bool
	MessageSID string
	CostCents  int64
	Err        error
}

// CallResult is the outcome of an order-ready voice call
type CallResult struct {
	Success   bool
	CallSID   string
	CostCents int64
	Err       error
}

// ErrorText returns the failure reason, or "" on success
func (r CallResult) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Notifier delivers customer notifications. Failures are reported in the result and
// always carry zero cost; implementations never return a Go error.
type Notifier interface {
	SendOTP(ctx context.Context, phone string, orderNumber int64, code string) SendResult
	CallReady(ctx context.Context, phone string, orderNumber int64, orderID string) CallResult
	FromNumber() string
}

// OTPMessage is the SMS body carrying a pickup code
func OTPMessage(orderNumber int64, code string) string {
	return fmt.Sprintf("Your pickup OTP for order #%d is %s", orderNumber, code)
}

// ReadyMessage is the spoken text of the order-ready call
func ReadyMessage(orderNumber int64) string {
	return fmt.Sprintf("Your order number %d is ready for pickup. Thank you.", orderNumber)
}

func smsFailure(err error) SendResult {
	return SendResult{Success: false, Err: err}
}

func callFailure(err error) CallResult {
	return CallResult{Success: false, Err: err}
}
