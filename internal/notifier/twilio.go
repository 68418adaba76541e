package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"pickup-service/internal/util"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"
)

// twilioAPI is the subset of the Twilio REST API used here
type twilioAPI interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioConfig holds credentials and callback locations
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
}

// TwilioNotifier sends SMS and places calls through Twilio
type TwilioNotifier struct {
	api     twilioAPI
	from    string
	baseURL string
	cost    CostFunc
	logger  *zap.Logger
}

// NewTwilioNotifier creates a notifier backed by the Twilio REST API
func NewTwilioNotifier(cfg TwilioConfig, cost CostFunc) *TwilioNotifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioNotifier(client.Api, cfg, cost)
}

func newTwilioNotifier(api twilioAPI, cfg TwilioConfig, cost CostFunc) *TwilioNotifier {
	if cost == nil {
		cost = FlatCost
	}
	return &TwilioNotifier{
		api:     api,
		from:    cfg.FromNumber,
		baseURL: cfg.BaseURL,
		cost:    cost,
		logger:  util.GetLogger(),
	}
}

// FromNumber returns the caller id used for outbound messages and calls
func (n *TwilioNotifier) FromNumber() string {
	return n.from
}

// SendOTP texts the pickup code to phone
func (n *TwilioNotifier) SendOTP(ctx context.Context, phone string, orderNumber int64, code string) SendResult {
	_, span := util.StartSpan(ctx, "TwilioNotifier.SendOTP")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return smsFailure(err)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(n.from)
	params.SetBody(OTPMessage(orderNumber, code))

	msg, err := n.api.CreateMessage(params)
	if err != nil {
		n.logger.Error("Failed to send OTP SMS",
			zap.Int64("order_number", orderNumber),
			zap.Error(err))
		return smsFailure(fmt.Errorf("twilio create message: %w", err))
	}

	result := SendResult{Success: true, CostCents: n.cost(ChannelSMS)}
	if msg != nil && msg.Sid != nil {
		result.MessageSID = *msg.Sid
	}
	return result
}

// CallReady places an automated call announcing the order is ready
func (n *TwilioNotifier) CallReady(ctx context.Context, phone string, orderNumber int64, orderID string) CallResult {
	_, span := util.StartSpan(ctx, "TwilioNotifier.CallReady")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return callFailure(err)
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(phone)
	params.SetFrom(n.from)
	params.SetUrl(n.readyTwiMLURL(orderNumber))
	params.SetStatusCallback(n.baseURL + "/api/twilio/voice/status")
	params.SetStatusCallbackEvent([]string{"completed", "failed"})
	params.SetStatusCallbackMethod("POST")

	call, err := n.api.CreateCall(params)
	if err != nil {
		n.logger.Error("Failed to place ready call",
			zap.String("order_id", orderID),
			zap.Int64("order_number", orderNumber),
			zap.Error(err))
		return callFailure(fmt.Errorf("twilio create call: %w", err))
	}
	if call == nil || call.Sid == nil {
		return callFailure(errors.New("twilio create call: response without call sid"))
	}

	return CallResult{
		Success:   true,
		CallSID:   *call.Sid,
		CostCents: n.cost(ChannelVoice),
	}
}

func (n *TwilioNotifier) readyTwiMLURL(orderNumber int64) string {
	q := url.Values{}
	q.Set("orderNumber", strconv.FormatInt(orderNumber, 10))
	return n.baseURL + "/api/twilio/voice/order-ready?" + q.Encode()
}

// OrderReadyTwiML renders the voice script played when the customer answers
func OrderReadyTwiML(orderNumber int64) (string, error) {
	say := &twiml.VoiceSay{
		Message:  ReadyMessage(orderNumber),
		Voice:    "Polly.Joanna",
		Language: "en-US",
	}
	return twiml.Voice([]twiml.Element{say})
}

// CallbackValidator checks the X-Twilio-Signature header on status callbacks
type CallbackValidator struct {
	validator twilioclient.RequestValidator
}

// NewCallbackValidator creates a validator keyed by the account auth token
func NewCallbackValidator(authToken string) *CallbackValidator {
	return &CallbackValidator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the full callback URL and form params
func (v *CallbackValidator) Validate(fullURL string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.validator.Validate(fullURL, params, signature)
}
