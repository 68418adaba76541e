package notifier

import (
	"context"
	"fmt"

	"pickup-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log instead of delivering them.
// Used in development where no Twilio account is configured.
type LogNotifier struct {
	from   string
	cost   CostFunc
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(from string, cost CostFunc) *LogNotifier {
	if cost == nil {
		cost = FlatCost
	}
	return &LogNotifier{from: from, cost: cost, logger: util.GetLogger()}
}

func (n *LogNotifier) FromNumber() string {
	return n.from
}

func (n *LogNotifier) SendOTP(ctx context.Context, phone string, orderNumber int64, code string) SendResult {
	n.logger.Info("SMS (not sent)",
		util.Phone("to", phone),
		zap.Int64("order_number", orderNumber),
		zap.String("body", OTPMessage(orderNumber, code)))

	return SendResult{
		Success:    true,
		MessageSID: fmt.Sprintf("LOG-SM-%s", uuid.New().String()[:8]),
		CostCents:  n.cost(ChannelSMS),
	}
}

func (n *LogNotifier) CallReady(ctx context.Context, phone string, orderNumber int64, orderID string) CallResult {
	n.logger.Info("Voice call (not placed)",
		util.Phone("to", phone),
		zap.String("order_id", orderID),
		zap.String("script", ReadyMessage(orderNumber)))

	return CallResult{
		Success:   true,
		CallSID:   fmt.Sprintf("LOG-CA-%s", uuid.New().String()[:8]),
		CostCents: n.cost(ChannelVoice),
	}
}
