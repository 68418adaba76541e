package util

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger initializes the global logger. Production emits JSON at info level,
// every other environment gets colored console output at debug level.
func InitLogger(env, serviceName string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := config.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return err
	}

	logger = built
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// Phone logs a customer number with everything but the country prefix and last four digits masked
func Phone(key, e164 string) zap.Field {
	return zap.String(key, MaskPhone(e164))
}

// MaskPhone keeps the first two and last four characters of a phone number
func MaskPhone(e164 string) string {
	if len(e164) <= 6 {
		return strings.Repeat("*", len(e164))
	}
	return e164[:2] + strings.Repeat("*", len(e164)-6) + e164[len(e164)-4:]
}

// ForOrder returns the global logger annotated with an order id
func ForOrder(orderID string) *zap.Logger {
	return GetLogger().With(zap.String("order_id", orderID))
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
