package worker

import (
	"context"
	"time"

	"pickup-service/internal/broker"
	"pickup-service/internal/models"
	"pickup-service/internal/util"

	"go.uber.org/zap"
)

// messageSource is the part of broker.Consumer the workers use
type messageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// ReportInvalidator drops cached reports when a store's settled orders change
type ReportInvalidator interface {
	HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	HandleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// ReportCacheWorker keeps the report cache in step with the order event stream
type ReportCacheWorker struct {
	consumer     messageSource
	reports      ReportInvalidator
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewReportCacheWorker creates a new report cache worker
func NewReportCacheWorker(consumer messageSource, reports ReportInvalidator) *ReportCacheWorker {
	w := &ReportCacheWorker{
		consumer:     consumer,
		reports:      reports,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderPaid(reports.HandleOrderPaid)
	w.eventHandler.OnOrderStatusChanged(w.handleStatusChange)

	return w
}

// Start blocks consuming events until ctx is cancelled
func (w *ReportCacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting report cache worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the underlying consumer
func (w *ReportCacheWorker) Stop() error {
	w.logger.Info("Stopping report cache worker")
	return w.consumer.Close()
}

func (w *ReportCacheWorker) handleStatusChange(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	w.logger.Debug("Order status event",
		zap.String("order_id", event.OrderID),
		zap.String("event_type", event.EventType),
		zap.Duration("lag", time.Since(event.Timestamp)))
	return w.reports.HandleOrderStatusChanged(ctx, event)
}
