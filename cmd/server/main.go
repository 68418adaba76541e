package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pickup-service/config"
	"pickup-service/internal/api"
	"pickup-service/internal/auth"
	"pickup-service/internal/broker"
	"pickup-service/internal/notifier"
	"pickup-service/internal/otp"
	"pickup-service/internal/payment"
	"pickup-service/internal/profit"
	"pickup-service/internal/redisclient"
	"pickup-service/internal/service"
	"pickup-service/internal/store"
	"pickup-service/internal/util"
	"pickup-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const serviceName = "pickup-service"

func main() {

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, serviceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pickup service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(serviceName, cfg.Server.Env, cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRate)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	fees, err := profit.NewFeeSchedule(cfg.Stripe.FeePercent, cfg.Stripe.FeeFixedCents)
	if err != nil {
		logger.Fatal("Invalid fee schedule", zap.Error(err))
	}

	notify := newNotifier(cfg, logger)

	gateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		FrontendURL:   cfg.Server.FrontendURL,
	})

	var tokens *auth.TokenIssuer
	if cfg.Security.JWTSecret != "" {
		tokens = auth.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.JWTTTL)
	}

	orderService := service.NewOrderService(db, gateway, redisClient, eventPublisher, cfg.Stripe.Currency)
	lifecycleService := service.NewLifecycleService(db, notify, otp.NewHasher(cfg.Security.OTPSecretPepper), eventPublisher, service.LifecycleConfig{
		OTPWindow: cfg.Business.OTPWindow,
		Fees:      fees,
	})
	reportService := service.NewReportService(db, cfg.Business.ReportCacheEntries, cfg.Business.ReportCacheTTL)
	staffService := service.NewStaffAuthService(db, tokens, cfg.Security.StaffPassword)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// every replica holds its own report cache, so each needs its own group
	hostname, _ := os.Hostname()
	reportGroup := cfg.Kafka.ReportCacheGroup(hostname)
	reportConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, reportGroup)
	reportWorker := worker.NewReportCacheWorker(reportConsumer, reportService)
	logger.Info("Report cache worker subscribed", zap.String("group", reportGroup))
	go func() {
		if err := reportWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Report cache worker error", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var callbackValidator *notifier.CallbackValidator
	if cfg.Twilio.ValidateCallbacks {
		callbackValidator = notifier.NewCallbackValidator(cfg.Twilio.AuthToken)
	}

	router := gin.New()
	handler := api.NewHandler(api.Options{
		Orders:            orderService,
		Lifecycle:         lifecycleService,
		Reports:           reportService,
		Staff:             staffService,
		Gateway:           gateway,
		CallbackValidator: callbackValidator,
		BaseURL:           cfg.Server.BaseURL,
		Limiter:           redisClient,
		GeneralLimit:      api.RateLimit{Limit: cfg.Business.GeneralRateLimit, Window: cfg.Business.GeneralRateWindow},
		OTPLimit:          api.RateLimit{Limit: cfg.Business.OTPRateLimit, Window: cfg.Business.OTPRateWindow},
		TrustedProxies:    cfg.Server.TrustedProxies,
		ReadinessChecks: map[string]func(ctx context.Context) error{
			"postgres": db.Ping,
			"redis":    redisClient.Ping,
		},
	})
	if err := handler.SetupRoutes(router); err != nil {
		logger.Fatal("Failed to set up routes", zap.Error(err))
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Server.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Staff-Password", "Idempotency-Key"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := reportWorker.Stop(); err != nil {
		logger.Error("Failed to stop report cache worker", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newNotifier picks the SMS/voice driver. The log driver never leaves the process.
func newNotifier(cfg *config.Config, logger *zap.Logger) notifier.Notifier {
	cost := func(channel notifier.Channel) int64 {
		switch channel {
		case notifier.ChannelSMS:
			return cfg.Notifier.SMSCostCents
		case notifier.ChannelVoice:
			return cfg.Notifier.CallCostCents
		default:
			return 0
		}
	}

	if cfg.Notifier.Driver == "log" {
		logger.Warn("Using log notifier, customers will not be contacted")
		return notifier.NewLogNotifier(cfg.Twilio.FromNumber, cost)
	}

	return notifier.NewTwilioNotifier(notifier.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
		BaseURL:    cfg.Server.BaseURL,
	}, cost)
}
