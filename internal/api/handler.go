package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/notifier"
	"pickup-service/internal/payment"
	"pickup-service/internal/redisclient"
	"pickup-service/internal/service"
	"pickup-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderAPI is the checkout and read side used by the handlers
type OrderAPI interface {
	CreateCheckout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResponse, error)
	GetOrder(ctx context.Context, orderID string) (*service.CustomerOrderView, error)
	OrderStoreID(ctx context.Context, orderID string) (string, error)
	ListOrders(ctx context.Context, storeID, status string) ([]service.OrderView, error)
	GetMenu(ctx context.Context, slug string) (*service.MenuView, error)
}

// LifecycleAPI is the order state machine used by the handlers
type LifecycleAPI interface {
	ConfirmPayment(ctx context.Context, evt *payment.Event) (*service.ConfirmResult, error)
	UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error)
	ResendOTP(ctx context.Context, orderID string) (*service.ResendResult, error)
	CompleteOrder(ctx context.Context, orderID, code string) (*models.Order, error)
	RecordCallStatus(ctx context.Context, callSID, status, errorCode string) error
}

// ReportAPI serves the staff reports
type ReportAPI interface {
	DailySummary(ctx context.Context, storeID, date string) (*service.DailySummary, error)
	ItemReport(ctx context.Context, storeID, dateFrom, dateTo string) ([]service.ItemReportRow, error)
}

// StaffAuthenticator logs staff in and checks their credentials on each request
type StaffAuthenticator interface {
	Login(ctx context.Context, username, password string) (*service.LoginResponse, error)
	Authenticate(bearerToken, sharedPassword string) (*service.StaffIdentity, error)
}

// RateLimiter counts requests per key in a fixed window
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (redisclient.RateLimitResult, error)
}

// RateLimit is a request budget per client IP
type RateLimit struct {
	Limit  int64
	Window time.Duration
}

// Options wires a Handler
type Options struct {
	Orders    OrderAPI
	Lifecycle LifecycleAPI
	Reports   ReportAPI
	Staff     StaffAuthenticator
	Gateway   payment.Gateway

	// CallbackValidator checks Twilio signatures on the voice status callback; nil disables it
	CallbackValidator *notifier.CallbackValidator
	BaseURL           string

	Limiter      RateLimiter
	GeneralLimit RateLimit
	OTPLimit     RateLimit

	// TrustedProxies may set X-Forwarded-For; empty means the peer address is the client
	TrustedProxies []string

	// ReadinessChecks are pinged by /ready
	ReadinessChecks map[string]func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(opts Options) *Handler {
	return &Handler{
		opts:   opts,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) error {
	// rate limits key on ClientIP, which must not come from a client-supplied header
	if err := router.SetTrustedProxies(h.opts.TrustedProxies); err != nil {
		return fmt.Errorf("invalid trusted proxies: %w", err)
	}

	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(loggingMiddleware(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	otpLimit := h.rateLimitMiddleware("otp", h.opts.OTPLimit)

	api := router.Group("/api")
	api.Use(h.rateLimitMiddleware("general", h.opts.GeneralLimit))
	{
		api.GET("/stores/:slug/menu", h.getMenu)
		api.POST("/checkout-session", h.createCheckout)
		api.GET("/orders/:orderId", h.getOrder)

		api.POST("/stripe/webhook", h.stripeWebhook)
		api.POST("/twilio/voice/status", h.voiceStatus)
		api.GET("/twilio/voice/order-ready", h.orderReadyTwiML)

		api.POST("/staff/login", h.staffLogin)

		staff := api.Group("/staff")
		staff.Use(h.staffAuthMiddleware())
		{
			staff.GET("/orders", h.listOrders)
			staff.GET("/reports/daily", h.dailyReport)
			staff.GET("/reports/items", h.itemReport)

			order := staff.Group("/orders/:orderId")
			order.Use(h.orderScopeMiddleware())
			{
				order.POST("/status", h.updateStatus)
				order.POST("/complete", otpLimit, h.completeOrder)
				order.POST("/resend-otp", otpLimit, h.resendOTP)
			}
		}
	}

	return nil
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the database and Redis
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.opts.ReadinessChecks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getMenu handles the storefront menu
func (h *Handler) getMenu(c *gin.Context) {
	menu, err := h.opts.Orders.GetMenu(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, menu)
}

// createCheckout handles checkout session creation
func (h *Handler) createCheckout(c *gin.Context) {
	var req service.CheckoutRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.opts.Orders.CreateCheckout(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// getOrder handles the customer order status page
func (h *Handler) getOrder(c *gin.Context) {
	view, err := h.opts.Orders.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// stripeWebhook verifies and applies a payment notification
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	evt, err := h.opts.Gateway.ParseEvent(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		util.WebhookRejectedTotal.WithLabelValues("signature").Inc()
		h.logger.Warn("Rejected webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	if _, err := h.opts.Lifecycle.ConfirmPayment(c.Request.Context(), evt); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// voiceStatus records a Twilio call status callback
func (h *Handler) voiceStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form body"})
		return
	}

	if h.opts.CallbackValidator != nil {
		params := make(map[string]string, len(c.Request.PostForm))
		for k := range c.Request.PostForm {
			params[k] = c.Request.PostForm.Get(k)
		}
		url := h.opts.BaseURL + c.Request.URL.RequestURI()
		if !h.opts.CallbackValidator.Validate(url, params, c.GetHeader("X-Twilio-Signature")) {
			util.WebhookRejectedTotal.WithLabelValues("twilio_signature").Inc()
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})
			return
		}
	}

	err := h.opts.Lifecycle.RecordCallStatus(c.Request.Context(),
		c.PostForm("CallSid"),
		c.PostForm("CallStatus"),
		c.PostForm("ErrorCode"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// orderReadyTwiML returns the voice script Twilio plays on the ready call
func (h *Handler) orderReadyTwiML(c *gin.Context) {
	orderNumber, err := strconv.ParseInt(c.Query("orderNumber"), 10, 64)
	if err != nil || orderNumber <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid orderNumber"})
		return
	}

	twiml, err := notifier.OrderReadyTwiML(orderNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// staffLogin exchanges staff credentials for a token
func (h *Handler) staffLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.opts.Staff.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// listOrders handles the staff dashboard
func (h *Handler) listOrders(c *gin.Context) {
	storeID := c.Query("storeId")
	if !h.authorizeStore(c, storeID) {
		return
	}

	views, err := h.opts.Orders.ListOrders(c.Request.Context(), storeID, c.Query("status"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// updateStatus moves an order to PREPARING or READY
func (h *Handler) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	status, err := models.ParseStaffStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.opts.Lifecycle.UpdateStatus(c.Request.Context(), c.Param("orderId"), status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type completeRequest struct {
	OTP string `json:"otp" binding:"required"`
}

// completeOrder verifies the pickup code and completes the order
func (h *Handler) completeOrder(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.opts.Lifecycle.CompleteOrder(c.Request.Context(), c.Param("orderId"), req.OTP)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   order,
	})
}

// resendOTP issues and texts a fresh pickup code
func (h *Handler) resendOTP(c *gin.Context) {
	res, err := h.opts.Lifecycle.ResendOTP(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"last4":      res.Last4,
		"expires_at": res.ExpiresAt,
	})
}

// dailyReport handles the daily summary
func (h *Handler) dailyReport(c *gin.Context) {
	storeID := c.Query("storeId")
	if !h.authorizeStore(c, storeID) {
		return
	}

	summary, err := h.opts.Reports.DailySummary(c.Request.Context(), storeID, c.Query("date"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// itemReport handles the per-item report
func (h *Handler) itemReport(c *gin.Context) {
	storeID := c.Query("storeId")
	if !h.authorizeStore(c, storeID) {
		return
	}

	rows, err := h.opts.Reports.ItemReport(c.Request.Context(), storeID, c.Query("dateFrom"), c.Query("dateTo"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rows})
}

// authorizeStore rejects staff tokens scoped to a different store
func (h *Handler) authorizeStore(c *gin.Context, storeID string) bool {
	id := staffIdentity(c)
	if id == nil || storeID == "" || id.CanAccessStore(storeID) {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	return false
}

// respondError maps service errors onto HTTP statuses
func (h *Handler) respondError(c *gin.Context, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{"error": svcErr.Message}
	if svcErr.AttemptsRemaining != nil {
		body["attempts_remaining"] = *svcErr.AttemptsRemaining
	}

	status := statusFor(svcErr.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation, service.KindPrecondition:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindAuth:
		return http.StatusUnauthorized
	case service.KindLockout:
		return http.StatusTooManyRequests
	case service.KindDuplicate:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
