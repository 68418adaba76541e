package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pickup-service/internal/service"
	"pickup-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const staffIdentityKey = "staffIdentity"

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// loggingMiddleware writes one structured line per request
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// rateLimitMiddleware enforces a fixed window per client IP. Redis errors let the request through.
func (h *Handler) rateLimitMiddleware(scope string, limit RateLimit) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.opts.Limiter == nil || limit.Limit <= 0 {
			c.Next()
			return
		}

		key := scope + ":" + c.ClientIP()
		res, err := h.opts.Limiter.Allow(c.Request.Context(), key, limit.Limit, limit.Window)
		if err != nil {
			h.logger.Warn("Rate limiter unavailable, allowing request",
				zap.String("scope", scope),
				zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining(), 10))

		if !res.Allowed {
			util.RateLimitedTotal.WithLabelValues(scope).Inc()
			retry := int(res.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, please try again later",
			})
			return
		}

		c.Next()
	}
}

// staffAuthMiddleware accepts a bearer token or the X-Staff-Password header
func (h *Handler) staffAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer := ""
		if authz := c.GetHeader("Authorization"); strings.HasPrefix(authz, "Bearer ") {
			bearer = strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		}

		id, err := h.opts.Staff.Authenticate(bearer, c.GetHeader("X-Staff-Password"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(staffIdentityKey, id)
		c.Next()
	}
}

func staffIdentity(c *gin.Context) *service.StaffIdentity {
	v, ok := c.Get(staffIdentityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*service.StaffIdentity)
	return id
}

// orderScopeMiddleware keeps store-scoped staff away from other stores' orders
func (h *Handler) orderScopeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := staffIdentity(c)
		if id == nil || id.Shared {
			c.Next()
			return
		}

		storeID, err := h.opts.Orders.OrderStoreID(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			h.respondError(c, err)
			c.Abort()
			return
		}
		if !id.CanAccessStore(storeID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		c.Next()
	}
}
