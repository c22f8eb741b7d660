package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	fulfillment    *service.FulfillmentService
	availability   *service.AvailabilityService
	redis          *redisclient.Client
	idempotencyTTL time.Duration
}

// NewHandler creates a new HTTP handler
func NewHandler(
	fulfillment *service.FulfillmentService,
	availability *service.AvailabilityService,
	redis *redisclient.Client,
	idempotencyTTL time.Duration,
) *Handler {
	return &Handler{
		fulfillment:    fulfillment,
		availability:   availability,
		redis:          redis,
		idempotencyTTL: idempotencyTTL,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sales/:id/submit", h.submitSale)
		v1.POST("/sales/:id/fulfill", h.fulfillSale)
		v1.POST("/sales/:id/delivery", h.confirmDelivery)
		v1.GET("/sales/:id", h.getSale)
		v1.POST("/reservations/:id/decision", h.decideReservation)
		v1.GET("/products/:id/availability", h.getAvailability)
		v1.GET("/batch-items/:id/movements", h.getMovements)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// submitSale moves a sale to pending_inventory, creating reservations
func (h *Handler) submitSale(c *gin.Context) {
	saleID, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.fulfillment.Submit(c.Request.Context(), saleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// fulfillSale submits and reserves every line item in one pass
func (h *Handler) fulfillSale(c *gin.Context) {
	saleID, ok := pathID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey != "" {
		seen, err := h.redis.CheckIdempotencyKey(ctx, idemKey)
		if err == nil && seen {
			sale, reservations, err := h.fulfillment.GetSale(ctx, saleID)
			if err != nil {
				h.writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"sale":         sale,
				"reservations": reservations,
				"duplicate":    true,
			})
			return
		}
	}

	result, err := h.fulfillment.FulfillImmediately(ctx, saleID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if idemKey != "" {
		if err := h.redis.SetIdempotencyKey(ctx, idemKey, saleID, h.idempotencyTTL); err != nil {
			util.GetLogger().Warn("Failed to store idempotency key")
		}
	}
	c.JSON(http.StatusOK, result)
}

// confirmDelivery moves a reserved sale to delivered
func (h *Handler) confirmDelivery(c *gin.Context) {
	saleID, ok := pathID(c)
	if !ok {
		return
	}

	sale, err := h.fulfillment.ConfirmDelivery(c.Request.Context(), saleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

// getSale returns a sale with its reservations
func (h *Handler) getSale(c *gin.Context) {
	saleID, ok := pathID(c)
	if !ok {
		return
	}

	sale, reservations, err := h.fulfillment.GetSale(c.Request.Context(), saleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sale":         sale,
		"reservations": reservations,
	})
}

type decisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=reserve reject cancel"`
}

// decideReservation applies an operator decision to a reservation
func (h *Handler) decideReservation(c *gin.Context) {
	reservationID, ok := pathID(c)
	if !ok {
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.fulfillment.Decide(c.Request.Context(), reservationID, service.Decision(req.Decision))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// getAvailability returns total on-hand quantity for a product
func (h *Handler) getAvailability(c *gin.Context) {
	productID, ok := pathID(c)
	if !ok {
		return
	}

	quantity, err := h.availability.Get(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"available":  quantity,
	})
}

// getMovements returns the movement log of a batch item
func (h *Handler) getMovements(c *gin.Context) {
	batchItemID, ok := pathID(c)
	if !ok {
		return
	}

	movements, err := h.fulfillment.GetMovements(c.Request.Context(), batchItemID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"batch_item_id": batchItemID,
		"movements":     movements,
	})
}

// writeError maps engine errors onto HTTP statuses. Insufficient stock
// carries the product and shortfall so operators can act on it.
func (h *Handler) writeError(c *gin.Context, err error) {
	var ise *service.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "Insufficient stock",
			"product_id": ise.ProductID,
			"requested":  ise.Requested,
			"short":      ise.Short,
		})
	case errors.Is(err, service.ErrIllegalTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Illegal transition",
			"details": err.Error(),
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not found",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

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
