package handlers

import (
	"github.com/labstack/echo/v4"

	"tinko_recovery/internal/middleware"
	"tinko_recovery/internal/store"
)

// RegisterRoutes mounts the webhook endpoint and the merchant API on e.
func RegisterRoutes(e *echo.Echo, st store.Store, ingestor Ingestor, limiter *middleware.RateLimiter) {
	webhookHandler := NewWebhookHandler(st, ingestor)
	merchantHandler := NewMerchantHandler(st)
	dashboardHandler := NewDashboardHandler(st)

	// Gateway webhooks
	e.POST("/webhooks/razorpay/:merchant_api_key", webhookHandler.Razorpay)

	// Public API routes
	api := e.Group("/api", limiter.Middleware())
	api.GET("/health", Health(st))
	api.POST("/register_merchant", merchantHandler.Register)

	// Merchant routes
	protected := api.Group("", middleware.RequireMerchant(st))
	protected.POST("/rotate-key", merchantHandler.RotateKey)
	protected.POST("/rotate-webhook-secret", merchantHandler.RotateWebhookSecret)
	protected.GET("/stats", dashboardHandler.Stats)
	protected.GET("/events", dashboardHandler.ListEvents)
	protected.GET("/events/latest-failed", dashboardHandler.LatestFailed)
	protected.GET("/events/:payment_id/attempts", dashboardHandler.Attempts)
	protected.GET("/export.csv", dashboardHandler.ExportCSV)
}
