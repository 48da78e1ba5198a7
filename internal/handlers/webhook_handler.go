package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tinko_recovery/internal/logger"
	"tinko_recovery/internal/recovery"
	"tinko_recovery/internal/services"
	"tinko_recovery/internal/store"
)

// maxWebhookBody bounds how much of a delivery is read.
const maxWebhookBody = 1 << 20

// Ingestor is the part of the recovery engine the webhook endpoint drives.
type Ingestor interface {
	Ingest(ctx context.Context, in recovery.Inbound) (recovery.Ack, error)
}

// WebhookHandler receives gateway notifications.
type WebhookHandler struct {
	store    store.Store
	ingestor Ingestor
}

func NewWebhookHandler(st store.Store, ingestor Ingestor) *WebhookHandler {
	return &WebhookHandler{store: st, ingestor: ingestor}
}

// Razorpay handles POST /webhooks/razorpay/:merchant_api_key. The signature is
// checked against the merchant's webhook secret before the body is parsed.
func (h *WebhookHandler) Razorpay(c echo.Context) error {
	ctx := c.Request().Context()
	log := logger.FromContext(c)

	apiKey := c.Param("merchant_api_key")
	if apiKey == "" {
		return echo.NewHTTPError(http.StatusNotFound, "Unknown merchant")
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Could not read body").SetInternal(err)
	}

	merchant, err := h.store.GetMerchantByAPIKey(ctx, apiKey)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Unknown merchant")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Event store unavailable").SetInternal(err)
	}

	signature := c.Request().Header.Get(services.RazorpaySignatureHeader)
	verified := services.VerifyWebhookSignature(merchant.WebhookSecret, body, signature)
	if !verified {
		log.Warn("Webhook signature rejected",
			zap.Uint("merchant_id", merchant.ID),
			zap.Bool("signature_present", signature != ""),
			zap.Bool("secret_configured", merchant.WebhookSecret != ""),
		)
	}

	ack, err := h.ingestor.Ingest(ctx, recovery.Inbound{Merchant: merchant, Verified: verified, Body: body})
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, ack)
	case errors.Is(err, recovery.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid signature").SetInternal(err)
	case errors.Is(err, recovery.ErrMalformed):
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed payload").SetInternal(err)
	case errors.Is(err, recovery.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Event store unavailable").SetInternal(err)
	default:
		return err
	}
}
