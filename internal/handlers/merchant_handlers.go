package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tinko_recovery/internal/logger"
	"tinko_recovery/internal/middleware"
	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

// MerchantHandler manages merchant credentials.
type MerchantHandler struct {
	store    store.Store
	newToken func() string
}

func NewMerchantHandler(st store.Store) *MerchantHandler {
	return &MerchantHandler{store: st, newToken: newToken}
}

// newToken returns 32 random hex characters.
func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Register creates a merchant and returns its API key.
func (h *MerchantHandler) Register(c echo.Context) error {
	var req RegisterMerchantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Merchant name is required")
	}

	generated := ""
	secret := strings.TrimSpace(req.WebhookSecret)
	if secret == "" {
		secret = h.newToken()
		generated = secret
	}

	m := &models.Merchant{
		Name:          req.Name,
		APIKey:        h.newToken(),
		UpiVPA:        strings.TrimSpace(req.UpiVPA),
		PaymentLink:   strings.TrimSpace(req.PaymentLink),
		WebhookSecret: secret,
	}
	if err := h.store.CreateMerchant(c.Request().Context(), m); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to register merchant").SetInternal(err)
	}

	logger.FromContext(c).Info("Merchant registered", zap.Uint("merchant_id", m.ID), zap.String("name", m.Name))

	return c.JSON(http.StatusCreated, RegisterMerchantResponse{
		Message:       "Merchant registered successfully",
		MerchantID:    m.ID,
		APIKey:        m.APIKey,
		WebhookSecret: generated,
	})
}

// RotateKey replaces the calling merchant's API key. The old key stops working
// immediately.
func (h *MerchantHandler) RotateKey(c echo.Context) error {
	m := middleware.MerchantFromContext(c)
	key := h.newToken()
	if err := h.store.RotateAPIKey(c.Request().Context(), m.ID, key); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Key rotation failed").SetInternal(err)
	}

	logger.FromContext(c).Info("API key rotated", zap.Uint("merchant_id", m.ID))
	return c.JSON(http.StatusOK, RotateKeyResponse{OK: true, NewAPIKey: key})
}

// RotateWebhookSecret replaces the calling merchant's webhook secret.
func (h *MerchantHandler) RotateWebhookSecret(c echo.Context) error {
	m := middleware.MerchantFromContext(c)
	secret := h.newToken()
	if err := h.store.RotateWebhookSecret(c.Request().Context(), m.ID, secret); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Webhook secret rotation failed").SetInternal(err)
	}

	logger.FromContext(c).Info("Webhook secret rotated", zap.Uint("merchant_id", m.ID))
	return c.JSON(http.StatusOK, RotateWebhookSecretResponse{OK: true, NewWebhookSecret: secret})
}
