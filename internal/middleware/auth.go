package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

// APIKeyHeader carries the merchant API key on dashboard requests.
const APIKeyHeader = "X-API-Key"

const merchantKey = "merchant"

// RequireMerchant returns a middleware that resolves the merchant from its API key.
// A missing key is 401, an unknown one 403.
func RequireMerchant(st store.Store) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey := c.Request().Header.Get(APIKeyHeader)
			if apiKey == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing API key")
			}

			m, err := st.GetMerchantByAPIKey(c.Request().Context(), apiKey)
			if errors.Is(err, store.ErrNotFound) {
				return echo.NewHTTPError(http.StatusForbidden, "Invalid API key")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "Merchant lookup failed").SetInternal(err)
			}

			// Set merchant in context for downstream handlers
			c.Set(merchantKey, m)
			return next(c)
		}
	}
}

// MerchantFromContext returns the merchant set by RequireMerchant.
func MerchantFromContext(c echo.Context) *models.Merchant {
	m, _ := c.Get(merchantKey).(*models.Merchant)
	return m
}
