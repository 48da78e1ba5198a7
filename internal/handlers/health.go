package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"tinko_recovery/internal/store"
)

// Health answers liveness checks. The store is pinged so a lost database shows up
// as 503.
func Health(st store.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := st.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{"ok": false, "error": "store unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
	}
}
