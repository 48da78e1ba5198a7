package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

func newTestServer(t *testing.T) (*echo.Echo, *models.Merchant) {
	t.Helper()
	st := store.NewMemoryStore()
	m := &models.Merchant{Name: "Shop", APIKey: "key-1", WebhookSecret: "whsec"}
	require.NoError(t, st.CreateMerchant(context.Background(), m))

	e := echo.New()
	e.HTTPErrorHandler = CustomErrorHandler
	g := e.Group("/api", RequireMerchant(st))
	g.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"name": MerchantFromContext(c).Name})
	})
	e.GET("/boom", func(c echo.Context) error { return errors.New("boom") })
	return e, m
}

func TestRequireMerchant(t *testing.T) {
	e, _ := newTestServer(t)

	tests := []struct {
		name     string
		apiKey   string
		wantCode int
		wantBody string
	}{
		{name: "missing key", wantCode: http.StatusUnauthorized, wantBody: "Missing API key"},
		{name: "invalid key", apiKey: "nope", wantCode: http.StatusForbidden, wantBody: "Invalid API key"},
		{name: "valid key", apiKey: "key-1", wantCode: http.StatusOK, wantBody: "Shop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.apiKey != "" {
				req.Header.Set(APIKeyHeader, tt.apiKey)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestCustomErrorHandler(t *testing.T) {
	e, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Something went wrong. Please try again later.", body.Error)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
}

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = CustomErrorHandler
	e.Use(NewRateLimiter(2).Middleware())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	// burst of one for a limit of two per minute
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.limiter("10.0.0.1").Allow())
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(2)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		rl.limiter(fmt.Sprintf("10.0.1.%d", i))
	}
	assert.Equal(t, 50, rl.Len())

	// One client stays active while the rest go quiet.
	now = now.Add(6 * time.Minute)
	rl.limiter("10.0.1.0")

	now = now.Add(6 * time.Minute)
	rl.limiter("10.0.2.1")
	assert.Equal(t, 2, rl.Len())

	// A returning client starts with a fresh bucket.
	assert.True(t, rl.limiter("10.0.1.7").Allow())
}
