package handlers

import (
	"encoding/csv"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"tinko_recovery/internal/middleware"
	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

// DashboardHandler serves the merchant's read-only views of payments and attempts.
type DashboardHandler struct {
	store store.Store
}

func NewDashboardHandler(st store.Store) *DashboardHandler {
	return &DashboardHandler{store: st}
}

// Stats returns failed and recovered counts plus the recovery rate.
func (h *DashboardHandler) Stats(c echo.Context) error {
	m := middleware.MerchantFromContext(c)
	s, err := h.store.Stats(c.Request().Context(), m.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to load stats").SetInternal(err)
	}

	resp := StatsResponse{
		FailedCount:          s.FailedCount,
		RecoveredCount:       s.RecoveredCount,
		TotalRecoveredAmount: float64(s.RecoveredAmount) / 100,
	}
	if s.FailedCount > 0 {
		resp.RecoveryPercentage = math.Round(float64(s.RecoveredCount)/float64(s.FailedCount)*100*100) / 100
	}
	return c.JSON(http.StatusOK, resp)
}

// ListEvents lists the merchant's payments, newest first.
func (h *DashboardHandler) ListEvents(c echo.Context) error {
	m := middleware.MerchantFromContext(c)

	filter := store.PaymentFilter{MerchantID: m.ID, Limit: defaultEventsLimit}
	if raw := c.QueryParam("status"); raw != "" {
		status := models.PaymentStatus(raw)
		if status != models.PaymentStatusFailed && status != models.PaymentStatusRecovered {
			return echo.NewHTTPError(http.StatusBadRequest, "Unknown status filter")
		}
		filter.Status = status
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "Limit must be a positive integer")
		}
		filter.Limit = min(limit, maxEventsLimit)
	}

	events, err := h.store.ListPayments(c.Request().Context(), filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to list events").SetInternal(err)
	}

	resp := make([]EventResponse, 0, len(events))
	for _, p := range events {
		resp = append(resp, newEventResponse(p))
	}
	return c.JSON(http.StatusOK, resp)
}

// LatestFailed returns the merchant's most recent payment still in failed state.
func (h *DashboardHandler) LatestFailed(c echo.Context) error {
	m := middleware.MerchantFromContext(c)
	p, err := h.store.GetLatestFailedForMerchant(c.Request().Context(), m.ID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "No failed payments")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to load payment").SetInternal(err)
	}
	return c.JSON(http.StatusOK, newEventResponse(*p))
}

// Attempts returns the recovery attempt trail of one payment.
func (h *DashboardHandler) Attempts(c echo.Context) error {
	m := middleware.MerchantFromContext(c)
	key := models.PaymentKey{MerchantID: m.ID, GatewayPaymentID: c.Param("payment_id")}
	ctx := c.Request().Context()

	p, err := h.store.GetPayment(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Payment not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to load payment").SetInternal(err)
	}

	attempts, err := h.store.ListAttempts(ctx, key)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to load attempts").SetInternal(err)
	}

	resp := AttemptsResponse{PaymentID: p.GatewayPaymentID, Status: p.Status, Attempts: make([]AttemptResponse, 0, len(attempts))}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, AttemptResponse{
			AttemptNo:   a.AttemptNo,
			Channel:     a.Channel,
			Status:      a.Status,
			ScheduledAt: a.ScheduledAt,
			SentAt:      a.SentAt,
			Recipient:   a.Recipient,
			Error:       a.Error,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

var csvHeader = []string{"Payment ID", "Status", "Reason", "Amount (paise)", "Currency", "Created At"}

// ExportCSV streams every payment of the merchant as CSV.
func (h *DashboardHandler) ExportCSV(c echo.Context) error {
	m := middleware.MerchantFromContext(c)
	events, err := h.store.ListPayments(c.Request().Context(), store.PaymentFilter{MerchantID: m.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Failed to export events").SetInternal(err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv")
	res.Header().Set(echo.HeaderContentDisposition, "attachment; filename=events.csv")
	res.WriteHeader(http.StatusOK)

	w := csv.NewWriter(res)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range events {
		row := []string{
			p.GatewayPaymentID,
			string(p.Status),
			p.FailureReason,
			strconv.FormatInt(p.Amount, 10),
			p.Currency,
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
