package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinko_recovery/internal/config"
	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

func TestIngest_Unauthenticated(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	_, err := h.engine.Ingestor.Ingest(context.Background(), Inbound{
		Merchant: h.merchant,
		Verified: false,
		Body:     webhookBody(EventPaymentFailed, "pay_1", 100),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = h.mem.GetPayment(context.Background(), h.key("pay_1"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	deliveries := h.mem.WebhookDeliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "unauthenticated", deliveries[0].Outcome)
	assert.Equal(t, h.merchant.ID, deliveries[0].MerchantID)
}

func TestIngest_UnknownMerchantStoresNoDelivery(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	_, err := h.engine.Ingestor.Ingest(context.Background(), Inbound{
		Verified: true,
		Body:     webhookBody(EventPaymentFailed, "pay_1", 100),
	})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, h.mem.WebhookDeliveries())
}

func TestIngest_Malformed(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{"event":`},
		{name: "no event", body: `{"payload":{}}`},
		{name: "failed without id", body: `{"event":"payment.failed","payload":{"payment":{"entity":{"amount":100}}}}`},
		{name: "captured without id", body: `{"event":"payment.captured","payload":{}}`},
		{name: "amount not a number", body: `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","amount":"lots"}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ingestBody([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)

			var ie *IngestError
			assert.ErrorAs(t, err, &ie)
		})
	}
	assert.Empty(t, h.attempts(t, "pay_1"))
}

func TestIngest_IgnoresOtherEvents(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	ack, err := h.ingest("payment.authorized", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack.Outcome)

	_, err = h.mem.GetPayment(context.Background(), h.key("pay_1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestIngest_FailedAfterRecoveryIsAnomaly(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	_, err := h.ingest(EventPaymentFailed, "pay_1")
	require.NoError(t, err)
	_, err = h.ingest(EventPaymentCaptured, "pay_1")
	require.NoError(t, err)

	ack, err := h.ingest(EventPaymentFailed, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, AckAnomaly, ack.Outcome)

	assert.Equal(t, models.PaymentStatusRecovered, h.payment(t, "pay_1").Status)
	attempts := h.attempts(t, "pay_1")
	assert.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.Equal(t, models.AttemptStatusCancelled, a.Status)
	}
	assert.Zero(t, h.engine.Scheduler.Armed())
}

func TestIngest_CaptureBeforeFailure(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	ack, err := h.ingest(EventPaymentCaptured, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, AckRecordedRecovered, ack.Outcome)

	ack, err = h.ingest(EventPaymentFailed, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, AckAnomaly, ack.Outcome)

	p := h.payment(t, "pay_1")
	assert.Equal(t, models.PaymentStatusRecovered, p.Status)
	assert.Nil(t, p.FailedAt)
	assert.Empty(t, h.attempts(t, "pay_1"))

	st, err := h.mem.Stats(context.Background(), h.merchant.ID)
	require.NoError(t, err)
	assert.Zero(t, st.FailedCount)
}

func TestIngest_DuplicateCapture(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	_, err := h.ingest(EventPaymentFailed, "pay_1")
	require.NoError(t, err)
	_, err = h.ingest(EventPaymentCaptured, "pay_1")
	require.NoError(t, err)

	ack, err := h.ingest(EventPaymentCaptured, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, AckDuplicate, ack.Outcome)
}

func TestIngest_StoreUnavailable(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())
	h.flaky.upsertErr = assert.AnError

	_, err := h.ingest(EventPaymentFailed, "pay_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestIngest_RecordsDeliveries(t *testing.T) {
	h := newHarness(t, config.DefaultPolicy())

	_, _ = h.ingest(EventPaymentFailed, "pay_1")
	_, _ = h.ingest(EventPaymentFailed, "pay_1")
	_, _ = h.ingestBody([]byte(`garbage`))

	deliveries := h.mem.WebhookDeliveries()
	require.Len(t, deliveries, 3)
	assert.Equal(t, "created", deliveries[0].Outcome)
	assert.Equal(t, "updated", deliveries[1].Outcome)
	assert.Equal(t, "pay_1", deliveries[1].GatewayPaymentID)
	assert.Equal(t, "malformed", deliveries[2].Outcome)
	assert.Nil(t, deliveries[2].Metadata)
}

func TestParseRazorpay(t *testing.T) {
	ev, err := parseRazorpay([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","contact":"+91 98765 43210","amount":49900,"currency":"inr","error_description":null,"error_reason":"payment_timeout"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "pay_1", ev.PaymentID)
	assert.Equal(t, "91 98765 43210", ev.Phone)
	assert.Equal(t, int64(49900), ev.Amount)
	assert.Equal(t, "INR", ev.Currency)
	assert.Equal(t, "payment_timeout", ev.Reason)

	ev, err = parseRazorpay([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "N/A", ev.Reason)
}
