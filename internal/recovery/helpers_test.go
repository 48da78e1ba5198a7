package recovery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tinko_recovery/internal/channels"
	"tinko_recovery/internal/config"
	"tinko_recovery/internal/models"
	"tinko_recovery/internal/store"
)

type sentMessage struct {
	channel   models.Channel
	recipient string
	msg       channels.Message
}

// fakeDispatcher records sends. Queued errors are returned one per call.
type fakeDispatcher struct {
	mu      sync.Mutex
	sends   []sentMessage
	errs    []error
	missing map[models.Channel]bool
	started chan struct{}
	block   chan struct{}
}

func (d *fakeDispatcher) Supports(ch models.Channel) bool {
	return !d.missing[ch]
}

func (d *fakeDispatcher) Send(ctx context.Context, ch models.Channel, recipient string, msg channels.Message) (channels.SendResult, error) {
	d.mu.Lock()
	d.sends = append(d.sends, sentMessage{channel: ch, recipient: recipient, msg: msg})
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	started, block := d.started, d.block
	d.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return channels.SendResult{}, err
	}
	return channels.SendResult{MessageID: "msg", SentAt: time.Now()}, nil
}

func (d *fakeDispatcher) sent() []sentMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sentMessage(nil), d.sends...)
}

// flakyStore fails selected operations on demand.
type flakyStore struct {
	store.Store
	upsertErr error
	createErr error
	cancelErr error
}

func (f *flakyStore) UpsertFailed(ctx context.Context, fp store.FailedPayment) (*models.PaymentEvent, store.UpsertOutcome, error) {
	if f.upsertErr != nil {
		return nil, 0, f.upsertErr
	}
	return f.Store.UpsertFailed(ctx, fp)
}

func (f *flakyStore) CreateAttempts(ctx context.Context, key models.PaymentKey, attempts []models.RecoveryAttempt, at time.Time) ([]models.RecoveryAttempt, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.Store.CreateAttempts(ctx, key, attempts, at)
}

func (f *flakyStore) CancelPendingAttempts(ctx context.Context, key models.PaymentKey, staleBefore time.Time) (int64, error) {
	if f.cancelErr != nil {
		return 0, f.cancelErr
	}
	return f.Store.CancelPendingAttempts(ctx, key, staleBefore)
}

type harness struct {
	engine     *Engine
	mem        *store.MemoryStore
	flaky      *flakyStore
	dispatcher *fakeDispatcher
	merchant   *models.Merchant
}

func newHarness(t *testing.T, policy config.Policy) *harness {
	t.Helper()
	mem := store.NewMemoryStore()
	m := &models.Merchant{Name: "Shop", APIKey: "key-1", WebhookSecret: "whsec", PaymentLink: "https://shop.example/pay"}
	require.NoError(t, mem.CreateMerchant(context.Background(), m))

	flaky := &flakyStore{Store: mem}
	d := &fakeDispatcher{}
	e := NewEngine(flaky, NewKeyedMutex(), d, policy, zap.NewNop())
	t.Cleanup(func() { _ = e.Stop(context.Background()) })

	return &harness{engine: e, mem: mem, flaky: flaky, dispatcher: d, merchant: m}
}

func (h *harness) key(paymentID string) models.PaymentKey {
	return models.PaymentKey{MerchantID: h.merchant.ID, GatewayPaymentID: paymentID}
}

func (h *harness) ingest(event, paymentID string) (Ack, error) {
	return h.ingestBody(webhookBody(event, paymentID, 7500))
}

func (h *harness) ingestBody(body []byte) (Ack, error) {
	return h.engine.Ingestor.Ingest(context.Background(), Inbound{Merchant: h.merchant, Verified: true, Body: body})
}

func (h *harness) attempts(t *testing.T, paymentID string) []models.RecoveryAttempt {
	t.Helper()
	list, err := h.mem.ListAttempts(context.Background(), h.key(paymentID))
	require.NoError(t, err)
	return list
}

func (h *harness) payment(t *testing.T, paymentID string) *models.PaymentEvent {
	t.Helper()
	p, err := h.mem.GetPayment(context.Background(), h.key(paymentID))
	require.NoError(t, err)
	return p
}

func webhookBody(event, paymentID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"payload":{"payment":{"entity":{"id":%q,"email":"buyer@example.com","contact":"+919876543210","amount":%d,"currency":"INR","error_description":"provider timeout"}}}}`,
		event, paymentID, amount))
}

// fastPolicy fires attempts within milliseconds of the failure.
func fastPolicy(delays ...time.Duration) config.Policy {
	p := config.DefaultPolicy()
	chs := []models.Channel{models.ChannelWhatsapp, models.ChannelSMS, models.ChannelEmail}
	p.Steps = nil
	for n, d := range delays {
		p.Steps = append(p.Steps, config.Step{Delay: d, Channel: chs[n%len(chs)]})
	}
	p.MaxAttempts = len(delays)
	return p
}
