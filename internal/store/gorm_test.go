package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tinko_recovery/internal/models"
)

func setupMockDB(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return NewGormStore(gormDB), mock
}

func TestGormGetMerchantByAPIKey(t *testing.T) {
	s, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "name", "api_key", "webhook_secret"}).
		AddRow(3, "Shop", "key-1", "whsec")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "merchants"`)).WillReturnRows(rows)

	m, err := s.GetMerchantByAPIKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, uint(3), m.ID)
	assert.Equal(t, "whsec", m.WebhookSecret)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormGetMerchantByAPIKey_NotFound(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "merchants"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	m, err := s.GetMerchantByAPIKey(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, m)
}

func TestGormRotateAPIKey_UnknownMerchant(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "merchants" SET "api_key"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.RotateAPIKey(context.Background(), 42, "new-key")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUpsertFailed_Created(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "payment_events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	p, outcome, err := s.UpsertFailed(context.Background(), failedPayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, outcome)
	assert.Equal(t, uint(7), p.ID)
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormUpsertFailed_RejectedWhenRecovered(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "payment_events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "payment_events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "merchant_id", "gateway_payment_id", "status"}).
			AddRow(7, 1, "pay_1", models.PaymentStatusRecovered))
	mock.ExpectCommit()

	p, outcome, err := s.UpsertFailed(context.Background(), failedPayment("pay_1"))
	require.NoError(t, err)
	assert.Equal(t, UpsertRejected, outcome)
	assert.Equal(t, models.PaymentStatusRecovered, p.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMarkRecovered_Transition(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "payment_events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "payment_events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "merchant_id", "gateway_payment_id", "status"}).
			AddRow(7, 1, "pay_1", models.PaymentStatusFailed))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payment_events" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, outcome, err := s.MarkRecovered(context.Background(), RecoveredPayment{MerchantID: 1, GatewayPaymentID: "pay_1", At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, RecoverTransitioned, outcome)
	assert.Equal(t, models.PaymentStatusRecovered, p.Status)
	assert.NotNil(t, p.RecoveredAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormClaimAttempt(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "recovery_attempts" SET "claimed_at"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	now := time.Now()
	ok, err := s.ClaimAttempt(context.Background(), 5, now, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormListDueAttempts_Page(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(`FROM "recovery_attempts" WHERE status = \$1 AND \(claimed_at IS NULL OR claimed_at < \$2\) AND scheduled_at <= \$3 AND id > \$4.*ORDER BY id LIMIT`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "attempt_no", "status"}).
			AddRow(11, 1, "scheduled").
			AddRow(12, 2, "scheduled"))

	now := time.Now()
	out, err := s.ListDueAttempts(context.Background(), DueFilter{
		DueBefore:   now.Add(time.Hour),
		StaleBefore: now.Add(-10 * time.Minute),
		AfterID:     10,
		Limit:       2,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint(11), out[0].ID)
	assert.Equal(t, uint(12), out[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRecordAttemptResult_AlreadyRecorded(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "recovery_attempts" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := s.RecordAttemptResult(context.Background(), 5, AttemptResult{Status: models.AttemptStatusSent, At: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormCancelPendingAttempts(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "recovery_attempts" SET "status"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := s.CancelPendingAttempts(context.Background(), models.PaymentKey{MerchantID: 1, GatewayPaymentID: "pay_1"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStats(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM payment_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"failed_count", "recovered_count", "recovered_amount"}).
			AddRow(4, 1, 49900))

	st, err := s.Stats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Stats{FailedCount: 4, RecoveredCount: 1, RecoveredAmount: 49900}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}
