package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/pansapay/backend/internal/models"
)

func newTestListener(db *sql.DB, deposits depositGateway) *ListenerService {
	l := NewListenerService(db, deposits, testDepositConfig())
	l.now = func() time.Time { return testNow }
	return l
}

func TestListenerService_Process(t *testing.T) {
	pendingDeposit := &models.Deposit{
		DepositID:   "PN-AB12C",
		UserID:      7,
		TotalAmount: 50457,
		Status:      models.DepositPending,
		CreatedAt:   testNow.Add(-2 * time.Minute),
		ExpiresAt:   testNow.Add(13 * time.Minute),
	}

	t.Run("matches and settles", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gateway := new(MockDepositGateway)
		gateway.On("FindPendingByAmount", int64(50457), testNow.Add(-30*time.Minute)).
			Return(pendingDeposit, nil)
		gateway.On("Settle", "PN-AB12C", "Deposit QRIS PN-AB12C sukses").
			Return(&SettlementResult{DepositID: "PN-AB12C", UserID: 7, Amount: 50457, BalanceAfter: 51457}, nil)

		mock.ExpectExec("INSERT INTO incoming_notifications").
			WithArgs(sqlmock.AnyArg(), `{"title":"Payment received","amount":"50.457"}`, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE incoming_notifications SET parsed_amount").
			WithArgs(sqlmock.AnyArg(), int64(50457)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE incoming_notifications SET matched_deposit_id").
			WithArgs(sqlmock.AnyArg(), "PN-AB12C").
			WillReturnResult(sqlmock.NewResult(0, 1))

		listener := newTestListener(db, gateway)
		matched, err := listener.Process(context.Background(), []byte(`{"title":"Payment received","amount":"50.457"}`))
		assert.NoError(t, err)
		assert.Equal(t, "PN-AB12C", matched)
		gateway.AssertExpectations(t)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unparseable amount is recorded, not an error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gateway := new(MockDepositGateway)

		mock.ExpectExec("INSERT INTO incoming_notifications").
			WithArgs(sqlmock.AnyArg(), `{"title":"spam"}`, testNow).
			WillReturnResult(sqlmock.NewResult(1, 1))

		listener := newTestListener(db, gateway)
		matched, err := listener.Process(context.Background(), []byte(`{"title":"spam"}`))
		assert.NoError(t, err)
		assert.Empty(t, matched)
		gateway.AssertNotCalled(t, "Settle")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no candidate is not an error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gateway := new(MockDepositGateway)
		gateway.On("FindPendingByAmount", int64(99999), testNow.Add(-30*time.Minute)).
			Return(nil, ErrDepositNotFound)

		mock.ExpectExec("INSERT INTO incoming_notifications").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE incoming_notifications SET parsed_amount").
			WillReturnResult(sqlmock.NewResult(0, 1))

		listener := newTestListener(db, gateway)
		matched, err := listener.Process(context.Background(), []byte(`{"amount":99999}`))
		assert.NoError(t, err)
		assert.Empty(t, matched)
		gateway.AssertNotCalled(t, "Settle")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost settlement race becomes no match", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gateway := new(MockDepositGateway)
		gateway.On("FindPendingByAmount", int64(50457), testNow.Add(-30*time.Minute)).
			Return(pendingDeposit, nil)
		gateway.On("Settle", "PN-AB12C", "Deposit QRIS PN-AB12C sukses").
			Return(nil, ErrNotPending)

		mock.ExpectExec("INSERT INTO incoming_notifications").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE incoming_notifications SET parsed_amount").
			WillReturnResult(sqlmock.NewResult(0, 1))

		listener := newTestListener(db, gateway)
		matched, err := listener.Process(context.Background(), []byte(`{"amount":50457}`))
		assert.NoError(t, err)
		assert.Empty(t, matched)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure propagates before side effects", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		gateway := new(MockDepositGateway)
		mock.ExpectExec("INSERT INTO incoming_notifications").
			WillReturnError(assert.AnError)

		listener := newTestListener(db, gateway)
		_, err = listener.Process(context.Background(), []byte(`{"amount":50457}`))
		assert.Error(t, err)
		gateway.AssertNotCalled(t, "Settle")
	})
}

// Feeding the identical raw notification twice yields exactly one credit:
// the replay finds the deposit no longer pending and is absorbed as a no-op,
// with no duplicate-detection table involved.
func TestListenerService_Idempotency(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	gateway := newRaceGateway(models.Deposit{
		DepositID:   "PN-AB12C",
		UserID:      7,
		TotalAmount: 50457,
		Status:      models.DepositPending,
	})
	listener := newTestListener(db, gateway)
	raw := []byte(`{"amount":"50457"}`)

	// First delivery: insert, parse stamp, match stamp.
	mock.ExpectExec("INSERT INTO incoming_notifications").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE incoming_notifications SET parsed_amount").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE incoming_notifications SET matched_deposit_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Second delivery: insert and parse stamp only; no match stamp.
	mock.ExpectExec("INSERT INTO incoming_notifications").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE incoming_notifications SET parsed_amount").
		WillReturnResult(sqlmock.NewResult(0, 1))

	matched, err := listener.Process(context.Background(), raw)
	assert.NoError(t, err)
	assert.Equal(t, "PN-AB12C", matched)

	matched, err = listener.Process(context.Background(), raw)
	assert.NoError(t, err)
	assert.Empty(t, matched)

	assert.Equal(t, 1, gateway.credits)
	assert.Equal(t, models.DepositSuccess, gateway.deposit.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A webhook delivery and an operator confirm racing for the same deposit end
// with exactly one success transition and one credit, whichever side wins.
func TestListenerOperatorRace_NoDoubleCredit(t *testing.T) {
	for i := 0; i < 50; i++ {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)

		mock.MatchExpectationsInOrder(false)
		mock.ExpectExec("INSERT INTO incoming_notifications").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE incoming_notifications SET parsed_amount").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE incoming_notifications SET matched_deposit_id").
			WillReturnResult(sqlmock.NewResult(0, 1))

		gateway := newRaceGateway(models.Deposit{
			DepositID:   "PN-AB12C",
			UserID:      7,
			TotalAmount: 50457,
			Status:      models.DepositPending,
		})
		listener := newTestListener(db, gateway)
		operator := NewOperatorService(gateway)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := listener.Process(context.Background(), []byte(`{"amount":50457}`))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := operator.Confirm(context.Background(), "PN-AB12C")
			assert.NoError(t, err)
		}()
		wg.Wait()

		assert.Equal(t, 1, gateway.credits, "exactly one credit regardless of race outcome")
		assert.Equal(t, models.DepositSuccess, gateway.deposit.Status)
		db.Close()
	}
}

func TestParseNotificationAmount(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    int64
		ok      bool
	}{
		{"json number", `{"amount":50457}`, 50457, true},
		{"json number with zero fraction", `{"amount":50457.0}`, 50457, true},
		{"plain string", `{"amount":"50457"}`, 50457, true},
		{"dot grouping", `{"amount":"50.457"}`, 50457, true},
		{"comma grouping", `{"amount":"1,234,567"}`, 1234567, true},
		{"decimal zeros dot", `{"amount":"50457.00"}`, 50457, true},
		{"decimal zeros comma", `{"amount":"50457,00"}`, 50457, true},
		{"mixed id style", `{"amount":"50.457,00"}`, 50457, true},
		{"mixed us style", `{"amount":"50,457.00"}`, 50457, true},
		{"currency prefix", `{"amount":"Rp 50.457"}`, 50457, true},
		{"nominal key", `{"nominal":"25789"}`, 25789, true},
		{"value key", `{"value":10500}`, 10500, true},
		{"gross_amount key", `{"gross_amount":"10500.00"}`, 10500, true},
		{"fractional rupiah", `{"amount":"50457.50"}`, 0, false},
		{"fractional number", `{"amount":50457.5}`, 0, false},
		{"negative", `{"amount":-500}`, 0, false},
		{"zero", `{"amount":"0"}`, 0, false},
		{"empty string", `{"amount":""}`, 0, false},
		{"no amount key", `{"title":"hello"}`, 0, false},
		{"not json", `amount=50457`, 0, false},
		{"garbage string", `{"amount":"lots"}`, 0, false},
		{"bad grouping", `{"amount":"50.45"}`, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseNotificationAmount([]byte(tc.payload))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
