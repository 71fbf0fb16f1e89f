package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/pansapay/backend/internal/models"
)

// MockDepositGateway is a testify mock over the settlement primitives the
// listener and operator services delegate to.
type MockDepositGateway struct {
	mock.Mock
}

func (m *MockDepositGateway) FindPendingByAmount(ctx context.Context, total int64, since time.Time) (*models.Deposit, error) {
	args := m.Called(total, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deposit), args.Error(1)
}

func (m *MockDepositGateway) Settle(ctx context.Context, depositID, description string) (*SettlementResult, error) {
	args := m.Called(depositID, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SettlementResult), args.Error(1)
}

func (m *MockDepositGateway) Reject(ctx context.Context, depositID, reason string) error {
	args := m.Called(depositID, reason)
	return args.Error(0)
}

// raceGateway honors the conditional-transition contract with an in-memory
// compare-and-set: exactly one Settle call per deposit wins, every other
// concurrent caller observes ErrNotPending. Used to exercise the
// listener/operator race without a database.
type raceGateway struct {
	mu      sync.Mutex
	deposit models.Deposit
	credits int
	settled bool
}

func newRaceGateway(d models.Deposit) *raceGateway {
	return &raceGateway{deposit: d}
}

func (g *raceGateway) FindPendingByAmount(ctx context.Context, total int64, since time.Time) (*models.Deposit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deposit.Status == models.DepositPending && g.deposit.TotalAmount == total {
		d := g.deposit
		return &d, nil
	}
	return nil, ErrDepositNotFound
}

func (g *raceGateway) Settle(ctx context.Context, depositID, description string) (*SettlementResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deposit.DepositID != depositID {
		return nil, ErrDepositNotFound
	}
	if g.settled || g.deposit.Status != models.DepositPending {
		return nil, ErrNotPending
	}
	g.settled = true
	g.deposit.Status = models.DepositSuccess
	g.credits++
	return &SettlementResult{
		DepositID:    depositID,
		UserID:       g.deposit.UserID,
		Amount:       g.deposit.TotalAmount,
		BalanceAfter: g.deposit.TotalAmount,
	}, nil
}

func (g *raceGateway) Reject(ctx context.Context, depositID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deposit.DepositID != depositID {
		return ErrDepositNotFound
	}
	if g.deposit.Status != models.DepositPending {
		return ErrNotPending
	}
	g.deposit.Status = models.DepositRejected
	g.deposit.Note = reason
	return nil
}
