package services

import (
	"math/rand"

	"github.com/pansapay/backend/internal/config"
)

// SurchargePicker derives the unique payable total for a deposit: the
// requested amount plus a small random surcharge. Exact-amount matching is
// the sole correlation mechanism for automatic reconciliation, so the total
// must be unique among currently-pending deposits; the caller supplies the
// taken predicate and the picker retries with fresh surcharges up to its
// attempt budget.
type SurchargePicker struct {
	min      int64
	max      int64
	attempts int
	intn     func(n int64) int64
}

func NewSurchargePicker(cfg *config.DepositConfig) *SurchargePicker {
	return &SurchargePicker{
		min:      cfg.SurchargeMin,
		max:      cfg.SurchargeMax,
		attempts: cfg.MaxSurchargeAttempts,
		intn:     rand.Int63n,
	}
}

// PickTotal returns (total, surcharge) with total not currently taken by any
// pending deposit, or ErrAmountSpaceExhausted when every attempt collided.
func (p *SurchargePicker) PickTotal(requested int64, taken func(total int64) (bool, error)) (int64, int64, error) {
	if requested <= 0 {
		return 0, 0, ErrInvalidAmount
	}
	for i := 0; i < p.attempts; i++ {
		surcharge := p.min + p.intn(p.max-p.min+1)
		total := requested + surcharge
		inUse, err := taken(total)
		if err != nil {
			return 0, 0, err
		}
		if !inUse {
			return total, surcharge, nil
		}
	}
	return 0, 0, ErrAmountSpaceExhausted
}
