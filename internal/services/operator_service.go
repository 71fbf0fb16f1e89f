package services

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// OperatorService is the manual confirmation path for a trusted operator. It
// is deliberately thin: both operations delegate to the deposit service's
// conditional transition, so an operator action and an automatic settlement
// for the same deposit can only ever produce one credit between them.
type OperatorService struct {
	deposits operatorGateway
}

type operatorGateway interface {
	Settle(ctx context.Context, depositID, description string) (*SettlementResult, error)
	Reject(ctx context.Context, depositID, reason string) error
}

func NewOperatorService(deposits operatorGateway) *OperatorService {
	return &OperatorService{deposits: deposits}
}

// Confirm settles a deposit by operator decision and returns the
// human-readable outcome line the chat layer echoes back. A deposit that is
// no longer pending is reported as a no-op message, not an error.
func (s *OperatorService) Confirm(ctx context.Context, depositID string) (string, error) {
	result, err := s.deposits.Settle(ctx, depositID,
		fmt.Sprintf("Deposit QRIS %s dikonfirmasi operator", depositID))
	if errors.Is(err, ErrNotPending) {
		return fmt.Sprintf("Deposit %s is no longer pending; nothing done.", depositID), nil
	}
	if errors.Is(err, ErrDepositNotFound) {
		return fmt.Sprintf("Deposit %s not found.", depositID), nil
	}
	if err != nil {
		return "", err
	}

	log.Printf("[OPERATOR] Confirmed %s: user %d +%d", result.DepositID, result.UserID, result.Amount)
	return fmt.Sprintf("Deposit %s confirmed. User %d credited Rp%d (balance Rp%d).",
		result.DepositID, result.UserID, result.Amount, result.BalanceAfter), nil
}

// Reject marks a pending deposit rejected with the operator's reason.
func (s *OperatorService) Reject(ctx context.Context, depositID, reason string) (string, error) {
	err := s.deposits.Reject(ctx, depositID, reason)
	if errors.Is(err, ErrNotPending) {
		return fmt.Sprintf("Deposit %s is no longer pending; nothing done.", depositID), nil
	}
	if errors.Is(err, ErrDepositNotFound) {
		return fmt.Sprintf("Deposit %s not found.", depositID), nil
	}
	if err != nil {
		return "", err
	}

	log.Printf("[OPERATOR] Rejected %s: %s", depositID, reason)
	return fmt.Sprintf("Deposit %s rejected: %s", depositID, reason), nil
}
