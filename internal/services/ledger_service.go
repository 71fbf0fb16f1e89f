package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pansapay/backend/internal/models"
)

// LedgerService is the only writer of user balances. Every balance change is
// paired with an append-only mutation row carrying the post-change balance,
// inside one transaction holding the user's balance row lock, so concurrent
// credits to the same user serialize instead of losing updates.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Credit adds amount to the user's balance in its own transaction and
// returns the balance after the credit.
func (s *LedgerService) Credit(ctx context.Context, userID int, amount int64, depositID, description string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balanceAfter, err := s.CreditTx(tx, userID, amount, depositID, description)
	if err != nil {
		return 0, err
	}

	return balanceAfter, tx.Commit()
}

// CreditTx is the composable form of Credit for callers that need the credit
// inside a wider transaction, such as deposit settlement.
func (s *LedgerService) CreditTx(tx *sql.Tx, userID int, amount int64, depositID, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return 0, err
	}

	newBalance := balance + amount
	if err := s.writeMutation(tx, userID, depositID, models.DirectionCredit, amount, newBalance, description); err != nil {
		return 0, err
	}
	if err := s.updateBalance(tx, userID, newBalance); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// Debit subtracts amount from the user's balance, failing with
// ErrInsufficientBalance rather than going negative.
func (s *LedgerService) Debit(ctx context.Context, userID int, amount int64, description string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balanceAfter, err := s.DebitTx(tx, userID, amount, description)
	if err != nil {
		return 0, err
	}

	return balanceAfter, tx.Commit()
}

func (s *LedgerService) DebitTx(tx *sql.Tx, userID int, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	balance, err := s.lockBalance(tx, userID)
	if err != nil {
		return 0, err
	}
	if balance < amount {
		return 0, ErrInsufficientBalance
	}

	newBalance := balance - amount
	if err := s.writeMutation(tx, userID, "", models.DirectionDebit, amount, newBalance, description); err != nil {
		return 0, err
	}
	if err := s.updateBalance(tx, userID, newBalance); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// History lists the user's most recent mutations, newest first.
func (s *LedgerService) History(ctx context.Context, userID, limit int) ([]models.Mutation, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(deposit_id, ''), direction, amount, balance_after, description, created_at
		FROM mutations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mutations []models.Mutation
	for rows.Next() {
		var m models.Mutation
		if err := rows.Scan(&m.ID, &m.UserID, &m.DepositID, &m.Direction, &m.Amount, &m.BalanceAfter, &m.Description, &m.CreatedAt); err != nil {
			return nil, err
		}
		mutations = append(mutations, m)
	}
	return mutations, rows.Err()
}

func (s *LedgerService) lockBalance(tx *sql.Tx, userID int) (int64, error) {
	var balance int64
	err := tx.QueryRow(`
		SELECT balance FROM users
		WHERE id = $1
		FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %d not found", userID)
	}
	return balance, err
}

func (s *LedgerService) writeMutation(tx *sql.Tx, userID int, depositID, direction string, amount, balanceAfter int64, description string) error {
	_, err := tx.Exec(`
		INSERT INTO mutations (user_id, deposit_id, direction, amount, balance_after, description, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		userID, depositID, direction, amount, balanceAfter, description, time.Now())
	return err
}

func (s *LedgerService) updateBalance(tx *sql.Tx, userID int, newBalance int64) error {
	result, err := tx.Exec(`
		UPDATE users
		SET balance = $1, updated_at = $2
		WHERE id = $3`,
		newBalance, time.Now(), userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update affected no rows for user %d", userID)
	}
	return nil
}
