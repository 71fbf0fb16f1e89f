package models

import "time"

// Mutation directions.
const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Mutation is an immutable append-only record of one balance change. The sum
// of signed mutation amounts for a user always equals that user's balance.
type Mutation struct {
	ID           int       `json:"id" db:"id"`
	UserID       int       `json:"user_id" db:"user_id"`
	DepositID    string    `json:"deposit_id,omitempty" db:"deposit_id"`
	Direction    string    `json:"direction" db:"direction"` // credit or debit
	Amount       int64     `json:"amount" db:"amount"`
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Description  string    `json:"description" db:"description"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// IncomingNotification is a raw payment-provider callback, persisted verbatim
// before any matching runs. MatchedDepositID is set at most once, after a
// successful settlement of that deposit, and doubles as the proof the
// callback already took effect.
type IncomingNotification struct {
	ID               string    `json:"id" db:"id"`
	RawPayload       string    `json:"raw_payload" db:"raw_payload"`
	ParsedAmount     int64     `json:"parsed_amount" db:"parsed_amount"`
	MatchedDepositID string    `json:"matched_deposit_id,omitempty" db:"matched_deposit_id"`
	ReceivedAt       time.Time `json:"received_at" db:"received_at"`
}
