package services

import "errors"

// Typed outcomes of the deposit engine. ErrNotPending in particular is not a
// failure: it is the defined result of losing a settlement race (or acting on
// an already-terminal deposit) and callers branch on it explicitly.
var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrAmountSpaceExhausted = errors.New("no free total amount after retries")
	ErrDepositIDExhausted   = errors.New("no free deposit id after retries")
	ErrDepositNotFound      = errors.New("deposit not found")
	ErrNotPending           = errors.New("deposit is not pending")
	ErrTooManyPending       = errors.New("too many open deposits")
	ErrNoTemplate           = errors.New("no qris template configured")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrTemplateNotFound     = errors.New("template not found")
)
