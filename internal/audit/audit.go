// Package audit writes a structured trail of every state-machine decision.
// Settlements, rejections and expiries are money-moving (or money-denying)
// events, so each one leaves a line regardless of which channel triggered it.
package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	DepositID string    `json:"deposit_id"`
	UserID    int       `json:"user_id"`
	Amount    int64     `json:"amount"`
	Outcome   string    `json:"outcome"`
	Details   any       `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

// LogSettlement records a credit applied to a user's balance.
func (a *Logger) LogSettlement(depositID string, userID int, amount, balanceAfter int64, source string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "SETTLEMENT",
		DepositID: depositID,
		UserID:    userID,
		Amount:    amount,
		Outcome:   "APPLIED",
		Details: map[string]any{
			"balance_after": balanceAfter,
			"source":        source,
		},
	}
	a.log(event)
}

// LogRejection records an operator override that closed a deposit unpaid.
func (a *Logger) LogRejection(depositID, reason string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "REJECTION",
		DepositID: depositID,
		Outcome:   "CLOSED",
		Details:   map[string]string{"reason": reason},
	}
	a.log(event)
}

// LogExpiry records a pending deposit closed by its validity window.
func (a *Logger) LogExpiry(depositID string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "EXPIRY",
		DepositID: depositID,
		Outcome:   "CLOSED",
	}
	a.log(event)
}

// LogLostRace records a transition attempt that found the deposit already
// terminal. Useful when reconciling duplicate provider callbacks.
func (a *Logger) LogLostRace(depositID, source string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "TRANSITION_DENIED",
		DepositID: depositID,
		Outcome:   "NOOP",
		Details:   map[string]string{"source": source},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
