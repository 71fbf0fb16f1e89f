package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pansapay/backend/internal/config"
	"github.com/pansapay/backend/internal/models"
)

// Keys an inbound provider callback may carry its amount under. Anything
// else is ignored: the callback shape is otherwise arbitrary JSON.
var notificationAmountKeys = []string{"amount", "nominal", "value", "gross_amount"}

// depositGateway is the slice of DepositService the listener needs. Both the
// listener and the operator gateway settle through the same conditional
// transition, which is what lets the two paths race safely.
type depositGateway interface {
	FindPendingByAmount(ctx context.Context, total int64, since time.Time) (*models.Deposit, error)
	Settle(ctx context.Context, depositID, description string) (*SettlementResult, error)
}

// ListenerService consumes raw payment-provider callbacks and drives
// automatic settlement by exact-amount matching. Every callback is persisted
// before any other work so a crash mid-processing loses nothing, and
// reprocessing is idempotent: a replay finds the deposit no longer pending
// and becomes a no-op without any duplicate-detection table.
type ListenerService struct {
	db       *sql.DB
	deposits depositGateway
	cfg      *config.DepositConfig
	now      func() time.Time
}

func NewListenerService(db *sql.DB, deposits depositGateway, cfg *config.DepositConfig) *ListenerService {
	return &ListenerService{
		db:       db,
		deposits: deposits,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Process records the callback and attempts one settlement. It returns the
// matched deposit id, or "" when the callback is non-actionable: unparseable
// amount, no candidate in the match window, or a settlement race lost to the
// operator. None of those are errors; the notification stays recorded for
// manual follow-up.
func (s *ListenerService) Process(ctx context.Context, rawPayload []byte) (string, error) {
	notificationID := uuid.NewString()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incoming_notifications (id, raw_payload, received_at)
		VALUES ($1, $2, $3)`,
		notificationID, string(rawPayload), s.now())
	if err != nil {
		return "", fmt.Errorf("notification insert failed: %w", err)
	}

	amount, ok := parseNotificationAmount(rawPayload)
	if !ok {
		log.Printf("[LISTENER] Notification %s has no usable amount, keeping for manual review", notificationID)
		return "", nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE incoming_notifications SET parsed_amount = $2 WHERE id = $1`,
		notificationID, amount); err != nil {
		return "", fmt.Errorf("notification update failed: %w", err)
	}

	since := s.now().Add(-s.cfg.MatchWindow)
	deposit, err := s.deposits.FindPendingByAmount(ctx, amount, since)
	if errors.Is(err, ErrDepositNotFound) {
		log.Printf("[LISTENER] No pending deposit matches amount %d (notification %s)", amount, notificationID)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	result, err := s.deposits.Settle(ctx, deposit.DepositID,
		fmt.Sprintf("Deposit QRIS %s sukses", deposit.DepositID))
	if errors.Is(err, ErrNotPending) {
		// Lost the race to the operator (or expiry). Not an error; the
		// money was not credited by this path.
		log.Printf("[LISTENER] Deposit %s no longer pending, notification %s unmatched", deposit.DepositID, notificationID)
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE incoming_notifications
		SET matched_deposit_id = $2
		WHERE id = $1 AND matched_deposit_id IS NULL`,
		notificationID, result.DepositID); err != nil {
		// The settlement already committed; losing the stamp is an audit
		// gap, not a reconciliation failure.
		log.Printf("[LISTENER] Failed to stamp notification %s with %s: %v", notificationID, result.DepositID, err)
	}

	log.Printf("[LISTENER] Notification %s settled deposit %s (amount %d)", notificationID, result.DepositID, amount)
	return result.DepositID, nil
}

// parseNotificationAmount extracts a positive whole-rupiah amount from an
// arbitrary provider callback. Accepted shapes, normalized at this boundary
// so nothing downstream sees provider quirks:
//   - JSON number: 50457 or 50457.0
//   - plain digit string: "50457"
//   - grouped string: "50.457" or "50,457" (3-digit groups)
//   - decimal string with a zero fraction: "50457.00", "50457,00"
//   - mixed: "50.457,00", "50,457.00"
//   - optional "Rp"/"IDR" currency prefix
func parseNotificationAmount(rawPayload []byte) (int64, bool) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rawPayload, &body); err != nil {
		return 0, false
	}

	for _, key := range notificationAmountKeys {
		raw, present := body[key]
		if !present {
			continue
		}

		var num float64
		if err := json.Unmarshal(raw, &num); err == nil {
			if num <= 0 || num != float64(int64(num)) {
				return 0, false
			}
			return int64(num), true
		}

		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			return normalizeAmountString(str)
		}
		return 0, false
	}
	return 0, false
}

func normalizeAmountString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"Rp", "rp", "RP", "IDR", "idr"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	if s == "" {
		return 0, false
	}

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")

	switch {
	case dot >= 0 && comma >= 0:
		// The later separator is decimal, the other is grouping.
		decimal := byte('.')
		if comma > dot {
			decimal = ','
		}
		var fraction string
		if decimal == '.' {
			fraction = s[dot+1:]
			s = strings.ReplaceAll(s[:dot], ",", "")
		} else {
			fraction = s[comma+1:]
			s = strings.ReplaceAll(s[:comma], ".", "")
		}
		if !allZeros(fraction) {
			return 0, false
		}
	case dot >= 0:
		var ok bool
		s, ok = stripSingleSeparator(s, ".")
		if !ok {
			return 0, false
		}
	case comma >= 0:
		var ok bool
		s, ok = stripSingleSeparator(s, ",")
		if !ok {
			return 0, false
		}
	}

	if s == "" || !allDigits(s) {
		return 0, false
	}

	var amount int64
	for i := 0; i < len(s); i++ {
		if amount > (1<<62)/10 {
			return 0, false
		}
		amount = amount*10 + int64(s[i]-'0')
	}
	if amount <= 0 {
		return 0, false
	}
	return amount, true
}

// stripSingleSeparator handles a string using only one of '.' or ','. A
// trailing 2-digit run is a decimal fraction and must be zero; everything
// else is treated as 3-digit grouping.
func stripSingleSeparator(s, sep string) (string, bool) {
	parts := strings.Split(s, sep)
	last := parts[len(parts)-1]

	if len(parts) == 2 && len(last) == 2 {
		if !allZeros(last) {
			return "", false
		}
		return parts[0], true
	}

	for _, part := range parts[1:] {
		if len(part) != 3 || !allDigits(part) {
			return "", false
		}
	}
	return strings.Join(parts, ""), true
}

func allZeros(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '0' {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
