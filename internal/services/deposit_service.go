package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/skip2/go-qrcode"

	"github.com/pansapay/backend/internal/audit"
	"github.com/pansapay/backend/internal/config"
	"github.com/pansapay/backend/internal/models"
	"github.com/pansapay/backend/internal/notify"
	"github.com/pansapay/backend/internal/qris"
)

const (
	depositIDPrefix   = "PN-"
	depositIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	depositIDLength   = 5

	// Postgres unique_violation; raised by the partial unique index on
	// pending totals if two creations race past the taken predicate.
	pqUniqueViolation = "23505"
)

// SettlementResult reports what a successful pending→success transition did.
type SettlementResult struct {
	DepositID    string
	UserID       int
	Amount       int64
	BalanceAfter int64
}

// DepositService owns deposit records and their one-way state machine:
// pending → success | rejected | expired. The only cross-cutting mutation it
// offers is the conditional transition, a single UPDATE guarded on the
// current status, which both the webhook listener and the operator gateway
// funnel through; whichever applies it first wins and the loser observes
// ErrNotPending.
type DepositService struct {
	db        *sql.DB
	redis     *redis.Client
	cfg       *config.DepositConfig
	ledger    *LedgerService
	templates *TemplateService
	picker    *SurchargePicker
	notifier  notify.Notifier
	audit     *audit.Logger
	now       func() time.Time
	idIntn    func(n int) int
}

func NewDepositService(db *sql.DB, redisClient *redis.Client, cfg *config.DepositConfig, notifier notify.Notifier) *DepositService {
	return &DepositService{
		db:        db,
		redis:     redisClient,
		cfg:       cfg,
		ledger:    NewLedgerService(db),
		templates: NewTemplateService(db, cfg.Template),
		picker:    NewSurchargePicker(cfg),
		notifier:  notifier,
		audit:     audit.NewLogger(),
		now:       time.Now,
		idIntn:    rand.Intn,
	}
}

// Create opens a new pending deposit: picks a disambiguating total, renders
// the QRIS payload and QR image, and persists the record with its validity
// window. The returned deposit carries the payload and image for the caller
// to hand to the user.
func (s *DepositService) Create(ctx context.Context, userID int, requested int64) (*models.Deposit, error) {
	if requested <= 0 {
		return nil, ErrInvalidAmount
	}

	if err := s.checkPendingQuota(ctx, userID); err != nil {
		return nil, err
	}

	template, err := s.templates.Active(ctx)
	if err != nil {
		return nil, err
	}

	total, surcharge, err := s.picker.PickTotal(requested, func(total int64) (bool, error) {
		return s.totalTaken(ctx, total)
	})
	if err != nil {
		return nil, err
	}

	payload, err := qris.Encode(template, total)
	if err != nil {
		return nil, err
	}

	qrImage, err := renderQRImage(payload)
	if err != nil {
		return nil, err
	}

	depositID, err := s.pickDepositID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	deposit := &models.Deposit{
		DepositID:       depositID,
		UserID:          userID,
		RequestedAmount: requested,
		Surcharge:       surcharge,
		TotalAmount:     total,
		Status:          models.DepositPending,
		Payload:         payload,
		QRImage:         qrImage,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.TTL),
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO deposits (deposit_id, user_id, requested_amount, surcharge, total_amount, status, payload, qr_image, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $9)
		RETURNING id`,
		deposit.DepositID, deposit.UserID, deposit.RequestedAmount, deposit.Surcharge,
		deposit.TotalAmount, deposit.Status, deposit.Payload, deposit.QRImage,
		deposit.CreatedAt, deposit.ExpiresAt).Scan(&deposit.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			// Another creation landed on the same pending total (or the
			// same deposit id) between our check and insert.
			return nil, ErrAmountSpaceExhausted
		}
		return nil, fmt.Errorf("deposit insert failed: %w", err)
	}

	log.Printf("[DEPOSIT] Created %s for user %d: requested %d + %d = %d, expires %s",
		deposit.DepositID, userID, requested, surcharge, total, deposit.ExpiresAt.Format(time.RFC3339))

	go s.notifier.Notify(context.Background(), notify.Event{
		Type:      notify.EventDepositCreated,
		DepositID: deposit.DepositID,
		UserID:    userID,
		Amount:    total,
	})

	return deposit, nil
}

// Get returns the user's deposit, applying lazy expiry: a pending deposit
// whose validity window has passed is transitioned to expired before it is
// returned, so no caller ever acts on a logically expired deposit.
func (s *DepositService) Get(ctx context.Context, depositID string, userID int) (*models.Deposit, error) {
	deposit, err := s.scanDeposit(s.db.QueryRowContext(ctx, `
		SELECT id, deposit_id, user_id, requested_amount, surcharge, total_amount, status, payload, qr_image, COALESCE(note, ''), created_at, expires_at
		FROM deposits
		WHERE deposit_id = $1 AND user_id = $2`, depositID, userID))
	if err == sql.ErrNoRows {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.expireIfDue(ctx, deposit); err != nil {
		return nil, err
	}
	return deposit, nil
}

// List returns the user's deposits, newest first.
func (s *DepositService) List(ctx context.Context, userID, limit int) ([]models.Deposit, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.queryDeposits(ctx, `
		SELECT id, deposit_id, user_id, requested_amount, surcharge, total_amount, status, payload, qr_image, COALESCE(note, ''), created_at, expires_at
		FROM deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
}

// ListByStatus is the operator view over all users' deposits.
func (s *DepositService) ListByStatus(ctx context.Context, status string, limit int) ([]models.Deposit, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.queryDeposits(ctx, `
		SELECT id, deposit_id, user_id, requested_amount, surcharge, total_amount, status, payload, qr_image, COALESCE(note, ''), created_at, expires_at
		FROM deposits
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`, status, limit)
}

// FindPendingByAmount returns the oldest pending deposit with exactly this
// total created after since, or ErrDepositNotFound. Oldest-first makes the
// tie-break deterministic even though pending totals are unique by invariant.
func (s *DepositService) FindPendingByAmount(ctx context.Context, total int64, since time.Time) (*models.Deposit, error) {
	deposit, err := s.scanDeposit(s.db.QueryRowContext(ctx, `
		SELECT id, deposit_id, user_id, requested_amount, surcharge, total_amount, status, payload, qr_image, COALESCE(note, ''), created_at, expires_at
		FROM deposits
		WHERE status = 'pending' AND total_amount = $1 AND created_at >= $2
		ORDER BY created_at ASC
		LIMIT 1`, total, since))
	if err == sql.ErrNoRows {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, err
	}
	return deposit, nil
}

// Settle performs the one settlement a deposit may ever receive: the
// conditional pending→success transition and the ledger credit, in a single
// database transaction. Losing the transition race (or acting on an expired
// or terminal deposit) surfaces as ErrNotPending with no ledger effect.
func (s *DepositService) Settle(ctx context.Context, depositID, description string) (*SettlementResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.now()

	var userID int
	var total int64
	err = tx.QueryRow(`
		UPDATE deposits
		SET status = 'success', updated_at = $2
		WHERE deposit_id = $1 AND status = 'pending' AND expires_at > $2
		RETURNING user_id, total_amount`,
		depositID, now).Scan(&userID, &total)
	if err == sql.ErrNoRows {
		// Lost the race, already terminal, expired, or unknown. Settle the
		// expiry bookkeeping while we are here, then classify.
		classified := s.classifyFailedTransition(tx, depositID, now)
		if errors.Is(classified, ErrNotPending) {
			s.audit.LogLostRace(depositID, description)
		}
		return nil, classified
	}
	if err != nil {
		return nil, fmt.Errorf("deposit transition failed: %w", err)
	}

	balanceAfter, err := s.ledger.CreditTx(tx, userID, total, depositID, description)
	if err != nil {
		return nil, fmt.Errorf("deposit credit failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[DEPOSIT] Settled %s: user %d credited %d, balance %d", depositID, userID, total, balanceAfter)
	s.audit.LogSettlement(depositID, userID, total, balanceAfter, description)

	go s.notifier.Notify(context.Background(), notify.Event{
		Type:         notify.EventDepositSettled,
		DepositID:    depositID,
		UserID:       userID,
		Amount:       total,
		BalanceAfter: balanceAfter,
	})

	return &SettlementResult{
		DepositID:    depositID,
		UserID:       userID,
		Amount:       total,
		BalanceAfter: balanceAfter,
	}, nil
}

// Reject applies the conditional pending→rejected transition and stores the
// operator's reason. No ledger effect.
func (s *DepositService) Reject(ctx context.Context, depositID, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()

	result, err := tx.Exec(`
		UPDATE deposits
		SET status = 'rejected', note = $2, updated_at = $3
		WHERE deposit_id = $1 AND status = 'pending' AND expires_at > $3`,
		depositID, reason, now)
	if err != nil {
		return fmt.Errorf("deposit transition failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return s.classifyFailedTransition(tx, depositID, now)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	log.Printf("[DEPOSIT] Rejected %s: %s", depositID, reason)
	s.audit.LogRejection(depositID, reason)

	go s.notifier.Notify(context.Background(), notify.Event{
		Type:      notify.EventDepositRejected,
		DepositID: depositID,
		Note:      reason,
	})

	return nil
}

// classifyFailedTransition runs after a conditional transition matched no
// row. It expires a due pending row so the lazy-expiry invariant holds on
// every path, commits that bookkeeping, and maps the situation to
// ErrDepositNotFound or ErrNotPending.
func (s *DepositService) classifyFailedTransition(tx *sql.Tx, depositID string, now time.Time) error {
	_, err := tx.Exec(`
		UPDATE deposits
		SET status = 'expired', updated_at = $2
		WHERE deposit_id = $1 AND status = 'pending' AND expires_at <= $2`,
		depositID, now)
	if err != nil {
		return fmt.Errorf("deposit expiry failed: %w", err)
	}

	var status string
	err = tx.QueryRow(`SELECT status FROM deposits WHERE deposit_id = $1`, depositID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrDepositNotFound
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return ErrNotPending
}

// expireIfDue lazily transitions a due pending deposit to expired before any
// caller sees it. The guard on status makes it race-safe against settlement.
func (s *DepositService) expireIfDue(ctx context.Context, deposit *models.Deposit) error {
	if deposit.Status != models.DepositPending || deposit.ExpiresAt.After(s.now()) {
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE deposits
		SET status = 'expired', updated_at = $2
		WHERE deposit_id = $1 AND status = 'pending'`,
		deposit.DepositID, s.now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 1 {
		deposit.Status = models.DepositExpired
		s.audit.LogExpiry(deposit.DepositID)
		return nil
	}

	// Someone else transitioned it first; reflect whatever they decided.
	return s.db.QueryRowContext(ctx, `
		SELECT status FROM deposits WHERE deposit_id = $1`,
		deposit.DepositID).Scan(&deposit.Status)
}

func (s *DepositService) totalTaken(ctx context.Context, total int64) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM deposits WHERE total_amount = $1 AND status = 'pending')`,
		total).Scan(&taken)
	return taken, err
}

func (s *DepositService) pickDepositID(ctx context.Context) (string, error) {
	for i := 0; i < s.cfg.MaxIDAttempts; i++ {
		id := s.randomDepositID()

		var taken bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM deposits WHERE deposit_id = $1)`, id).Scan(&taken)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrDepositIDExhausted
}

func (s *DepositService) randomDepositID() string {
	b := make([]byte, depositIDLength)
	for i := range b {
		b[i] = depositIDAlphabet[s.idIntn(len(depositIDAlphabet))]
	}
	return depositIDPrefix + string(b)
}

// checkPendingQuota applies the redis creation rate limit: at most
// MaxPendingPerUser creations per user inside one TTL window. Skipped when
// redis is absent.
func (s *DepositService) checkPendingQuota(ctx context.Context, userID int) error {
	if s.redis == nil || s.cfg.MaxPendingPerUser <= 0 {
		return nil
	}

	key := fmt.Sprintf("deposit:quota:%d", userID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[DEPOSIT] quota check unavailable for user %d: %v", userID, err)
		return nil
	}
	if count == 1 {
		s.redis.Expire(ctx, key, s.cfg.TTL)
	}
	if count > int64(s.cfg.MaxPendingPerUser) {
		return ErrTooManyPending
	}
	return nil
}

func (s *DepositService) queryDeposits(ctx context.Context, query string, args ...any) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []models.Deposit
	for rows.Next() {
		var d models.Deposit
		if err := rows.Scan(&d.ID, &d.DepositID, &d.UserID, &d.RequestedAmount, &d.Surcharge,
			&d.TotalAmount, &d.Status, &d.Payload, &d.QRImage, &d.Note, &d.CreatedAt, &d.ExpiresAt); err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *DepositService) scanDeposit(row rowScanner) (*models.Deposit, error) {
	var d models.Deposit
	err := row.Scan(&d.ID, &d.DepositID, &d.UserID, &d.RequestedAmount, &d.Surcharge,
		&d.TotalAmount, &d.Status, &d.Payload, &d.QRImage, &d.Note, &d.CreatedAt, &d.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func renderQRImage(payload string) (string, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
