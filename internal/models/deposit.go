package models

import "time"

// Deposit statuses. Pending is the only non-terminal state; the others are
// one-way and immutable once set.
const (
	DepositPending  = "pending"
	DepositSuccess  = "success"
	DepositRejected = "rejected"
	DepositExpired  = "expired"
)

// Deposit represents one funding request tracked to a terminal status.
// Amounts are whole rupiah.
type Deposit struct {
	ID              int       `json:"-" db:"id"`
	DepositID       string    `json:"depositId" db:"deposit_id"`
	UserID          int       `json:"-" db:"user_id"`
	RequestedAmount int64     `json:"requestedAmount" db:"requested_amount"`
	Surcharge       int64     `json:"surcharge" db:"surcharge"`
	TotalAmount     int64     `json:"totalAmount" db:"total_amount"`
	Status          string    `json:"status" db:"status"`
	Payload         string    `json:"-" db:"payload"`
	QRImage         string    `json:"qrImage,omitempty" db:"qr_image"`
	Note            string    `json:"note,omitempty" db:"note"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt       time.Time `json:"expiresAt" db:"expires_at"`
}

// Terminal reports whether the deposit can no longer change state.
func (d *Deposit) Terminal() bool {
	return d.Status != DepositPending
}

// QRISTemplate is a stored base payload with an amount placeholder.
type QRISTemplate struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Payload   string    `json:"payload" db:"payload"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
