// Package notify delivers deposit events to the operator side channel.
// Delivery is fire-and-forget: failures are logged and recorded nowhere else,
// and never propagate into the reconciliation engine.
package notify

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Event types sent to operators.
const (
	EventDepositCreated  = "deposit.created"
	EventDepositSettled  = "deposit.settled"
	EventDepositRejected = "deposit.rejected"
)

// Event describes one deposit lifecycle moment.
type Event struct {
	Type         string `json:"type"`
	DepositID    string `json:"depositId"`
	UserID       int    `json:"userId"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balanceAfter,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Notifier is the side channel the engine talks to. Implementations must not
// block settlement: callers invoke Notify from a goroutine and ignore errors.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// WebhookNotifier posts events to an operator webhook and keeps an audit row
// per attempt. Either the URL or the db may be absent.
type WebhookNotifier struct {
	db     *sql.DB
	url    string
	client *http.Client
}

func NewWebhookNotifier(db *sql.DB, url string) *WebhookNotifier {
	return &WebhookNotifier{
		db:     db,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Printf("[NOTIFY] marshal failed: %v", err)
		return
	}

	if n.db != nil {
		if _, err := n.db.ExecContext(ctx, `
			INSERT INTO notifications (channel, deposit_id, payload, created_at)
			VALUES ($1, $2, $3, $4)`,
			"webhook", event.DepositID, string(body), time.Now()); err != nil {
			log.Printf("[NOTIFY] audit insert failed for %s: %v", event.DepositID, err)
		}
	}

	if n.url == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[NOTIFY] request build failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("[NOTIFY] delivery failed for %s: %v", event.DepositID, err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Printf("[NOTIFY] operator webhook returned %d for %s", resp.StatusCode, event.DepositID)
	}
}

// NopNotifier discards events; used in tests and when no channel is set up.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}
