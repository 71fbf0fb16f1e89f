package handlers

import (
	"context"
	"crypto/subtle"
	"io"
	"log"
	"net/http"

	"github.com/pansapay/backend/internal/services"
)

type notificationProcessor interface {
	Process(ctx context.Context, rawPayload []byte) (string, error)
}

// WebhookHandler receives payment-provider callbacks. Authentication is an
// exact shared-secret match and happens before the body is persisted, so an
// unauthenticated caller leaves no trace in the notification log.
type WebhookHandler struct {
	listener notificationProcessor
	apiKey   string
}

func NewWebhookHandler(listener notificationProcessor, apiKey string) *WebhookHandler {
	return &WebhookHandler{listener: listener, apiKey: apiKey}
}

type webhookResponse struct {
	Accepted         bool    `json:"accepted"`
	MatchedDepositID *string `json:"matchedDepositId"`
}

// Listen handles one provider callback. Matching failures are absorbed: the
// provider gets 200 whether or not a deposit matched, so it never retries
// over the engine's inability to find a candidate.
func (h *WebhookHandler) Listen(w http.ResponseWriter, r *http.Request) {
	provided := r.Header.Get("X-Api-Key")
	if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.apiKey)) != 1 {
		services.SendErrorResponse(w, "Invalid API key", http.StatusForbidden, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	rawPayload, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	matched, err := h.listener.Process(r.Context(), rawPayload)
	if err != nil {
		log.Printf("[WEBHOOK] Processing failed: %v", err)
		services.SendErrorResponse(w, "Storage unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	resp := webhookResponse{Accepted: true}
	if matched != "" {
		resp.MatchedDepositID = &matched
	}
	services.SendJSON(w, http.StatusOK, resp)
}
