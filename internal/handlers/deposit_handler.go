package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pansapay/backend/internal/middleware"
	"github.com/pansapay/backend/internal/models"
	"github.com/pansapay/backend/internal/services"
)

type depositAPI interface {
	Create(ctx context.Context, userID int, requested int64) (*models.Deposit, error)
	Get(ctx context.Context, depositID string, userID int) (*models.Deposit, error)
	List(ctx context.Context, userID, limit int) ([]models.Deposit, error)
}

type ledgerAPI interface {
	History(ctx context.Context, userID, limit int) ([]models.Mutation, error)
}

// DepositHandler exposes the user-facing deposit operations.
type DepositHandler struct {
	deposits  depositAPI
	ledger    ledgerAPI
	validator *services.ValidationHelper
}

func NewDepositHandler(deposits depositAPI, ledger ledgerAPI) *DepositHandler {
	return &DepositHandler{
		deposits:  deposits,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

type createDepositRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type createDepositResponse struct {
	DepositID   string    `json:"depositId"`
	TotalAmount int64     `json:"totalAmount"`
	Payload     string    `json:"payload"`
	QRImage     string    `json:"qrImage"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Create opens a deposit and returns the payable QRIS payload and QR image.
func (h *DepositHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req createDepositRequest
	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	deposit, err := h.deposits.Create(r.Context(), userID, req.Amount)
	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		services.SendErrorResponse(w, "Invalid amount", http.StatusBadRequest, nil)
		return
	case errors.Is(err, services.ErrTooManyPending):
		services.SendErrorResponse(w, "Too many open deposits, try again later", http.StatusTooManyRequests, nil)
		return
	case errors.Is(err, services.ErrAmountSpaceExhausted), errors.Is(err, services.ErrDepositIDExhausted):
		services.SendErrorResponse(w, "Could not allocate deposit, retry", http.StatusServiceUnavailable, nil)
		return
	case err != nil:
		services.SendErrorResponse(w, "Failed to create deposit", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusCreated, createDepositResponse{
		DepositID:   deposit.DepositID,
		TotalAmount: deposit.TotalAmount,
		Payload:     deposit.Payload,
		QRImage:     deposit.QRImage,
		ExpiresAt:   deposit.ExpiresAt,
	})
}

// Get returns one deposit with lazy expiry applied. The raw signed payload
// is never exposed on the query path; the Deposit model keeps it out of the
// JSON encoding.
func (h *DepositHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	depositID := chi.URLParam(r, "depositId")
	deposit, err := h.deposits.Get(r.Context(), depositID, userID)
	if errors.Is(err, services.ErrDepositNotFound) {
		services.SendErrorResponse(w, "Deposit not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to load deposit", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, deposit)
}

// List returns the user's deposit history.
func (h *DepositHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	deposits, err := h.deposits.List(r.Context(), userID, 200)
	if err != nil {
		services.SendErrorResponse(w, "Failed to load deposits", http.StatusInternalServerError, nil)
		return
	}
	if deposits == nil {
		deposits = []models.Deposit{}
	}

	services.SendJSON(w, http.StatusOK, deposits)
}

// Mutations returns the user's balance history.
func (h *DepositHandler) Mutations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	mutations, err := h.ledger.History(r.Context(), userID, 200)
	if err != nil {
		services.SendErrorResponse(w, "Failed to load mutations", http.StatusInternalServerError, nil)
		return
	}
	if mutations == nil {
		mutations = []models.Mutation{}
	}

	services.SendJSON(w, http.StatusOK, mutations)
}
