package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pansapay/backend/internal/models"
	"github.com/pansapay/backend/internal/qris"
	"github.com/pansapay/backend/internal/services"
)

type operatorAPI interface {
	Confirm(ctx context.Context, depositID string) (string, error)
	Reject(ctx context.Context, depositID, reason string) (string, error)
}

type depositBrowser interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Deposit, error)
}

type templateAPI interface {
	Add(ctx context.Context, name, payload string) (*models.QRISTemplate, error)
	List(ctx context.Context) ([]models.QRISTemplate, error)
	Delete(ctx context.Context, id int) error
}

// AdminHandler is the HTTP face of the operator channel: the two override
// verbs plus deposit browsing and QRIS template management.
type AdminHandler struct {
	operator  operatorAPI
	deposits  depositBrowser
	templates templateAPI
	validator *services.ValidationHelper
}

func NewAdminHandler(operator operatorAPI, deposits depositBrowser, templates templateAPI) *AdminHandler {
	return &AdminHandler{
		operator:  operator,
		deposits:  deposits,
		templates: templates,
		validator: services.NewValidationHelper(),
	}
}

type outcomeResponse struct {
	Message string `json:"message"`
}

// Confirm settles a deposit manually. Races and terminal deposits come back
// as a message with nothing done.
func (h *AdminHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	depositID := chi.URLParam(r, "depositId")

	message, err := h.operator.Confirm(r.Context(), depositID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to confirm deposit", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, outcomeResponse{Message: message})
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=200"`
}

// Reject marks a deposit rejected with a reason.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	depositID := chi.URLParam(r, "depositId")

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req rejectRequest
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

	message, err := h.operator.Reject(r.Context(), depositID, req.Reason)
	if err != nil {
		services.SendErrorResponse(w, "Failed to reject deposit", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, outcomeResponse{Message: message})
}

// ListDeposits browses deposits by status, defaulting to pending.
func (h *AdminHandler) ListDeposits(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = models.DepositPending
	}
	switch status {
	case models.DepositPending, models.DepositSuccess, models.DepositRejected, models.DepositExpired:
	default:
		services.SendErrorResponse(w, "Unknown status", http.StatusBadRequest, nil)
		return
	}

	deposits, err := h.deposits.ListByStatus(r.Context(), status, 200)
	if err != nil {
		services.SendErrorResponse(w, "Failed to load deposits", http.StatusInternalServerError, nil)
		return
	}
	if deposits == nil {
		deposits = []models.Deposit{}
	}
	services.SendJSON(w, http.StatusOK, deposits)
}

type addTemplateRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=60"`
	Payload string `json:"payload" validate:"required,min=20"`
}

// AddTemplate stores a new QRIS base payload.
func (h *AdminHandler) AddTemplate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req addTemplateRequest
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

	template, err := h.templates.Add(r.Context(), req.Name, req.Payload)
	if errors.Is(err, qris.ErrNoAmountPlaceholder) {
		services.SendErrorResponse(w, "Template must contain "+qris.AmountPlaceholder, http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to store template", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusCreated, template)
}

// ListTemplates returns all stored templates.
func (h *AdminHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.List(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Failed to load templates", http.StatusInternalServerError, nil)
		return
	}
	if templates == nil {
		templates = []models.QRISTemplate{}
	}
	services.SendJSON(w, http.StatusOK, templates)
}

// DeleteTemplate removes a stored template.
func (h *AdminHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid template id", http.StatusBadRequest, nil)
		return
	}

	if err := h.templates.Delete(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			services.SendErrorResponse(w, "Template not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to delete template", http.StatusInternalServerError, nil)
		return
	}
	services.SendJSON(w, http.StatusOK, outcomeResponse{Message: "Template deleted"})
}
