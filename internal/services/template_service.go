package services

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pansapay/backend/internal/models"
	"github.com/pansapay/backend/internal/qris"
)

// TemplateService manages the QRIS base payload templates operators upload.
// Deposit creation uses the newest active row, falling back to the template
// configured via environment when the table is empty.
type TemplateService struct {
	db       *sql.DB
	fallback string
}

func NewTemplateService(db *sql.DB, fallback string) *TemplateService {
	return &TemplateService{db: db, fallback: fallback}
}

// Active returns the base payload deposits should encode against.
func (s *TemplateService) Active(ctx context.Context) (string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM qris_templates
		WHERE active = true
		ORDER BY created_at DESC
		LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		if s.fallback == "" {
			return "", ErrNoTemplate
		}
		return s.fallback, nil
	}
	if err != nil {
		return "", err
	}
	return payload, nil
}

// Add stores a new template after checking it can actually carry an amount.
func (s *TemplateService) Add(ctx context.Context, name, payload string) (*models.QRISTemplate, error) {
	if !strings.Contains(payload, qris.AmountPlaceholder) {
		return nil, qris.ErrNoAmountPlaceholder
	}

	var tpl models.QRISTemplate
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO qris_templates (name, payload, active)
		VALUES ($1, $2, true)
		RETURNING id, name, payload, active, created_at`,
		name, payload).Scan(&tpl.ID, &tpl.Name, &tpl.Payload, &tpl.Active, &tpl.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// List returns all stored templates, newest first.
func (s *TemplateService) List(ctx context.Context) ([]models.QRISTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, payload, active, created_at
		FROM qris_templates
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []models.QRISTemplate
	for rows.Next() {
		var tpl models.QRISTemplate
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Payload, &tpl.Active, &tpl.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// Delete removes a template by id.
func (s *TemplateService) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM qris_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
