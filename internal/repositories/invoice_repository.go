package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
)

type InvoiceRepository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	UpdateIfVersion(ctx context.Context, inv *models.Invoice, expectedVersion int64) (pgconn.CommandTag, error)
	UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Invoice) error) error
}

type invoiceRepo struct {
	*BaseVersionedRepo[*models.Invoice]
	db DB
}

func NewInvoiceRepository(db DB) InvoiceRepository {
	r := &invoiceRepo{db: db}
	selectStmt := baseSelectInvoice() + " WHERE id = $1"
	r.BaseVersionedRepo = NewBaseRepo(db, selectStmt, r.scanInvoice)
	return r
}

func (r *invoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return r.BaseVersionedRepo.GetByID(ctx, id.String())
}

func baseSelectInvoice() string {
	return `
		SELECT id, patient_id, description, review_flagged, review_reason,
		       created_at, updated_at, row_version
		FROM invoices
	`
}

func (r *invoiceRepo) scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(
		&inv.ID, &inv.PatientID, &inv.Description, &inv.ReviewFlagged, &inv.ReviewReason,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.RowVersion,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	q := `
		INSERT INTO invoices (
			id, patient_id, description, review_flagged, created_at, updated_at, row_version
		) VALUES ($1, $2, $3, FALSE, NOW(), NOW(), 1)
	`
	_, err := r.db.Exec(ctx, q, inv.ID, inv.PatientID, inv.Description)
	return err
}

func (r *invoiceRepo) UpdateIfVersion(ctx context.Context, inv *models.Invoice, expectedVersion int64) (pgconn.CommandTag, error) {
	q := `
		UPDATE invoices SET
			description = $1,
			review_flagged = $2,
			review_reason = $3,
			updated_at = NOW(),
			row_version = row_version + 1
		WHERE id = $4 AND row_version = $5
	`
	return r.db.Exec(ctx, q, inv.Description, inv.ReviewFlagged, inv.ReviewReason, inv.ID, expectedVersion)
}

func (r *invoiceRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Invoice) error) error {
	return r.BaseVersionedRepo.UpdateWithRetry(ctx, id.String(), mutate, r.UpdateIfVersion)
}
