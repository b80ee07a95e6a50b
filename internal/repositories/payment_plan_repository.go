package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
)

// PaymentPlanRepository defines the interface for payment plan data operations.
type PaymentPlanRepository interface {
	Create(ctx context.Context, plan *models.PaymentPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentPlan, error)
	UpdateIfVersion(ctx context.Context, plan *models.PaymentPlan, expectedVersion int64) (pgconn.CommandTag, error)
	UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.PaymentPlan) error) error
}

type paymentPlanRepo struct {
	*BaseVersionedRepo[*models.PaymentPlan]
	db DB
}

func NewPaymentPlanRepository(db DB) PaymentPlanRepository {
	r := &paymentPlanRepo{db: db}
	selectStmt := baseSelectPlan() + " WHERE id = $1"
	r.BaseVersionedRepo = NewBaseRepo(db, selectStmt, r.scanPlan)
	return r
}

func (r *paymentPlanRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentPlan, error) {
	return r.BaseVersionedRepo.GetByID(ctx, id.String())
}

func baseSelectPlan() string {
	return `
		SELECT
			id, patient_id, invoice_id, total_amount_cents, installment_count,
			installment_amount_cents, status, created_at, updated_at, row_version
		FROM payment_plans
	`
}

func (r *paymentPlanRepo) scanPlan(row pgx.Row) (*models.PaymentPlan, error) {
	var p models.PaymentPlan
	err := row.Scan(
		&p.ID, &p.PatientID, &p.InvoiceID, &p.TotalAmountCents, &p.InstallmentCount,
		&p.InstallmentAmountCents, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.RowVersion,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentPlanRepo) Create(ctx context.Context, p *models.PaymentPlan) error {
	q := `
		INSERT INTO payment_plans (
			id, patient_id, invoice_id, total_amount_cents, installment_count,
			installment_amount_cents, status, created_at, updated_at, row_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
	`
	_, err := r.db.Exec(ctx, q, p.ID, p.PatientID, p.InvoiceID, p.TotalAmountCents,
		p.InstallmentCount, p.InstallmentAmountCents, p.Status)
	return err
}

func (r *paymentPlanRepo) UpdateIfVersion(ctx context.Context, p *models.PaymentPlan, expectedVersion int64) (pgconn.CommandTag, error) {
	q := `
		UPDATE payment_plans SET
			status = $1,
			updated_at = NOW(),
			row_version = row_version + 1
		WHERE id = $2 AND row_version = $3
	`
	return r.db.Exec(ctx, q, p.Status, p.ID, expectedVersion)
}

func (r *paymentPlanRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.PaymentPlan) error) error {
	return r.BaseVersionedRepo.UpdateWithRetry(ctx, id.String(), mutate, r.UpdateIfVersion)
}
