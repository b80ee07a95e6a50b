package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
)

// InstallmentRepository defines the interface for installment data operations.
type InstallmentRepository interface {
	Create(ctx context.Context, inst *models.Installment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	GetByProviderRef(ctx context.Context, providerRef string) (*models.Installment, error)
	ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.Installment, error)
	UpdateIfVersion(ctx context.Context, inst *models.Installment, expectedVersion int64) (pgconn.CommandTag, error)
	UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Installment) error) error
	FindDueForCharge(ctx context.Context, now time.Time, maxAttempts int, retryInterval time.Duration) ([]*models.Installment, error)
	FindDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]*models.Installment, error)
	CountUnpaidByPlan(ctx context.Context, planID uuid.UUID) (int, error)
}

type installmentRepo struct {
	*BaseVersionedRepo[*models.Installment]
	db DB
}

// NewInstallmentRepository creates a new instance of the repository.
func NewInstallmentRepository(db DB) InstallmentRepository {
	r := &installmentRepo{db: db}
	selectStmt := baseSelectInstallment() + " WHERE id = $1"
	r.BaseVersionedRepo = NewBaseRepo(db, selectStmt, r.scanInstallment)
	return r
}

func (r *installmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	return r.BaseVersionedRepo.GetByID(ctx, id.String())
}

func (r *installmentRepo) GetByProviderRef(ctx context.Context, providerRef string) (*models.Installment, error) {
	row := r.db.QueryRow(ctx, baseSelectInstallment()+" WHERE provider_ref = $1", providerRef)
	return r.scanInstallment(row)
}

func baseSelectInstallment() string {
	return `
		SELECT
			id, plan_id, patient_id, invoice_id, sequence, amount_cents, due_date, status,
			attempt_count, last_attempt_at, last_failure_reason, reminder_sent_at, paid_at,
			provider_ref, created_at, updated_at, row_version
		FROM installments
	`
}

func (r *installmentRepo) scanInstallment(row pgx.Row) (*models.Installment, error) {
	var i models.Installment
	err := row.Scan(
		&i.ID, &i.PlanID, &i.PatientID, &i.InvoiceID, &i.Sequence, &i.AmountCents, &i.DueDate, &i.Status,
		&i.AttemptCount, &i.LastAttemptAt, &i.LastFailureReason, &i.ReminderSentAt, &i.PaidAt,
		&i.ProviderRef, &i.CreatedAt, &i.UpdatedAt, &i.RowVersion,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *installmentRepo) Create(ctx context.Context, i *models.Installment) error {
	q := `
		INSERT INTO installments (
			id, plan_id, patient_id, invoice_id, sequence, amount_cents, due_date, status,
			attempt_count, created_at, updated_at, row_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, NOW(), NOW(), 1)
		ON CONFLICT (plan_id, sequence) DO NOTHING
	`
	_, err := r.db.Exec(ctx, q, i.ID, i.PlanID, i.PatientID, i.InvoiceID, i.Sequence, i.AmountCents, i.DueDate, i.Status)
	return err
}

func (r *installmentRepo) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.Installment, error) {
	q := baseSelectInstallment() + " WHERE plan_id = $1 ORDER BY sequence"
	rows, err := r.db.Query(ctx, q, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *installmentRepo) UpdateIfVersion(ctx context.Context, i *models.Installment, expectedVersion int64) (pgconn.CommandTag, error) {
	q := `
		UPDATE installments SET
			status = $1,
			attempt_count = $2,
			last_attempt_at = $3,
			last_failure_reason = $4,
			reminder_sent_at = $5,
			paid_at = $6,
			provider_ref = $7,
			updated_at = NOW(),
			row_version = row_version + 1
		WHERE id = $8 AND row_version = $9
	`
	return r.db.Exec(ctx, q,
		i.Status, i.AttemptCount, i.LastAttemptAt, i.LastFailureReason,
		i.ReminderSentAt, i.PaidAt, i.ProviderRef, i.ID, expectedVersion)
}

func (r *installmentRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Installment) error) error {
	return r.BaseVersionedRepo.UpdateWithRetry(ctx, id.String(), mutate, r.UpdateIfVersion)
}

// FindDueForCharge selects installments whose due date has passed, whose
// status still allows a charge, whose attempt count is below the maximum,
// and (for retries) whose last attempt is older than the retry interval.
func (r *installmentRepo) FindDueForCharge(ctx context.Context, now time.Time, maxAttempts int, retryInterval time.Duration) ([]*models.Installment, error) {
	q := baseSelectInstallment() + `
		WHERE due_date <= $1
		  AND status IN ('PENDING', 'DUE', 'RETRYING')
		  AND attempt_count < $2
		  AND (last_attempt_at IS NULL OR last_attempt_at <= $3)
		ORDER BY due_date, sequence
	`
	rows, err := r.db.Query(ctx, q, now, maxAttempts, now.Add(-retryInterval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

// FindDueForReminder selects installments becoming due within the window
// that have not been reminded yet and are not already RETRYING or PAID.
func (r *installmentRepo) FindDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]*models.Installment, error) {
	q := baseSelectInstallment() + `
		WHERE due_date > $1
		  AND due_date <= $2
		  AND status IN ('PENDING', 'DUE')
		  AND reminder_sent_at IS NULL
		ORDER BY due_date, sequence
	`
	rows, err := r.db.Query(ctx, q, now, now.Add(window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *installmentRepo) CountUnpaidByPlan(ctx context.Context, planID uuid.UUID) (int, error) {
	var n int
	q := `SELECT COUNT(*) FROM installments WHERE plan_id = $1 AND status <> 'PAID'`
	err := r.db.QueryRow(ctx, q, planID).Scan(&n)
	return n, err
}

func (r *installmentRepo) collect(rows pgx.Rows) ([]*models.Installment, error) {
	var out []*models.Installment
	for rows.Next() {
		i, err := r.scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
