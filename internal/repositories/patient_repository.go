package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
)

type PatientRepository interface {
	Create(ctx context.Context, p *models.Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Patient, error)
	UpdateIfVersion(ctx context.Context, p *models.Patient, expectedVersion int64) (pgconn.CommandTag, error)
	UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Patient) error) error
}

type patientRepo struct {
	*BaseVersionedRepo[*models.Patient]
	db DB
}

func NewPatientRepository(db DB) PatientRepository {
	r := &patientRepo{db: db}
	selectStmt := baseSelectPatient() + " WHERE id = $1"
	r.BaseVersionedRepo = NewBaseRepo(db, selectStmt, r.scanPatient)
	return r
}

func (r *patientRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Patient, error) {
	return r.BaseVersionedRepo.GetByID(ctx, id.String())
}

func baseSelectPatient() string {
	return `
		SELECT id, first_name, last_name, email, phone_number,
		       processor_customer_id, payment_method_ref,
		       created_at, updated_at, row_version
		FROM patients
	`
}

func (r *patientRepo) scanPatient(row pgx.Row) (*models.Patient, error) {
	var p models.Patient
	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.PhoneNumber,
		&p.ProcessorCustomerID, &p.PaymentMethodRef,
		&p.CreatedAt, &p.UpdatedAt, &p.RowVersion,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepo) Create(ctx context.Context, p *models.Patient) error {
	q := `
		INSERT INTO patients (
			id, first_name, last_name, email, phone_number,
			processor_customer_id, payment_method_ref, created_at, updated_at, row_version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
	`
	_, err := r.db.Exec(ctx, q, p.ID, p.FirstName, p.LastName, p.Email, p.PhoneNumber,
		p.ProcessorCustomerID, p.PaymentMethodRef)
	return err
}

func (r *patientRepo) UpdateIfVersion(ctx context.Context, p *models.Patient, expectedVersion int64) (pgconn.CommandTag, error) {
	q := `
		UPDATE patients SET
			first_name = $1,
			last_name = $2,
			email = $3,
			phone_number = $4,
			processor_customer_id = $5,
			payment_method_ref = $6,
			updated_at = NOW(),
			row_version = row_version + 1
		WHERE id = $7 AND row_version = $8
	`
	return r.db.Exec(ctx, q, p.FirstName, p.LastName, p.Email, p.PhoneNumber,
		p.ProcessorCustomerID, p.PaymentMethodRef, p.ID, expectedVersion)
}

func (r *patientRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Patient) error) error {
	return r.BaseVersionedRepo.UpdateWithRetry(ctx, id.String(), mutate, r.UpdateIfVersion)
}
