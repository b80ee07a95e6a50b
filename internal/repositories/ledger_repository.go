package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
)

// LedgerRepository stores append-only monetary postings. There is no update
// or delete: corrections are new offsetting entries.
type LedgerRepository interface {
	// Create inserts an entry. Entries carrying a source event ID are
	// deduplicated on it, so replaying the same processor event posts at
	// most one entry. Returns true when a row was actually inserted.
	Create(ctx context.Context, e *models.LedgerEntry) (bool, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.LedgerEntry, error)
	BalanceForInvoice(ctx context.Context, invoiceID uuid.UUID) (int64, error)
	HasPaymentForInstallment(ctx context.Context, installmentID uuid.UUID) (bool, error)
}

type ledgerRepo struct {
	db DB
}

func NewLedgerRepository(db DB) LedgerRepository {
	return &ledgerRepo{db: db}
}

func baseSelectLedger() string {
	return `
		SELECT id, invoice_id, patient_id, installment_id, type, amount_cents,
		       description, source_event_id, posted_at
		FROM ledger_entries
	`
}

func (r *ledgerRepo) scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(
		&e.ID, &e.InvoiceID, &e.PatientID, &e.InstallmentID, &e.Type, &e.AmountCents,
		&e.Description, &e.SourceEventID, &e.PostedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *ledgerRepo) Create(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	q := `
		INSERT INTO ledger_entries (
			id, invoice_id, patient_id, installment_id, type, amount_cents,
			description, source_event_id, posted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (source_event_id) WHERE source_event_id IS NOT NULL DO NOTHING
	`
	tag, err := r.db.Exec(ctx, q, e.ID, e.InvoiceID, e.PatientID, e.InstallmentID,
		e.Type, e.AmountCents, e.Description, e.SourceEventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ledgerRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.LedgerEntry, error) {
	q := baseSelectLedger() + " WHERE invoice_id = $1 ORDER BY posted_at"
	rows, err := r.db.Query(ctx, q, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ledgerRepo) BalanceForInvoice(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	var balance int64
	q := `SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE invoice_id = $1`
	err := r.db.QueryRow(ctx, q, invoiceID).Scan(&balance)
	return balance, err
}

func (r *ledgerRepo) HasPaymentForInstallment(ctx context.Context, installmentID uuid.UUID) (bool, error) {
	var exists bool
	q := `SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE installment_id = $1 AND type = 'PAYMENT')`
	err := r.db.QueryRow(ctx, q, installmentID).Scan(&exists)
	return exists, err
}
