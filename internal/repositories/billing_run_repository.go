package repositories

import (
	"context"
	"time"
)

// BillingRunRepository implements the lease guarding billing run
// invocations. A run acquires the named lease before processing; an
// invocation that cannot acquire it reports a conflict instead of
// double-charging installments already in flight.
type BillingRunRepository interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

type billingRunRepo struct {
	db DB
}

func NewBillingRunRepository(db DB) BillingRunRepository {
	return &billingRunRepo{db: db}
}

// AcquireLease takes the lease when it is free or expired. The expiry bounds
// the damage of a crashed holder: a stale lease is simply overwritten.
func (r *billingRunRepo) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	q := `
		INSERT INTO billing_run_leases (name, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
			SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
			WHERE billing_run_leases.expires_at < NOW()
	`
	tag, err := r.db.Exec(ctx, q, name, holder, time.Now().UTC().Add(ttl))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *billingRunRepo) ReleaseLease(ctx context.Context, name, holder string) error {
	q := `DELETE FROM billing_run_leases WHERE name = $1 AND holder = $2`
	_, err := r.db.Exec(ctx, q, name, holder)
	return err
}
