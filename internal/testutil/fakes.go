// Package testutil provides in-memory repository fakes mirroring the
// Postgres repositories' semantics, including optimistic-lock versioning
// and natural-key deduplication, for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
)

var updatedTag = pgconn.CommandTag("UPDATE 1")

// ---------------------------------------------------------------- patients

type InMemPatientRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]models.Patient
}

func NewInMemPatientRepo() *InMemPatientRepo {
	return &InMemPatientRepo{patients: make(map[uuid.UUID]models.Patient)}
}

func (r *InMemPatientRepo) Create(ctx context.Context, p *models.Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.RowVersion == 0 {
		p.RowVersion = 1
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *InMemPatientRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (r *InMemPatientRepo) UpdateIfVersion(ctx context.Context, p *models.Patient, expectedVersion int64) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.patients[p.ID]
	if !ok || cur.RowVersion != expectedVersion {
		return pgconn.CommandTag("UPDATE 0"), nil
	}
	p.RowVersion = expectedVersion + 1
	r.patients[p.ID] = *p
	return updatedTag, nil
}

func (r *InMemPatientRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Patient) error) error {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return pgx.ErrNoRows
	}
	if err := mutate(p); err != nil {
		return err
	}
	_, err = r.UpdateIfVersion(ctx, p, p.RowVersion)
	return err
}

// ---------------------------------------------------------------- invoices

type InMemInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]models.Invoice
}

func NewInMemInvoiceRepo() *InMemInvoiceRepo {
	return &InMemInvoiceRepo{invoices: make(map[uuid.UUID]models.Invoice)}
}

func (r *InMemInvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.RowVersion == 0 {
		inv.RowVersion = 1
	}
	r.invoices[inv.ID] = *inv
	return nil
}

func (r *InMemInvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, nil
	}
	cp := inv
	return &cp, nil
}

func (r *InMemInvoiceRepo) UpdateIfVersion(ctx context.Context, inv *models.Invoice, expectedVersion int64) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.invoices[inv.ID]
	if !ok || cur.RowVersion != expectedVersion {
		return pgconn.CommandTag("UPDATE 0"), nil
	}
	inv.RowVersion = expectedVersion + 1
	r.invoices[inv.ID] = *inv
	return updatedTag, nil
}

func (r *InMemInvoiceRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Invoice) error) error {
	inv, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv == nil {
		return pgx.ErrNoRows
	}
	if err := mutate(inv); err != nil {
		return err
	}
	_, err = r.UpdateIfVersion(ctx, inv, inv.RowVersion)
	return err
}

// ------------------------------------------------------------------- plans

type InMemPlanRepo struct {
	mu    sync.Mutex
	plans map[uuid.UUID]models.PaymentPlan
}

func NewInMemPlanRepo() *InMemPlanRepo {
	return &InMemPlanRepo{plans: make(map[uuid.UUID]models.PaymentPlan)}
}

func (r *InMemPlanRepo) Create(ctx context.Context, p *models.PaymentPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.RowVersion == 0 {
		p.RowVersion = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	r.plans[p.ID] = *p
	return nil
}

func (r *InMemPlanRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.PaymentPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (r *InMemPlanRepo) UpdateIfVersion(ctx context.Context, p *models.PaymentPlan, expectedVersion int64) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.plans[p.ID]
	if !ok || cur.RowVersion != expectedVersion {
		return pgconn.CommandTag("UPDATE 0"), nil
	}
	p.RowVersion = expectedVersion + 1
	r.plans[p.ID] = *p
	return updatedTag, nil
}

func (r *InMemPlanRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.PaymentPlan) error) error {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return pgx.ErrNoRows
	}
	if err := mutate(p); err != nil {
		return err
	}
	_, err = r.UpdateIfVersion(ctx, p, p.RowVersion)
	return err
}

// ------------------------------------------------------------ installments

type InMemInstallmentRepo struct {
	mu           sync.Mutex
	installments map[uuid.UUID]models.Installment
}

func NewInMemInstallmentRepo() *InMemInstallmentRepo {
	return &InMemInstallmentRepo{installments: make(map[uuid.UUID]models.Installment)}
}

func (r *InMemInstallmentRepo) Create(ctx context.Context, i *models.Installment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mirror ON CONFLICT (plan_id, sequence) DO NOTHING.
	for _, existing := range r.installments {
		if existing.PlanID == i.PlanID && existing.Sequence == i.Sequence {
			return nil
		}
	}
	if i.RowVersion == 0 {
		i.RowVersion = 1
	}
	if i.Status == "" {
		i.Status = models.InstallmentStatusPending
	}
	r.installments[i.ID] = *i
	return nil
}

func (r *InMemInstallmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.installments[id]
	if !ok {
		return nil, nil
	}
	cp := i
	return &cp, nil
}

func (r *InMemInstallmentRepo) GetByProviderRef(ctx context.Context, providerRef string) (*models.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.installments {
		if i.ProviderRef != nil && *i.ProviderRef == providerRef {
			cp := i
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *InMemInstallmentRepo) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*models.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Installment
	for _, i := range r.installments {
		if i.PlanID == planID {
			cp := i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Sequence < out[b].Sequence })
	return out, nil
}

func (r *InMemInstallmentRepo) UpdateIfVersion(ctx context.Context, i *models.Installment, expectedVersion int64) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.installments[i.ID]
	if !ok || cur.RowVersion != expectedVersion {
		return pgconn.CommandTag("UPDATE 0"), nil
	}
	i.RowVersion = expectedVersion + 1
	r.installments[i.ID] = *i
	return updatedTag, nil
}

func (r *InMemInstallmentRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.Installment) error) error {
	i, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if i == nil {
		return pgx.ErrNoRows
	}
	if err := mutate(i); err != nil {
		return err
	}
	_, err = r.UpdateIfVersion(ctx, i, i.RowVersion)
	return err
}

func (r *InMemInstallmentRepo) FindDueForCharge(ctx context.Context, now time.Time, maxAttempts int, retryInterval time.Duration) ([]*models.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-retryInterval)
	var out []*models.Installment
	for _, i := range r.installments {
		if i.DueDate.After(now) {
			continue
		}
		switch i.Status {
		case models.InstallmentStatusPending, models.InstallmentStatusDue, models.InstallmentStatusRetrying:
		default:
			continue
		}
		if i.AttemptCount >= maxAttempts {
			continue
		}
		if i.LastAttemptAt != nil && i.LastAttemptAt.After(cutoff) {
			continue
		}
		cp := i
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].DueDate.Equal(out[b].DueDate) {
			return out[a].DueDate.Before(out[b].DueDate)
		}
		return out[a].Sequence < out[b].Sequence
	})
	return out, nil
}

func (r *InMemInstallmentRepo) FindDueForReminder(ctx context.Context, now time.Time, window time.Duration) ([]*models.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := now.Add(window)
	var out []*models.Installment
	for _, i := range r.installments {
		if !i.DueDate.After(now) || i.DueDate.After(limit) {
			continue
		}
		if i.Status != models.InstallmentStatusPending && i.Status != models.InstallmentStatusDue {
			continue
		}
		if i.ReminderSentAt != nil {
			continue
		}
		cp := i
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DueDate.Before(out[b].DueDate) })
	return out, nil
}

func (r *InMemInstallmentRepo) CountUnpaidByPlan(ctx context.Context, planID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.installments {
		if i.PlanID == planID && i.Status != models.InstallmentStatusPaid {
			n++
		}
	}
	return n, nil
}

// ------------------------------------------------------------------ ledger

type InMemLedgerRepo struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
}

func NewInMemLedgerRepo() *InMemLedgerRepo {
	return &InMemLedgerRepo{}
}

func (r *InMemLedgerRepo) Create(ctx context.Context, e *models.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.SourceEventID != nil {
		for _, existing := range r.entries {
			if existing.SourceEventID != nil && *existing.SourceEventID == *e.SourceEventID {
				return false, nil
			}
		}
	}
	if e.PostedAt.IsZero() {
		e.PostedAt = time.Now().UTC()
	}
	r.entries = append(r.entries, *e)
	return true, nil
}

func (r *InMemLedgerRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.LedgerEntry
	for i := range r.entries {
		if r.entries[i].InvoiceID == invoiceID {
			cp := r.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemLedgerRepo) BalanceForInvoice(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, e := range r.entries {
		if e.InvoiceID == invoiceID {
			sum += e.AmountCents
		}
	}
	return sum, nil
}

func (r *InMemLedgerRepo) HasPaymentForInstallment(ctx context.Context, installmentID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.InstallmentID != nil && *e.InstallmentID == installmentID && e.Type == models.LedgerEntryPayment {
			return true, nil
		}
	}
	return false, nil
}

// Entries returns a snapshot of every posted entry.
func (r *InMemLedgerRepo) Entries() []models.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.LedgerEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// ---------------------------------------------------------- webhook events

type InMemWebhookEventRepo struct {
	mu     sync.Mutex
	events map[string]models.WebhookEvent
}

func NewInMemWebhookEventRepo() *InMemWebhookEventRepo {
	return &InMemWebhookEventRepo{events: make(map[string]models.WebhookEvent)}
}

func (r *InMemWebhookEventRepo) GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[eventID]
	if !ok {
		return nil, nil
	}
	cp := e
	return &cp, nil
}

func (r *InMemWebhookEventRepo) MarkProcessed(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[e.EventID]; exists {
		return false, nil
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	r.events[e.EventID] = *e
	return true, nil
}

// ------------------------------------------------------------- run lease

type InMemBillingRunRepo struct {
	mu     sync.Mutex
	leases map[string]struct {
		holder    string
		expiresAt time.Time
	}
}

func NewInMemBillingRunRepo() *InMemBillingRunRepo {
	return &InMemBillingRunRepo{leases: make(map[string]struct {
		holder    string
		expiresAt time.Time
	})}
}

func (r *InMemBillingRunRepo) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, held := r.leases[name]
	if held && cur.expiresAt.After(time.Now()) {
		return false, nil
	}
	r.leases[name] = struct {
		holder    string
		expiresAt time.Time
	}{holder: holder, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (r *InMemBillingRunRepo) ReleaseLease(ctx context.Context, name, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, held := r.leases[name]; held && cur.holder == holder {
		delete(r.leases, name)
	}
	return nil
}

// HoldLease takes the lease directly, for conflict tests.
func (r *InMemBillingRunRepo) HoldLease(name, holder string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leases[name] = struct {
		holder    string
		expiresAt time.Time
	}{holder: holder, expiresAt: time.Now().Add(ttl)}
}

// ---------------------------------------------------------------- notifier

// FakeNotifier records notification calls instead of sending anything.
type FakeNotifier struct {
	mu                sync.Mutex
	Reminders         []uuid.UUID
	InstallmentAlerts []uuid.UUID
	PlanDefaultAlerts []uuid.UUID
}

func (n *FakeNotifier) SendInstallmentReminder(patient *models.Patient, inst *models.Installment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Reminders = append(n.Reminders, inst.ID)
}

func (n *FakeNotifier) AlertStaffInstallmentFailed(patient *models.Patient, inst *models.Installment, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.InstallmentAlerts = append(n.InstallmentAlerts, inst.ID)
}

func (n *FakeNotifier) AlertStaffPlanDefaulted(patient *models.Patient, plan *models.PaymentPlan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.PlanDefaultAlerts = append(n.PlanDefaultAlerts, plan.ID)
}
