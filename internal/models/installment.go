package models

import (
	"time"

	"github.com/google/uuid"
)

// InstallmentStatusType defines the possible states of an installment.
type InstallmentStatusType string

const (
	InstallmentStatusPending  InstallmentStatusType = "PENDING"
	InstallmentStatusDue      InstallmentStatusType = "DUE"
	InstallmentStatusPaid     InstallmentStatusType = "PAID"
	InstallmentStatusFailed   InstallmentStatusType = "FAILED"
	InstallmentStatusRetrying InstallmentStatusType = "RETRYING"
)

// Installment is one scheduled charge within a payment plan.
//
// Invariants: AttemptCount never exceeds the configured maximum retry
// attempts, and a PAID installment is immutable thereafter.
type Installment struct {
	Versioned
	ID                uuid.UUID             `json:"id"`
	PlanID            uuid.UUID             `json:"plan_id"`
	PatientID         uuid.UUID             `json:"patient_id"`
	InvoiceID         uuid.UUID             `json:"invoice_id"`
	Sequence          int                   `json:"sequence"`
	AmountCents       int64                 `json:"amount_cents"`
	DueDate           time.Time             `json:"due_date"`
	Status            InstallmentStatusType `json:"status"`
	AttemptCount      int                   `json:"attempt_count"`
	LastAttemptAt     *time.Time            `json:"last_attempt_at,omitempty"`
	LastFailureReason *string               `json:"last_failure_reason,omitempty"`
	ReminderSentAt    *time.Time            `json:"reminder_sent_at,omitempty"`
	PaidAt            *time.Time            `json:"paid_at,omitempty"`
	ProviderRef       *string               `json:"provider_ref,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

func (i *Installment) GetID() string {
	return i.ID.String()
}

// Chargeable reports whether the installment may still be attempted.
func (i *Installment) Chargeable(maxAttempts int) bool {
	switch i.Status {
	case InstallmentStatusPending, InstallmentStatusDue, InstallmentStatusRetrying:
		return i.AttemptCount < maxAttempts
	default:
		return false
	}
}
