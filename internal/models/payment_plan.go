package models

import (
	"time"

	"github.com/google/uuid"
)

// PlanStatusType defines the possible states of a payment plan.
type PlanStatusType string

const (
	PlanStatusActive    PlanStatusType = "ACTIVE"
	PlanStatusCompleted PlanStatusType = "COMPLETED"
	PlanStatusDefaulted PlanStatusType = "DEFAULTED"
	PlanStatusCancelled PlanStatusType = "CANCELLED"
)

// IsTerminal reports whether the plan can no longer change state.
func (s PlanStatusType) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusDefaulted || s == PlanStatusCancelled
}

// PaymentPlan is an agreement to collect a total amount across scheduled
// installments. It is created at enrollment, mutated by each installment
// outcome, and terminal once COMPLETED, DEFAULTED, or CANCELLED.
type PaymentPlan struct {
	Versioned
	ID                     uuid.UUID      `json:"id"`
	PatientID              uuid.UUID      `json:"patient_id"`
	InvoiceID              uuid.UUID      `json:"invoice_id"`
	TotalAmountCents       int64          `json:"total_amount_cents"`
	InstallmentCount       int            `json:"installment_count"`
	InstallmentAmountCents int64          `json:"installment_amount_cents"`
	Status                 PlanStatusType `json:"status"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

func (p *PaymentPlan) GetID() string {
	return p.ID.String()
}
