package dtos

import (
	"time"

	"github.com/google/uuid"
)

// CreatePaymentPlanRequest enrolls a patient's invoice into an installment
// plan. The total must divide evenly into the installment count; any
// remainder cents are folded into the final installment.
type CreatePaymentPlanRequest struct {
	PatientID        uuid.UUID `json:"patientId" validate:"required"`
	InvoiceID        uuid.UUID `json:"invoiceId" validate:"required"`
	TotalAmountCents int64     `json:"totalAmountCents" validate:"required,min=100"`
	InstallmentCount int       `json:"installmentCount" validate:"required,min=2,max=24"`
	FirstDueDate     time.Time `json:"firstDueDate" validate:"required"`
	IntervalDays     int       `json:"intervalDays" validate:"omitempty,min=7,max=62"`
}

type InstallmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	Sequence          int        `json:"sequence"`
	AmountCents       int64      `json:"amountCents"`
	DueDate           time.Time  `json:"dueDate"`
	Status            string     `json:"status"`
	AttemptCount      int        `json:"attemptCount"`
	LastAttemptAt     *time.Time `json:"lastAttemptAt,omitempty"`
	LastFailureReason *string    `json:"lastFailureReason,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
}

type PaymentPlanResponse struct {
	ID                     uuid.UUID             `json:"id"`
	PatientID              uuid.UUID             `json:"patientId"`
	InvoiceID              uuid.UUID             `json:"invoiceId"`
	TotalAmountCents       int64                 `json:"totalAmountCents"`
	InstallmentCount       int                   `json:"installmentCount"`
	InstallmentAmountCents int64                 `json:"installmentAmountCents"`
	Status                 string                `json:"status"`
	CreatedAt              time.Time             `json:"createdAt"`
	Installments           []InstallmentResponse `json:"installments,omitempty"`
}

// InvoiceBalanceResponse reports the signed ledger sum for an invoice.
// A positive balance is money still owed; zero or negative is settled.
type InvoiceBalanceResponse struct {
	InvoiceID    uuid.UUID `json:"invoiceId"`
	BalanceCents int64     `json:"balanceCents"`
	EntryCount   int       `json:"entryCount"`
}
