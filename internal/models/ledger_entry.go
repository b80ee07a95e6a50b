package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType classifies a monetary posting.
type LedgerEntryType string

const (
	LedgerEntryCharge     LedgerEntryType = "CHARGE"
	LedgerEntryPayment    LedgerEntryType = "PAYMENT"
	LedgerEntryRefund     LedgerEntryType = "REFUND"
	LedgerEntryAdjustment LedgerEntryType = "ADJUSTMENT"
)

// LedgerEntry is an immutable monetary posting tied to a patient/invoice.
// The sum of entries for an invoice determines its outstanding balance.
// Entries are append-only; corrections are new offsetting entries.
//
// AmountCents is signed: charges are positive, payments and refunds to the
// patient carry the sign that moves the balance the right way (a PAYMENT is
// negative, a REFUND re-adds the refunded amount).
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
	Type          LedgerEntryType `json:"type"`
	AmountCents   int64           `json:"amount_cents"`
	Description   string          `json:"description"`
	SourceEventID *string         `json:"source_event_id,omitempty"`
	PostedAt      time.Time       `json:"posted_at"`
}
