package models

import (
	"time"

	"github.com/google/uuid"
)

// Invoice groups ledger entries for a course of care. Its outstanding
// balance is derived from the ledger, never stored.
type Invoice struct {
	Versioned
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Description   string    `json:"description"`
	ReviewFlagged bool      `json:"review_flagged"`
	ReviewReason  *string   `json:"review_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (i *Invoice) GetID() string {
	return i.ID.String()
}
