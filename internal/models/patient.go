package models

import (
	"time"

	"github.com/google/uuid"
)

// Patient is the billing profile for a patient: contact details plus the
// payment-processor references needed to charge a stored payment method.
type Patient struct {
	Versioned
	ID                  uuid.UUID `json:"id"`
	FirstName           string    `json:"first_name"`
	LastName            string    `json:"last_name"`
	Email               string    `json:"email"`
	PhoneNumber         *string   `json:"phone_number,omitempty"`
	ProcessorCustomerID *string   `json:"processor_customer_id,omitempty"`
	PaymentMethodRef    *string   `json:"payment_method_ref,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (p *Patient) GetID() string {
	return p.ID.String()
}
