package gateway

import (
	"context"

	"github.com/google/uuid"
)

// Processor names accepted by the webhook endpoint's selector.
const (
	ProcessorStripe = "stripe"
	ProcessorSquare = "square"
	ProcessorMock   = "mock"
)

// EventType is the processor-neutral classification of a webhook event.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventRefund           EventType = "refund"
	EventDispute          EventType = "dispute"
	// EventIgnored marks authentic events this service has no handler for.
	EventIgnored EventType = "ignored"
)

// Event is the neutral form every verifier translates its processor's
// payload into. IDs the processor did not carry are left zero; the ingestion
// service resolves the invoice through the installment when needed.
type Event struct {
	ID            string
	Type          EventType
	RawType       string
	InstallmentID uuid.UUID
	InvoiceID     uuid.UUID
	PatientID     uuid.UUID
	AmountCents   int64
	ProviderRef   string
	FailureCode   string
}

// ChargeRequest asks the processor to charge a stored payment method.
type ChargeRequest struct {
	InstallmentID    uuid.UUID
	InvoiceID        uuid.UUID
	PatientID        uuid.UUID
	AmountCents      int64
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	IdempotencyKey   string
	Description      string
}

// ChargeResult reports the synchronous outcome of a charge attempt.
// A decline is not an error: Paid is false and FailureCode is set.
// Errors are reserved for transport/API failures.
type ChargeResult struct {
	ProviderRef string
	Paid        bool
	FailureCode string
}

// PaymentGateway is the charge capability. The billing engine treats it as
// an injected collaborator and never branches on processor identity.
type PaymentGateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// WebhookVerifier authenticates a raw webhook body against its signature
// header and translates the payload into a neutral Event. Implementations
// must verify over the exact raw bytes.
type WebhookVerifier interface {
	Name() string
	VerifyAndParse(payload []byte, sigHeader string) (*Event, error)
}

// Metadata keys attached to outbound charges so webhook deliveries can be
// traced back to the originating installment.
const (
	MetadataInstallmentIDKey = "installment_id"
	MetadataInvoiceIDKey     = "invoice_id"
	MetadataPatientIDKey     = "patient_id"
)
