package constants

import "time"

// Billing retry policy defaults. Each is overridable per invocation of the
// billing run through the job endpoint's query parameters.
const (
	DefaultMaxRetryAttempts  = 3
	DefaultRetryIntervalDays = 2
	DefaultReminderDays      = 3

	DefaultCurrency = "usd"
)

// Failure reasons recorded on installments for non-processor failures.
const (
	ReasonPatientNotFound      = "patient_record_not_found"
	ReasonMissingPaymentMethod = "patient_missing_payment_method"
	ReasonGatewayUnavailable   = "gateway_unavailable"
)

// Billing run scheduling, lease, and reporting.
const (
	BillingRunLeaseName = "billing-run"
	BillingRunLeaseTTL  = 15 * time.Minute
	BillingRunTimeout   = 10 * time.Minute
	BillingCronSpec     = "0 9 * * *" // 09:00 UTC daily

	// Per-item errors reported by one run are capped at this many entries.
	MaxRunErrors = 25
)

// Email subjects for staff alerts.
const (
	EmailSubjectInstallmentDefaulted = "Payment plan installment failed for patient %s"
	EmailSubjectPlanDefaulted        = "Payment plan DEFAULTED for patient %s"
)

// Webhook signature headers per processor.
const (
	HeaderStripeSignature = "Stripe-Signature"
	HeaderSquareSignature = "X-Square-HmacSHA256-Signature"
	HeaderMockSignature   = "X-Mock-Signature"
)
