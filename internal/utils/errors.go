package utils

import (
	"errors"
	"net/http"
)

/*
   Sentinel errors for billing domain logic.
   The controller can do: if errors.Is(err, ErrXYZ) { ... }
*/
var (
	ErrSignatureVerification = errors.New("signature_invalid")
	ErrUnknownProcessor      = errors.New("unknown_processor")
	ErrInstallmentNotFound   = errors.New("installment_not_found")
	ErrPatientNotFound       = errors.New("patient_not_found")
	ErrPlanNotFound          = errors.New("plan_not_found")
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrRunInProgress         = errors.New("billing_run_in_progress")
	ErrMissingPaymentMethod  = errors.New("missing_payment_method")

	// For concurrency conflicts
	ErrRowVersionConflict = errors.New("row_version_conflict")

	ErrNoRowsUpdated = errors.New("no_rows_updated")

	// For external service failures (e.g., Twilio, SendGrid)
	ErrExternalServiceFailure = errors.New("external_service_failure")
)

// AppError for structured error handling from services to controllers.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HandleAppError centralizes responding to AppErrors.
func HandleAppError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		RespondErrorWithCode(w, appErr.StatusCode, appErr.Code, appErr.Message, nil, appErr.Err)
	} else {
		// Fallback for unexpected error types
		RespondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred", nil, err)
	}
}
