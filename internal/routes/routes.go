package routes

const (
	Health = "/health"

	BillingWebhook = "/api/v1/billing/webhook"
	BillingRun     = "/api/v1/billing/run"

	BillingPlans          = "/api/v1/billing/plans"
	BillingPlanByID       = "/api/v1/billing/plans/{id}"
	BillingInvoiceBalance = "/api/v1/billing/invoices/{id}/balance"
)
