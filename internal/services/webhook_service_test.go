package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/gateway"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/testutil"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

const testWebhookSecret = "test-webhook-secret"

type webhookHarness struct {
	svc           *WebhookService
	patients      *testutil.InMemPatientRepo
	invoices      *testutil.InMemInvoiceRepo
	plans         *testutil.InMemPlanRepo
	installments  *testutil.InMemInstallmentRepo
	ledger        *testutil.InMemLedgerRepo
	webhookEvents *testutil.InMemWebhookEventRepo
	notifier      *testutil.FakeNotifier

	patient *models.Patient
	invoice *models.Invoice
	plan    *models.PaymentPlan
	inst1   *models.Installment
	inst2   *models.Installment
}

func newWebhookHarness(t *testing.T) *webhookHarness {
	t.Helper()
	h := &webhookHarness{
		patients:      testutil.NewInMemPatientRepo(),
		invoices:      testutil.NewInMemInvoiceRepo(),
		plans:         testutil.NewInMemPlanRepo(),
		installments:  testutil.NewInMemInstallmentRepo(),
		ledger:        testutil.NewInMemLedgerRepo(),
		webhookEvents: testutil.NewInMemWebhookEventRepo(),
		notifier:      &testutil.FakeNotifier{},
	}
	mockGw := gateway.NewMockGateway(testWebhookSecret)
	h.svc = NewWebhookService(
		[]gateway.WebhookVerifier{mockGw},
		h.webhookEvents, h.installments, h.plans, h.patients, h.invoices, h.ledger, h.notifier,
	)

	ctx := context.Background()
	h.patient = &models.Patient{ID: uuid.New(), FirstName: "Dana", LastName: "Reyes"}
	require.NoError(t, h.patients.Create(ctx, h.patient))

	h.invoice = &models.Invoice{ID: uuid.New(), PatientID: h.patient.ID, Description: "12-visit care plan"}
	require.NoError(t, h.invoices.Create(ctx, h.invoice))

	h.plan = &models.PaymentPlan{
		ID:                     uuid.New(),
		PatientID:              h.patient.ID,
		InvoiceID:              h.invoice.ID,
		TotalAmountCents:       30000,
		InstallmentCount:       2,
		InstallmentAmountCents: 15000,
		Status:                 models.PlanStatusActive,
	}
	require.NoError(t, h.plans.Create(ctx, h.plan))

	due := time.Now().UTC().AddDate(0, 0, -1)
	h.inst1 = &models.Installment{
		ID: uuid.New(), PlanID: h.plan.ID, PatientID: h.patient.ID, InvoiceID: h.invoice.ID,
		Sequence: 1, AmountCents: 15000, DueDate: due, Status: models.InstallmentStatusPending,
	}
	h.inst2 = &models.Installment{
		ID: uuid.New(), PlanID: h.plan.ID, PatientID: h.patient.ID, InvoiceID: h.invoice.ID,
		Sequence: 2, AmountCents: 15000, DueDate: due.AddDate(0, 1, 0), Status: models.InstallmentStatusPending,
	}
	require.NoError(t, h.installments.Create(ctx, h.inst1))
	require.NoError(t, h.installments.Create(ctx, h.inst2))
	return h
}

type mockEvent struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	InstallmentID string `json:"installment_id,omitempty"`
	InvoiceID     string `json:"invoice_id,omitempty"`
	PatientID     string `json:"patient_id,omitempty"`
	AmountCents   int64  `json:"amount_cents"`
	ProviderRef   string `json:"provider_ref,omitempty"`
	FailureCode   string `json:"failure_code,omitempty"`
}

func signedPayload(t *testing.T, evt mockEvent) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return payload, gateway.SignPayload(testWebhookSecret, payload)
}

func TestIngestPaymentSucceededMarksInstallmentPaid(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	payload, sig := signedPayload(t, mockEvent{
		ID:            "evt_001",
		Type:          "payment_succeeded",
		InstallmentID: h.inst1.ID.String(),
		AmountCents:   15000,
		ProviderRef:   "pi_abc",
	})
	outcome, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)
	require.True(t, outcome.Processed)
	require.False(t, outcome.Skipped)

	inst, err := h.installments.GetByID(ctx, h.inst1.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusPaid, inst.Status)
	require.NotNil(t, inst.PaidAt)
	require.NotNil(t, inst.ProviderRef)
	require.Equal(t, "pi_abc", *inst.ProviderRef)

	entries := h.ledger.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, models.LedgerEntryPayment, entries[0].Type)
	require.Equal(t, int64(-15000), entries[0].AmountCents)
	require.Equal(t, "evt_001", *entries[0].SourceEventID)

	// One installment still unpaid, so the plan stays ACTIVE.
	plan, err := h.plans.GetByID(ctx, h.plan.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusActive, plan.Status)
}

func TestIngestFinalPaymentCompletesPlan(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	for i, inst := range []*models.Installment{h.inst1, h.inst2} {
		payload, sig := signedPayload(t, mockEvent{
			ID:            fmt.Sprintf("evt_%03d", i+1),
			Type:          "payment_succeeded",
			InstallmentID: inst.ID.String(),
			AmountCents:   15000,
		})
		_, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
		require.NoError(t, err)
	}

	plan, err := h.plans.GetByID(ctx, h.plan.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusCompleted, plan.Status)
}

func TestIngestDuplicateEventIsSkipped(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	payload, sig := signedPayload(t, mockEvent{
		ID:            "evt_dup",
		Type:          "payment_succeeded",
		InstallmentID: h.inst1.ID.String(),
		AmountCents:   15000,
	})

	first, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)
	require.True(t, first.Processed)

	second, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.False(t, second.Processed)

	require.Len(t, h.ledger.Entries(), 1)
}

func TestIngestDistinctSuccessEventsDoNotDoubleCredit(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b"} {
		payload, sig := signedPayload(t, mockEvent{
			ID:            id,
			Type:          "payment_succeeded",
			InstallmentID: h.inst1.ID.String(),
			AmountCents:   15000,
		})
		_, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
		require.NoError(t, err)
	}

	var payments int
	for _, e := range h.ledger.Entries() {
		if e.Type == models.LedgerEntryPayment {
			payments++
		}
	}
	require.Equal(t, 1, payments)
}

func TestIngestTamperedSignatureMutatesNothing(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	payload, _ := signedPayload(t, mockEvent{
		ID:            "evt_bad",
		Type:          "payment_succeeded",
		InstallmentID: h.inst1.ID.String(),
		AmountCents:   15000,
	})

	_, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, "deadbeef")
	require.ErrorIs(t, err, utils.ErrSignatureVerification)

	inst, err := h.installments.GetByID(ctx, h.inst1.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusPending, inst.Status)
	require.Empty(t, h.ledger.Entries())

	marker, err := h.webhookEvents.GetByEventID(ctx, "evt_bad")
	require.NoError(t, err)
	require.Nil(t, marker)
}

func TestIngestUnknownProcessorRejected(t *testing.T) {
	h := newWebhookHarness(t)
	_, err := h.svc.IngestWebhook(context.Background(), "paypal", []byte("{}"), "sig")
	require.ErrorIs(t, err, utils.ErrUnknownProcessor)
}

func TestIngestUnhandledEventTypeAckedWithoutEffect(t *testing.T) {
	h := newWebhookHarness(t)
	payload, sig := signedPayload(t, mockEvent{ID: "evt_other", Type: "customer.updated"})

	outcome, err := h.svc.IngestWebhook(context.Background(), gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)
	require.True(t, outcome.Skipped)
	require.False(t, outcome.Processed)
	require.Empty(t, h.ledger.Entries())
}

func TestIngestPaymentFailedSetsRetrying(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	payload, sig := signedPayload(t, mockEvent{
		ID:            "evt_fail",
		Type:          "payment_failed",
		InstallmentID: h.inst1.ID.String(),
		FailureCode:   "card_declined",
	})
	_, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)

	inst, err := h.installments.GetByID(ctx, h.inst1.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusRetrying, inst.Status)
	require.Equal(t, "card_declined", *inst.LastFailureReason)
}

func TestIngestTerminalFailureDefaultsPlan(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	// The scheduler has already burned the attempt budget; the processor's
	// asynchronous verdict on the last attempt arrives by webhook.
	err := h.installments.UpdateWithRetry(ctx, h.inst1.ID, func(i *models.Installment) error {
		i.Status = models.InstallmentStatusRetrying
		i.AttemptCount = constants.DefaultMaxRetryAttempts
		return nil
	})
	require.NoError(t, err)

	payload, sig := signedPayload(t, mockEvent{
		ID:            "evt_final_fail",
		Type:          "payment_failed",
		InstallmentID: h.inst1.ID.String(),
		FailureCode:   "card_declined",
	})
	_, err = h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)

	inst, err := h.installments.GetByID(ctx, h.inst1.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusFailed, inst.Status)

	plan, err := h.plans.GetByID(ctx, h.plan.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusDefaulted, plan.Status)
	require.Contains(t, h.notifier.PlanDefaultAlerts, h.plan.ID)
}

func TestIngestLateFailureNeverDemotesPaid(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	payload, sig := signedPayload(t, mockEvent{
		ID:            "evt_ok",
		Type:          "payment_succeeded",
		InstallmentID: h.inst1.ID.String(),
		AmountCents:   15000,
	})
	_, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)

	payload, sig = signedPayload(t, mockEvent{
		ID:            "evt_late_fail",
		Type:          "payment_failed",
		InstallmentID: h.inst1.ID.String(),
		FailureCode:   "card_declined",
	})
	_, err = h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)

	inst, err := h.installments.GetByID(ctx, h.inst1.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusPaid, inst.Status)
	require.Nil(t, inst.LastFailureReason)
}

func TestIngestRefundResolvedByProviderRef(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	// Collect the installment first so the provider ref is on record.
	payload, sig := signedPayload(t, mockEvent{
		ID:            "evt_pay",
		Type:          "payment_succeeded",
		InstallmentID: h.inst1.ID.String(),
		AmountCents:   15000,
		ProviderRef:   "pi_refundable",
	})
	_, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)

	payload, sig = signedPayload(t, mockEvent{
		ID:          "evt_refund",
		Type:        "refund",
		AmountCents: 15000,
		ProviderRef: "pi_refundable",
	})
	_, err = h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)

	entries := h.ledger.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, models.LedgerEntryRefund, entries[1].Type)
	require.Equal(t, int64(15000), entries[1].AmountCents)
	require.Equal(t, h.invoice.ID, entries[1].InvoiceID)

	// Payment and refund cancel out.
	balance, err := h.ledger.BalanceForInvoice(ctx, h.invoice.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)
}

func TestIngestDisputeFlagsInvoiceForReview(t *testing.T) {
	h := newWebhookHarness(t)
	ctx := context.Background()

	payload, sig := signedPayload(t, mockEvent{
		ID:            "evt_dispute",
		Type:          "dispute",
		InstallmentID: h.inst1.ID.String(),
		AmountCents:   15000,
		FailureCode:   "fraudulent",
	})
	_, err := h.svc.IngestWebhook(ctx, gateway.ProcessorMock, payload, sig)
	require.NoError(t, err)

	inv, err := h.invoices.GetByID(ctx, h.invoice.ID)
	require.NoError(t, err)
	require.True(t, inv.ReviewFlagged)
	require.NotNil(t, inv.ReviewReason)

	entries := h.ledger.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, models.LedgerEntryAdjustment, entries[0].Type)
}
