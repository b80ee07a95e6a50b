package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/testutil"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

type planHarness struct {
	svc          *PlanService
	patients     *testutil.InMemPatientRepo
	invoices     *testutil.InMemInvoiceRepo
	plans        *testutil.InMemPlanRepo
	installments *testutil.InMemInstallmentRepo
	ledger       *testutil.InMemLedgerRepo
}

func newPlanHarness(t *testing.T) (*planHarness, *models.Patient, *models.Invoice) {
	t.Helper()
	h := &planHarness{
		patients:     testutil.NewInMemPatientRepo(),
		invoices:     testutil.NewInMemInvoiceRepo(),
		plans:        testutil.NewInMemPlanRepo(),
		installments: testutil.NewInMemInstallmentRepo(),
		ledger:       testutil.NewInMemLedgerRepo(),
	}
	h.svc = NewPlanService(h.plans, h.installments, h.patients, h.invoices, h.ledger)

	ctx := context.Background()
	patient := &models.Patient{ID: uuid.New(), FirstName: "Sam", LastName: "Ortiz"}
	require.NoError(t, h.patients.Create(ctx, patient))
	invoice := &models.Invoice{ID: uuid.New(), PatientID: patient.ID, Description: "24-visit care plan"}
	require.NoError(t, h.invoices.Create(ctx, invoice))
	return h, patient, invoice
}

func TestCreatePlanSplitsRemainderOntoFinalInstallment(t *testing.T) {
	h, patient, invoice := newPlanHarness(t)
	ctx := context.Background()
	firstDue := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	resp, err := h.svc.CreatePlan(ctx, dtos.CreatePaymentPlanRequest{
		PatientID:        patient.ID,
		InvoiceID:        invoice.ID,
		TotalAmountCents: 10000,
		InstallmentCount: 3,
		FirstDueDate:     firstDue,
	})
	require.NoError(t, err)
	require.Equal(t, string(models.PlanStatusActive), resp.Status)
	require.Equal(t, int64(3333), resp.InstallmentAmountCents)
	require.Len(t, resp.Installments, 3)

	require.Equal(t, int64(3333), resp.Installments[0].AmountCents)
	require.Equal(t, int64(3333), resp.Installments[1].AmountCents)
	require.Equal(t, int64(3334), resp.Installments[2].AmountCents)

	// Default interval is 30 days.
	require.Equal(t, firstDue, resp.Installments[0].DueDate)
	require.Equal(t, firstDue.AddDate(0, 0, 30), resp.Installments[1].DueDate)
	require.Equal(t, firstDue.AddDate(0, 0, 60), resp.Installments[2].DueDate)

	// Enrollment posts the invoice's CHARGE so the balance starts at the total.
	balance, err := h.ledger.BalanceForInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), balance)
}

func TestCreatePlanRejectsUnknownPatient(t *testing.T) {
	h, _, invoice := newPlanHarness(t)

	_, err := h.svc.CreatePlan(context.Background(), dtos.CreatePaymentPlanRequest{
		PatientID:        uuid.New(),
		InvoiceID:        invoice.ID,
		TotalAmountCents: 10000,
		InstallmentCount: 2,
		FirstDueDate:     time.Now().UTC(),
	})
	require.Error(t, err)

	var appErr *utils.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusNotFound, appErr.StatusCode)
	require.ErrorIs(t, err, utils.ErrPatientNotFound)
}

func TestCreatePlanRejectsMismatchedInvoice(t *testing.T) {
	h, _, invoice := newPlanHarness(t)
	ctx := context.Background()

	other := &models.Patient{ID: uuid.New(), FirstName: "Lee", LastName: "Nguyen"}
	require.NoError(t, h.patients.Create(ctx, other))

	_, err := h.svc.CreatePlan(ctx, dtos.CreatePaymentPlanRequest{
		PatientID:        other.ID,
		InvoiceID:        invoice.ID,
		TotalAmountCents: 10000,
		InstallmentCount: 2,
		FirstDueDate:     time.Now().UTC(),
	})
	require.Error(t, err)

	var appErr *utils.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.StatusCode)
}

func TestGetPlanReturnsSchedule(t *testing.T) {
	h, patient, invoice := newPlanHarness(t)
	ctx := context.Background()

	created, err := h.svc.CreatePlan(ctx, dtos.CreatePaymentPlanRequest{
		PatientID:        patient.ID,
		InvoiceID:        invoice.ID,
		TotalAmountCents: 30000,
		InstallmentCount: 2,
		FirstDueDate:     time.Now().UTC().AddDate(0, 0, 7),
	})
	require.NoError(t, err)

	got, err := h.svc.GetPlan(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Len(t, got.Installments, 2)
	require.Equal(t, 1, got.Installments[0].Sequence)
	require.Equal(t, 2, got.Installments[1].Sequence)
}

func TestGetPlanNotFound(t *testing.T) {
	h, _, _ := newPlanHarness(t)

	_, err := h.svc.GetPlan(context.Background(), uuid.New())
	require.ErrorIs(t, err, utils.ErrPlanNotFound)
}

func TestGetInvoiceBalanceSumsLedger(t *testing.T) {
	h, patient, invoice := newPlanHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreatePlan(ctx, dtos.CreatePaymentPlanRequest{
		PatientID:        patient.ID,
		InvoiceID:        invoice.ID,
		TotalAmountCents: 30000,
		InstallmentCount: 2,
		FirstDueDate:     time.Now().UTC(),
	})
	require.NoError(t, err)

	evtID := "evt_balance"
	_, err = h.ledger.Create(ctx, &models.LedgerEntry{
		ID:            uuid.New(),
		InvoiceID:     invoice.ID,
		PatientID:     patient.ID,
		Type:          models.LedgerEntryPayment,
		AmountCents:   -15000,
		SourceEventID: &evtID,
	})
	require.NoError(t, err)

	resp, err := h.svc.GetInvoiceBalance(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, int64(15000), resp.BalanceCents)
	require.Equal(t, 2, resp.EntryCount)
}
