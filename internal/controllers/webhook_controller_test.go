package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/gateway"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/routes"
	"github.com/alarconm/chiroflow-landing-sub015/internal/services"
	"github.com/alarconm/chiroflow-landing-sub015/internal/testutil"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

const testSecret = "controller-test-secret"

func newWebhookTestServer(t *testing.T) (*httptest.Server, *testutil.InMemInstallmentRepo, *testutil.InMemLedgerRepo, *models.Installment) {
	t.Helper()

	patients := testutil.NewInMemPatientRepo()
	invoices := testutil.NewInMemInvoiceRepo()
	plans := testutil.NewInMemPlanRepo()
	installments := testutil.NewInMemInstallmentRepo()
	ledger := testutil.NewInMemLedgerRepo()
	webhookEvents := testutil.NewInMemWebhookEventRepo()

	ctx := context.Background()
	patient := &models.Patient{ID: uuid.New(), FirstName: "Ana", LastName: "Silva"}
	require.NoError(t, patients.Create(ctx, patient))
	invoice := &models.Invoice{ID: uuid.New(), PatientID: patient.ID}
	require.NoError(t, invoices.Create(ctx, invoice))
	plan := &models.PaymentPlan{
		ID: uuid.New(), PatientID: patient.ID, InvoiceID: invoice.ID,
		TotalAmountCents: 15000, InstallmentCount: 1, InstallmentAmountCents: 15000,
		Status: models.PlanStatusActive,
	}
	require.NoError(t, plans.Create(ctx, plan))
	inst := &models.Installment{
		ID: uuid.New(), PlanID: plan.ID, PatientID: patient.ID, InvoiceID: invoice.ID,
		Sequence: 1, AmountCents: 15000, DueDate: time.Now().UTC(),
		Status: models.InstallmentStatusPending,
	}
	require.NoError(t, installments.Create(ctx, inst))

	mockGw := gateway.NewMockGateway(testSecret)
	svc := services.NewWebhookService(
		[]gateway.WebhookVerifier{mockGw},
		webhookEvents, installments, plans, patients, invoices, ledger, &testutil.FakeNotifier{},
	)

	router := mux.NewRouter()
	router.HandleFunc(routes.BillingWebhook, NewWebhookController(svc, gateway.ProcessorMock).WebhookHandler).Methods(http.MethodPost)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, installments, ledger, inst
}

func postWebhook(t *testing.T, url, processor string, payload []byte, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+routes.BillingWebhook+"?processor="+processor, bytes.NewReader(payload))
	require.NoError(t, err)
	if sig != "" {
		req.Header.Set(constants.HeaderMockSignature, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestWebhookEndpointAcksValidDelivery(t *testing.T) {
	srv, installments, ledger, inst := newWebhookTestServer(t)

	payload, err := json.Marshal(map[string]any{
		"id":             "evt_http_1",
		"type":           "payment_succeeded",
		"installment_id": inst.ID.String(),
		"amount_cents":   15000,
	})
	require.NoError(t, err)

	resp := postWebhook(t, srv.URL, gateway.ProcessorMock, payload, gateway.SignPayload(testSecret, payload))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack dtos.WebhookAckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.True(t, ack.Received)
	require.True(t, ack.Processed)
	require.Equal(t, "evt_http_1", ack.EventID)

	got, err := installments.GetByID(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusPaid, got.Status)
	require.Len(t, ledger.Entries(), 1)
}

func TestWebhookEndpointDuplicateDeliveryAckedAsSkipped(t *testing.T) {
	srv, _, ledger, inst := newWebhookTestServer(t)

	payload, err := json.Marshal(map[string]any{
		"id":             "evt_http_dup",
		"type":           "payment_succeeded",
		"installment_id": inst.ID.String(),
		"amount_cents":   15000,
	})
	require.NoError(t, err)
	sig := gateway.SignPayload(testSecret, payload)

	resp := postWebhook(t, srv.URL, gateway.ProcessorMock, payload, sig)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postWebhook(t, srv.URL, gateway.ProcessorMock, payload, sig)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack dtos.WebhookAckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.True(t, ack.Skipped)
	require.False(t, ack.Processed)
	require.Len(t, ledger.Entries(), 1)
}

func TestWebhookEndpointRejectsTamperedSignature(t *testing.T) {
	srv, installments, ledger, inst := newWebhookTestServer(t)

	payload, err := json.Marshal(map[string]any{
		"id":             "evt_http_bad",
		"type":           "payment_succeeded",
		"installment_id": inst.ID.String(),
		"amount_cents":   15000,
	})
	require.NoError(t, err)

	resp := postWebhook(t, srv.URL, gateway.ProcessorMock, payload, "not-a-valid-signature")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, utils.ErrCodeSignatureInvalid, body.Code)

	got, err := installments.GetByID(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusPending, got.Status)
	require.Empty(t, ledger.Entries())
}

func TestWebhookEndpointDefaultsToConfiguredProcessor(t *testing.T) {
	srv, installments, _, inst := newWebhookTestServer(t)

	payload, err := json.Marshal(map[string]any{
		"id":             "evt_http_default",
		"type":           "payment_succeeded",
		"installment_id": inst.ID.String(),
		"amount_cents":   15000,
	})
	require.NoError(t, err)

	// No ?processor= query param: the delivery is attributed to the primary
	// configured processor.
	req, err := http.NewRequest(http.MethodPost, srv.URL+routes.BillingWebhook, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set(constants.HeaderMockSignature, gateway.SignPayload(testSecret, payload))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ack dtos.WebhookAckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	require.True(t, ack.Processed)

	got, err := installments.GetByID(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Equal(t, models.InstallmentStatusPaid, got.Status)
}

func TestWebhookEndpointRejectsUnknownProcessor(t *testing.T) {
	srv, _, _, _ := newWebhookTestServer(t)

	payload := []byte("{}")
	resp := postWebhook(t, srv.URL, "paypal", payload, gateway.SignPayload(testSecret, payload))
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, utils.ErrCodeInvalidPayload, body.Code)
}
