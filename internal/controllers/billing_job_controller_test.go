package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/alarconm/chiroflow-landing-sub015/internal/config"
	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/gateway"
	"github.com/alarconm/chiroflow-landing-sub015/internal/middleware"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/routes"
	"github.com/alarconm/chiroflow-landing-sub015/internal/services"
	"github.com/alarconm/chiroflow-landing-sub015/internal/testutil"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

type billingJobFixture struct {
	srv          *httptest.Server
	gw           *gateway.MockGateway
	installments *testutil.InMemInstallmentRepo
	runs         *testutil.InMemBillingRunRepo
}

func newBillingJobFixture(t *testing.T, cronSecret string) *billingJobFixture {
	t.Helper()

	f := &billingJobFixture{
		gw:           gateway.NewMockGateway(testSecret),
		installments: testutil.NewInMemInstallmentRepo(),
		runs:         testutil.NewInMemBillingRunRepo(),
	}
	patients := testutil.NewInMemPatientRepo()
	plans := testutil.NewInMemPlanRepo()
	ledger := testutil.NewInMemLedgerRepo()
	notifier := &testutil.FakeNotifier{}

	ctx := context.Background()
	patient := &models.Patient{
		ID:                  uuid.New(),
		FirstName:           "Noel",
		LastName:            "Park",
		ProcessorCustomerID: utils.Ptr("cus_x"),
		PaymentMethodRef:    utils.Ptr("pm_x"),
	}
	require.NoError(t, patients.Create(ctx, patient))
	plan := &models.PaymentPlan{
		ID: uuid.New(), PatientID: patient.ID, InvoiceID: uuid.New(),
		TotalAmountCents: 15000, InstallmentCount: 1, InstallmentAmountCents: 15000,
		Status: models.PlanStatusActive,
	}
	require.NoError(t, plans.Create(ctx, plan))
	inst := &models.Installment{
		ID: uuid.New(), PlanID: plan.ID, PatientID: patient.ID, InvoiceID: plan.InvoiceID,
		Sequence: 1, AmountCents: 15000, DueDate: time.Now().UTC().AddDate(0, 0, -1),
		Status: models.InstallmentStatusPending,
	}
	require.NoError(t, f.installments.Create(ctx, inst))

	cfg := &config.Config{AppName: "billing-service-test", CronSecret: cronSecret}
	svc := services.NewBillingService(cfg, f.gw, f.installments, plans, patients, ledger, f.runs, notifier)

	router := mux.NewRouter()
	jobRoutes := router.NewRoute().Subrouter()
	jobRoutes.Use(middleware.CronAuthMiddleware(cfg.CronSecret))
	jobRoutes.HandleFunc(routes.BillingRun, NewBillingJobController(svc).RunHandler).Methods(http.MethodGet, http.MethodPost)

	f.srv = httptest.NewServer(router)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *billingJobFixture) trigger(t *testing.T, query, secret string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+routes.BillingRun+query, nil)
	require.NoError(t, err)
	if secret != "" {
		req.Header.Set(middleware.CronSecretHeader, secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestBillingRunEndpointExecutesRun(t *testing.T) {
	f := newBillingJobFixture(t, "")

	resp := f.trigger(t, "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result dtos.BillingRunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, 1, result.Scanned)
	require.Equal(t, 1, result.Charged)
	require.Equal(t, 1, result.CompletedPlans)
}

func TestBillingRunEndpointHonorsOverrides(t *testing.T) {
	f := newBillingJobFixture(t, "")

	// One attempt only; the decline defaults the plan in a single run.
	installments, err := f.installments.FindDueForCharge(context.Background(), time.Now().UTC(), 10, 0)
	require.NoError(t, err)
	require.Len(t, installments, 1)
	f.gw.ScriptDecline(installments[0].ID, "card_declined")

	resp := f.trigger(t, "?maxRetryAttempts=1&sendReminders=false", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result dtos.BillingRunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, result.Defaulted)
}

func TestBillingRunEndpointRejectsBadOverrides(t *testing.T) {
	f := newBillingJobFixture(t, "")

	resp := f.trigger(t, "?maxRetryAttempts=nope", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.trigger(t, "?maxRetryAttempts=99", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBillingRunEndpointConflictWhileRunInProgress(t *testing.T) {
	f := newBillingJobFixture(t, "")
	f.runs.HoldLease(constants.BillingRunLeaseName, "other", time.Minute)

	resp := f.trigger(t, "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body utils.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, utils.ErrCodeRunInProgress, body.Code)
}

func TestBillingRunEndpointRequiresCronSecret(t *testing.T) {
	f := newBillingJobFixture(t, "super-secret")

	resp := f.trigger(t, "", "")
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.trigger(t, "", "wrong")
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.trigger(t, "", "super-secret")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBillingRunEndpointAcceptsBearerSecret(t *testing.T) {
	f := newBillingJobFixture(t, "super-secret")

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+routes.BillingRun, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer super-secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPost, f.srv.URL+routes.BillingRun, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
