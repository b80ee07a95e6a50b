package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

func TestMockVerifyAndParseRoundTrip(t *testing.T) {
	gw := NewMockGateway("secret")
	instID := uuid.New()

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"payment_succeeded","installment_id":%q,"amount_cents":15000,"provider_ref":"pi_1"}`,
		instID,
	))
	evt, err := gw.VerifyAndParse(payload, SignPayload("secret", payload))
	require.NoError(t, err)
	require.Equal(t, "evt_1", evt.ID)
	require.Equal(t, EventPaymentSucceeded, evt.Type)
	require.Equal(t, instID, evt.InstallmentID)
	require.Equal(t, int64(15000), evt.AmountCents)
	require.Equal(t, "pi_1", evt.ProviderRef)
}

func TestMockVerifyAndParseRejectsBadSignature(t *testing.T) {
	gw := NewMockGateway("secret")
	payload := []byte(`{"id":"evt_1","type":"payment_succeeded"}`)

	_, err := gw.VerifyAndParse(payload, SignPayload("wrong-secret", payload))
	require.ErrorIs(t, err, utils.ErrSignatureVerification)

	_, err = gw.VerifyAndParse(payload, "")
	require.ErrorIs(t, err, utils.ErrSignatureVerification)
}

func TestMockVerifyAndParseUnknownTypeIsIgnored(t *testing.T) {
	gw := NewMockGateway("secret")
	payload := []byte(`{"id":"evt_1","type":"customer.updated"}`)

	evt, err := gw.VerifyAndParse(payload, SignPayload("secret", payload))
	require.NoError(t, err)
	require.Equal(t, EventIgnored, evt.Type)
	require.Equal(t, "customer.updated", evt.RawType)
}

func TestMockChargeScripting(t *testing.T) {
	gw := NewMockGateway("secret")
	ctx := context.Background()
	instID := uuid.New()
	req := ChargeRequest{InstallmentID: instID, AmountCents: 15000, IdempotencyKey: "inst-x-attempt-1"}

	res, err := gw.Charge(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Paid)

	gw.ScriptDecline(instID, "insufficient_funds")
	res, err = gw.Charge(ctx, req)
	require.NoError(t, err)
	require.False(t, res.Paid)
	require.Equal(t, "insufficient_funds", res.FailureCode)

	gw.ScriptError(instID, errors.New("boom"))
	_, err = gw.Charge(ctx, req)
	require.Error(t, err)

	gw.ClearScript(instID)
	res, err = gw.Charge(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Paid)

	require.Len(t, gw.Calls(), 4)
}

func squareSign(secret, notificationURL string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(notificationURL))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSquareVerifyAndParsePaymentCompleted(t *testing.T) {
	const notifyURL = "https://example.com/api/v1/billing/webhook?processor=square"
	gw := NewSquareGateway("token", "sq-secret", notifyURL, "")
	instID := uuid.New()

	payload := []byte(fmt.Sprintf(`{
		"event_id": "sq_evt_1",
		"type": "payment.updated",
		"data": {"object": {"payment": {
			"id": "sq_pay_1",
			"status": "COMPLETED",
			"reference_id": %q,
			"amount_money": {"amount": 15000, "currency": "USD"}
		}}}
	}`, instID))

	evt, err := gw.VerifyAndParse(payload, squareSign("sq-secret", notifyURL, payload))
	require.NoError(t, err)
	require.Equal(t, "sq_evt_1", evt.ID)
	require.Equal(t, EventPaymentSucceeded, evt.Type)
	require.Equal(t, instID, evt.InstallmentID)
	require.Equal(t, "sq_pay_1", evt.ProviderRef)
	require.Equal(t, int64(15000), evt.AmountCents)
}

func TestSquareVerifyAndParseFailedPayment(t *testing.T) {
	const notifyURL = "https://example.com/hook"
	gw := NewSquareGateway("token", "sq-secret", notifyURL, "")

	payload := []byte(`{
		"event_id": "sq_evt_2",
		"type": "payment.updated",
		"data": {"object": {"payment": {
			"id": "sq_pay_2",
			"status": "FAILED",
			"amount_money": {"amount": 15000, "currency": "USD"}
		}}}
	}`)

	evt, err := gw.VerifyAndParse(payload, squareSign("sq-secret", notifyURL, payload))
	require.NoError(t, err)
	require.Equal(t, EventPaymentFailed, evt.Type)
	require.Equal(t, "FAILED", evt.FailureCode)
}

func TestSquareVerifyAndParseRejectsWrongURLOrSecret(t *testing.T) {
	gw := NewSquareGateway("token", "sq-secret", "https://example.com/hook", "")
	payload := []byte(`{"event_id":"sq_evt_3","type":"payment.updated"}`)

	_, err := gw.VerifyAndParse(payload, squareSign("sq-secret", "https://evil.example.com/hook", payload))
	require.ErrorIs(t, err, utils.ErrSignatureVerification)

	_, err = gw.VerifyAndParse(payload, squareSign("other-secret", "https://example.com/hook", payload))
	require.ErrorIs(t, err, utils.ErrSignatureVerification)
}
