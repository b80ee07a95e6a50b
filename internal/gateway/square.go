package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

const squareAPIVersion = "2024-06-04"

// SquareGateway charges through the Square Payments API and verifies
// webhook deliveries with Square's HMAC-SHA256 notification signature
// (computed over the notification URL concatenated with the raw body,
// base64 encoded in the x-square-hmacsha256-signature header).
type SquareGateway struct {
	accessToken     string
	webhookSecret   string
	notificationURL string
	baseURL         string
	httpClient      *http.Client
}

func NewSquareGateway(accessToken, webhookSecret, notificationURL, baseURL string) *SquareGateway {
	if baseURL == "" {
		baseURL = "https://connect.squareup.com"
	}
	return &SquareGateway{
		accessToken:     accessToken,
		webhookSecret:   webhookSecret,
		notificationURL: notificationURL,
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *SquareGateway) Name() string { return ProcessorSquare }

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareCreatePaymentRequest struct {
	SourceID       string      `json:"source_id"`
	CustomerID     string      `json:"customer_id,omitempty"`
	IdempotencyKey string      `json:"idempotency_key"`
	AmountMoney    squareMoney `json:"amount_money"`
	ReferenceID    string      `json:"reference_id,omitempty"`
	Note           string      `json:"note,omitempty"`
	Autocomplete   bool        `json:"autocomplete"`
}

type squarePayment struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	ReferenceID string      `json:"reference_id"`
	AmountMoney squareMoney `json:"amount_money"`
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

type squarePaymentResponse struct {
	Payment *squarePayment `json:"payment"`
	Errors  []squareError  `json:"errors"`
}

func (g *SquareGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := squareCreatePaymentRequest{
		SourceID:       req.PaymentMethodRef,
		CustomerID:     req.CustomerRef,
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney:    squareMoney{Amount: req.AmountCents, Currency: req.Currency},
		ReferenceID:    req.InstallmentID.String(),
		Note:           req.Description,
		Autocomplete:   true,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2/payments", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Square-Version", squareAPIVersion)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed squarePaymentResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("square payment response (status %d): %w", resp.StatusCode, err)
	}

	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		// PAYMENT_METHOD_ERROR and INVALID_REQUEST_ERROR categories are
		// declines of this particular charge, not transport failures.
		if first.Category == "PAYMENT_METHOD_ERROR" || first.Category == "INVALID_REQUEST_ERROR" {
			return &ChargeResult{Paid: false, FailureCode: first.Code}, nil
		}
		return nil, fmt.Errorf("square payment failed: %s (%s)", first.Code, first.Detail)
	}
	if parsed.Payment == nil {
		return nil, fmt.Errorf("square payment response missing payment object (status %d)", resp.StatusCode)
	}

	if parsed.Payment.Status == "COMPLETED" || parsed.Payment.Status == "APPROVED" {
		return &ChargeResult{ProviderRef: parsed.Payment.ID, Paid: true}, nil
	}
	return &ChargeResult{ProviderRef: parsed.Payment.ID, Paid: false, FailureCode: parsed.Payment.Status}, nil
}

type squareWebhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object struct {
			Payment *squarePayment `json:"payment"`
			Refund  *struct {
				ID          string      `json:"id"`
				Status      string      `json:"status"`
				PaymentID   string      `json:"payment_id"`
				AmountMoney squareMoney `json:"amount_money"`
			} `json:"refund"`
			Dispute *struct {
				ID            string      `json:"id"`
				Reason        string      `json:"reason"`
				PaymentID     string      `json:"payment_id"`
				DisputedMoney squareMoney `json:"amount_money"`
			} `json:"dispute"`
		} `json:"object"`
	} `json:"data"`
}

func (g *SquareGateway) VerifyAndParse(payload []byte, sigHeader string) (*Event, error) {
	if sigHeader == "" {
		return nil, fmt.Errorf("%w: missing signature header", utils.ErrSignatureVerification)
	}
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	_, _ = mac.Write([]byte(g.notificationURL))
	_, _ = mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sigHeader)) {
		return nil, fmt.Errorf("%w: signature mismatch", utils.ErrSignatureVerification)
	}

	var env squareWebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse square webhook: %w", err)
	}

	out := &Event{ID: env.EventID, RawType: env.Type, Type: EventIgnored}

	switch env.Type {
	case "payment.updated":
		p := env.Data.Object.Payment
		if p == nil {
			return nil, fmt.Errorf("square %s event missing payment object", env.Type)
		}
		// The installment ID travels in the payment's reference_id; the
		// ingestion service resolves the invoice from the installment.
		if id, err := uuid.Parse(p.ReferenceID); err == nil {
			out.InstallmentID = id
		}
		out.ProviderRef = p.ID
		out.AmountCents = p.AmountMoney.Amount
		switch p.Status {
		case "COMPLETED":
			out.Type = EventPaymentSucceeded
		case "FAILED", "CANCELED":
			out.Type = EventPaymentFailed
			out.FailureCode = p.Status
		}

	case "refund.updated":
		rf := env.Data.Object.Refund
		if rf == nil {
			return nil, fmt.Errorf("square %s event missing refund object", env.Type)
		}
		if rf.Status == "COMPLETED" {
			out.Type = EventRefund
			out.ProviderRef = rf.PaymentID
			out.AmountCents = rf.AmountMoney.Amount
		}

	case "dispute.created":
		d := env.Data.Object.Dispute
		if d == nil {
			return nil, fmt.Errorf("square %s event missing dispute object", env.Type)
		}
		out.Type = EventDispute
		out.ProviderRef = d.PaymentID
		out.AmountCents = d.DisputedMoney.Amount
		out.FailureCode = d.Reason
	}

	return out, nil
}
