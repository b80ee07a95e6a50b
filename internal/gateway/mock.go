package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

// MockGateway is the in-process processor used by tests and non-production
// environments. Charges succeed unless scripted otherwise; webhook payloads
// are the neutral event JSON signed with HMAC-SHA256 (hex) over the raw body.
type MockGateway struct {
	webhookSecret string

	mu       sync.Mutex
	declines map[uuid.UUID]string
	errs     map[uuid.UUID]error
	calls    []ChargeRequest
}

func NewMockGateway(webhookSecret string) *MockGateway {
	return &MockGateway{
		webhookSecret: webhookSecret,
		declines:      make(map[uuid.UUID]string),
		errs:          make(map[uuid.UUID]error),
	}
}

func (g *MockGateway) Name() string { return ProcessorMock }

// ScriptDecline makes the next charges for the installment fail with the
// given decline code.
func (g *MockGateway) ScriptDecline(installmentID uuid.UUID, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declines[installmentID] = code
}

// ScriptError makes charges for the installment return a transport error.
func (g *MockGateway) ScriptError(installmentID uuid.UUID, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[installmentID] = err
}

// ClearScript restores the default success outcome for the installment.
func (g *MockGateway) ClearScript(installmentID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.declines, installmentID)
	delete(g.errs, installmentID)
}

// Calls returns a copy of every charge request seen so far.
func (g *MockGateway) Calls() []ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ChargeRequest, len(g.calls))
	copy(out, g.calls)
	return out
}

func (g *MockGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	scriptedErr := g.errs[req.InstallmentID]
	code, declined := g.declines[req.InstallmentID]
	g.mu.Unlock()

	if scriptedErr != nil {
		return nil, scriptedErr
	}
	if declined {
		return &ChargeResult{ProviderRef: "mockpi_" + req.IdempotencyKey, Paid: false, FailureCode: code}, nil
	}
	return &ChargeResult{ProviderRef: "mockpi_" + req.IdempotencyKey, Paid: true}, nil
}

// mockEventPayload is the wire form understood by VerifyAndParse.
type mockEventPayload struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	InstallmentID string `json:"installment_id,omitempty"`
	InvoiceID     string `json:"invoice_id,omitempty"`
	PatientID     string `json:"patient_id,omitempty"`
	AmountCents   int64  `json:"amount_cents"`
	ProviderRef   string `json:"provider_ref,omitempty"`
	FailureCode   string `json:"failure_code,omitempty"`
}

func (g *MockGateway) VerifyAndParse(payload []byte, sigHeader string) (*Event, error) {
	if sigHeader == "" {
		return nil, fmt.Errorf("%w: missing signature header", utils.ErrSignatureVerification)
	}
	if !hmac.Equal([]byte(SignPayload(g.webhookSecret, payload)), []byte(sigHeader)) {
		return nil, fmt.Errorf("%w: signature mismatch", utils.ErrSignatureVerification)
	}

	var p mockEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("parse mock webhook: %w", err)
	}

	out := &Event{
		ID:          p.ID,
		RawType:     p.Type,
		Type:        EventIgnored,
		AmountCents: p.AmountCents,
		ProviderRef: p.ProviderRef,
		FailureCode: p.FailureCode,
	}
	switch EventType(p.Type) {
	case EventPaymentSucceeded, EventPaymentFailed, EventRefund, EventDispute:
		out.Type = EventType(p.Type)
	}
	if id, err := uuid.Parse(p.InstallmentID); err == nil {
		out.InstallmentID = id
	}
	if id, err := uuid.Parse(p.InvoiceID); err == nil {
		out.InvoiceID = id
	}
	if id, err := uuid.Parse(p.PatientID); err == nil {
		out.PatientID = id
	}
	return out, nil
}

// SignPayload produces the X-Mock-Signature header value for a raw body.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
