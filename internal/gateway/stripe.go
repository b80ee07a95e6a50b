package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/charge"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

// StripeGateway charges stored payment methods through PaymentIntents and
// verifies webhook deliveries with the Stripe-Signature scheme.
type StripeGateway struct {
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{webhookSecret: webhookSecret}
}

func (g *StripeGateway) Name() string { return ProcessorStripe }

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.PaymentMethodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Description:   stripe.String(req.Description),
		Metadata: map[string]string{
			MetadataInstallmentIDKey: req.InstallmentID.String(),
			MetadataInvoiceIDKey:     req.InvoiceID.String(),
			MetadataPatientIDKey:     req.PatientID.String(),
		},
	}
	params.Params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := paymentintent.New(params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Type == stripe.ErrorTypeCard {
			code := string(stripeErr.Code)
			if stripeErr.DeclineCode != "" {
				code = string(stripeErr.DeclineCode)
			}
			var ref string
			if stripeErr.PaymentIntent != nil {
				ref = stripeErr.PaymentIntent.ID
			}
			return &ChargeResult{ProviderRef: ref, Paid: false, FailureCode: code}, nil
		}
		return nil, err
	}

	if pi.Status == stripe.PaymentIntentStatusSucceeded {
		return &ChargeResult{ProviderRef: pi.ID, Paid: true}, nil
	}
	return &ChargeResult{ProviderRef: pi.ID, Paid: false, FailureCode: string(pi.Status)}, nil
}

func (g *StripeGateway) VerifyAndParse(payload []byte, sigHeader string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrSignatureVerification, err)
	}

	out := &Event{ID: event.ID, RawType: string(event.Type), Type: EventIgnored}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("parse payment_intent for %s: %w", event.Type, err)
		}
		applyMetadata(out, pi.Metadata)
		out.AmountCents = pi.Amount
		out.ProviderRef = pi.ID
		if event.Type == stripe.EventTypePaymentIntentSucceeded {
			out.Type = EventPaymentSucceeded
		} else {
			out.Type = EventPaymentFailed
			if pi.LastPaymentError != nil {
				out.FailureCode = string(pi.LastPaymentError.Code)
				if pi.LastPaymentError.DeclineCode != "" {
					out.FailureCode = string(pi.LastPaymentError.DeclineCode)
				}
			}
		}

	case stripe.EventTypeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("parse charge for %s: %w", event.Type, err)
		}
		applyMetadata(out, ch.Metadata)
		out.Type = EventRefund
		out.AmountCents = ch.AmountRefunded
		out.ProviderRef = ch.ID

	case stripe.EventTypeChargeDisputeCreated:
		var d stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
			return nil, fmt.Errorf("parse dispute for %s: %w", event.Type, err)
		}
		out.Type = EventDispute
		out.AmountCents = d.Amount
		out.FailureCode = string(d.Reason)
		if d.Charge != nil {
			out.ProviderRef = d.Charge.ID
			// The dispute object carries no metadata of its own; fetch the
			// disputed charge to trace the originating installment.
			if ch, err := charge.Get(d.Charge.ID, nil); err == nil {
				applyMetadata(out, ch.Metadata)
			} else {
				utils.Logger.WithError(err).Warnf("Could not fetch disputed charge %s", d.Charge.ID)
			}
		}
	}

	return out, nil
}

func applyMetadata(e *Event, md map[string]string) {
	if v, err := uuid.Parse(md[MetadataInstallmentIDKey]); err == nil {
		e.InstallmentID = v
	}
	if v, err := uuid.Parse(md[MetadataInvoiceIDKey]); err == nil {
		e.InvoiceID = v
	}
	if v, err := uuid.Parse(md[MetadataPatientIDKey]); err == nil {
		e.PatientID = v
	}
}
