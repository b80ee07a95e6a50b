package controllers

import (
	"errors"
	"io"
	"net/http"

	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/gateway"
	"github.com/alarconm/chiroflow-landing-sub015/internal/services"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

const processorParam = "processor"

type WebhookController struct {
	webhookService   *services.WebhookService
	defaultProcessor string
}

func NewWebhookController(webhookService *services.WebhookService, defaultProcessor string) *WebhookController {
	return &WebhookController{webhookService: webhookService, defaultProcessor: defaultProcessor}
}

// WebhookHandler -> POST /api/v1/billing/webhook?processor=stripe|square|mock
// Without the query param the delivery is attributed to the configured
// primary processor.
func (c *WebhookController) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	processor := r.URL.Query().Get(processorParam)
	if processor == "" {
		processor = c.defaultProcessor
	}

	sigHeader := r.Header.Get(signatureHeaderFor(processor))
	if sigHeader == "" {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeSignatureInvalid, "Missing signature header", nil)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Failed to read webhook body", nil, err)
		return
	}

	outcome, err := c.webhookService.IngestWebhook(r.Context(), processor, payload, sigHeader)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrUnknownProcessor):
			utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Unknown payment processor", nil, err)
		case errors.Is(err, utils.ErrSignatureVerification):
			utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeSignatureInvalid, "Webhook signature verification failed", nil, err)
		default:
			// A 5xx makes the processor redeliver; idempotency makes the
			// replay safe.
			utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Failed to process webhook", nil, err)
		}
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.WebhookAckResponse{
		Received:  true,
		Processed: outcome.Processed,
		Skipped:   outcome.Skipped,
		EventID:   outcome.EventID,
		EventType: outcome.EventType,
	})
}

func signatureHeaderFor(processor string) string {
	switch processor {
	case gateway.ProcessorStripe:
		return constants.HeaderStripeSignature
	case gateway.ProcessorSquare:
		return constants.HeaderSquareSignature
	default:
		return constants.HeaderMockSignature
	}
}
