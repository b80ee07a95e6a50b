package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/gateway"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/repositories"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

// errNoChange aborts an optimistic-lock mutation without failing it. Used
// when the guarded state transition turns out to be a no-op (e.g. the
// installment is already PAID).
var errNoChange = errors.New("no_change")

// WebhookOutcome is what the ingestion run reports back to the controller.
type WebhookOutcome struct {
	Processed bool
	Skipped   bool
	EventID   string
	EventType string
}

// WebhookService authenticates processor webhook deliveries and applies
// their business effects exactly once. Every mutation it performs is
// individually idempotent, so a crash between the mutations and the
// processed-event marker only costs a harmless replay.
type WebhookService struct {
	verifiers     map[string]gateway.WebhookVerifier
	webhookEvents repositories.WebhookEventRepository
	installments  repositories.InstallmentRepository
	plans         repositories.PaymentPlanRepository
	patients      repositories.PatientRepository
	invoices      repositories.InvoiceRepository
	ledger        repositories.LedgerRepository
	notifier      Notifier
}

func NewWebhookService(
	verifiers []gateway.WebhookVerifier,
	webhookEvents repositories.WebhookEventRepository,
	installments repositories.InstallmentRepository,
	plans repositories.PaymentPlanRepository,
	patients repositories.PatientRepository,
	invoices repositories.InvoiceRepository,
	ledger repositories.LedgerRepository,
	notifier Notifier,
) *WebhookService {
	byName := make(map[string]gateway.WebhookVerifier, len(verifiers))
	for _, v := range verifiers {
		byName[v.Name()] = v
	}
	return &WebhookService{
		verifiers:     byName,
		webhookEvents: webhookEvents,
		installments:  installments,
		plans:         plans,
		patients:      patients,
		invoices:      invoices,
		ledger:        ledger,
		notifier:      notifier,
	}
}

// IngestWebhook verifies and applies one raw webhook delivery.
// Signature failures return utils.ErrSignatureVerification before any state
// is touched; an unknown processor returns utils.ErrUnknownProcessor.
func (s *WebhookService) IngestWebhook(ctx context.Context, processor string, payload []byte, sigHeader string) (*WebhookOutcome, error) {
	verifier, ok := s.verifiers[processor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", utils.ErrUnknownProcessor, processor)
	}

	evt, err := verifier.VerifyAndParse(payload, sigHeader)
	if err != nil {
		return nil, err
	}

	outcome := &WebhookOutcome{EventID: evt.ID, EventType: string(evt.Type)}

	if evt.Type == gateway.EventIgnored {
		utils.Logger.Debugf("Ignoring %s event %s of type %s", processor, evt.ID, evt.RawType)
		outcome.Skipped = true
		return outcome, nil
	}

	existing, err := s.webhookEvents.GetByEventID(ctx, evt.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		utils.Logger.Infof("Skipping already-processed %s event %s", processor, evt.ID)
		outcome.Skipped = true
		return outcome, nil
	}

	switch evt.Type {
	case gateway.EventPaymentSucceeded:
		err = s.handlePaymentSucceeded(ctx, evt)
	case gateway.EventPaymentFailed:
		err = s.handlePaymentFailed(ctx, evt)
	case gateway.EventRefund:
		err = s.handleRefund(ctx, evt)
	case gateway.EventDispute:
		err = s.handleDispute(ctx, evt)
	}
	if err != nil {
		return nil, err
	}

	// The marker goes in last. Losing the race here just means another
	// delivery already applied the same idempotent mutations.
	if _, err := s.webhookEvents.MarkProcessed(ctx, &models.WebhookEvent{
		EventID:   evt.ID,
		Processor: processor,
		EventType: evt.RawType,
	}); err != nil {
		return nil, err
	}

	outcome.Processed = true
	return outcome, nil
}

// resolveInstallment finds the installment an event refers to, preferring
// the metadata ID and falling back to the processor's payment reference.
func (s *WebhookService) resolveInstallment(ctx context.Context, evt *gateway.Event) (*models.Installment, error) {
	if evt.InstallmentID != uuid.Nil {
		return s.installments.GetByID(ctx, evt.InstallmentID)
	}
	if evt.ProviderRef != "" {
		return s.installments.GetByProviderRef(ctx, evt.ProviderRef)
	}
	return nil, nil
}

func (s *WebhookService) handlePaymentSucceeded(ctx context.Context, evt *gateway.Event) error {
	inst, err := s.resolveInstallment(ctx, evt)
	if err != nil {
		return err
	}
	if inst == nil {
		utils.Logger.Warnf("Payment event %s references no known installment (ref %s), acking without effect", evt.ID, evt.ProviderRef)
		return nil
	}

	err = s.installments.UpdateWithRetry(ctx, inst.ID, func(i *models.Installment) error {
		if i.Status == models.InstallmentStatusPaid {
			return errNoChange
		}
		now := time.Now().UTC()
		i.Status = models.InstallmentStatusPaid
		i.PaidAt = &now
		i.LastFailureReason = nil
		if evt.ProviderRef != "" {
			i.ProviderRef = &evt.ProviderRef
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return err
	}

	// A payment collected synchronously by the billing run has already been
	// posted under its charge idempotency key; the webhook confirming it
	// must not credit the invoice twice.
	alreadyPosted, err := s.ledger.HasPaymentForInstallment(ctx, inst.ID)
	if err != nil {
		return err
	}
	if alreadyPosted {
		_, err := settlePlanIfPaid(ctx, s.installments, s.plans, inst.PlanID)
		return err
	}

	amount := evt.AmountCents
	if amount == 0 {
		amount = inst.AmountCents
	}
	inserted, err := s.ledger.Create(ctx, &models.LedgerEntry{
		ID:            uuid.New(),
		InvoiceID:     inst.InvoiceID,
		PatientID:     inst.PatientID,
		InstallmentID: &inst.ID,
		Type:          models.LedgerEntryPayment,
		AmountCents:   -amount,
		Description:   fmt.Sprintf("Installment %d payment", inst.Sequence),
		SourceEventID: &evt.ID,
	})
	if err != nil {
		return err
	}
	if !inserted {
		utils.Logger.Infof("Ledger entry for event %s already posted", evt.ID)
	}

	_, err = settlePlanIfPaid(ctx, s.installments, s.plans, inst.PlanID)
	return err
}

func (s *WebhookService) handlePaymentFailed(ctx context.Context, evt *gateway.Event) error {
	inst, err := s.resolveInstallment(ctx, evt)
	if err != nil {
		return err
	}
	if inst == nil {
		utils.Logger.Warnf("Failure event %s references no known installment (ref %s), acking without effect", evt.ID, evt.ProviderRef)
		return nil
	}

	var exhausted bool
	var updated *models.Installment
	err = s.installments.UpdateWithRetry(ctx, inst.ID, func(i *models.Installment) error {
		// PAID is terminal: a late or out-of-order failure event never
		// demotes a collected installment.
		if i.Status == models.InstallmentStatusPaid || i.Status == models.InstallmentStatusFailed {
			return errNoChange
		}
		reason := evt.FailureCode
		if reason == "" {
			reason = "payment_failed"
		}
		i.LastFailureReason = &reason
		if i.AttemptCount >= constants.DefaultMaxRetryAttempts {
			i.Status = models.InstallmentStatusFailed
			exhausted = true
		} else {
			i.Status = models.InstallmentStatusRetrying
		}
		cp := *i
		updated = &cp
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	if !exhausted {
		return nil
	}

	defaulted, err := defaultPlan(ctx, s.plans, updated.PlanID)
	if err != nil {
		return err
	}
	if !defaulted {
		return nil
	}

	utils.Logger.Warnf("Payment plan %s defaulted after failure event %s exhausted attempts", updated.PlanID, evt.ID)
	patient, err := s.patients.GetByID(ctx, updated.PatientID)
	if err != nil || patient == nil {
		utils.Logger.Warnf("Cannot alert staff for plan %s: patient %s not found", updated.PlanID, updated.PatientID)
		return nil
	}
	if plan, perr := s.plans.GetByID(ctx, updated.PlanID); perr == nil && plan != nil {
		s.notifier.AlertStaffPlanDefaulted(patient, plan)
	}
	return nil
}

func (s *WebhookService) handleRefund(ctx context.Context, evt *gateway.Event) error {
	inst, err := s.resolveInstallment(ctx, evt)
	if err != nil {
		return err
	}

	entry := &models.LedgerEntry{
		ID:            uuid.New(),
		Type:          models.LedgerEntryRefund,
		AmountCents:   evt.AmountCents,
		Description:   "Processor refund",
		SourceEventID: &evt.ID,
	}
	switch {
	case inst != nil:
		entry.InvoiceID = inst.InvoiceID
		entry.PatientID = inst.PatientID
		entry.InstallmentID = &inst.ID
	case evt.InvoiceID != uuid.Nil:
		entry.InvoiceID = evt.InvoiceID
		entry.PatientID = evt.PatientID
	default:
		utils.Logger.Warnf("Refund event %s references no known installment or invoice, acking without effect", evt.ID)
		return nil
	}

	if _, err := s.ledger.Create(ctx, entry); err != nil {
		return err
	}
	return nil
}

func (s *WebhookService) handleDispute(ctx context.Context, evt *gateway.Event) error {
	inst, err := s.resolveInstallment(ctx, evt)
	if err != nil {
		return err
	}

	invoiceID := evt.InvoiceID
	patientID := evt.PatientID
	var installmentID *uuid.UUID
	if inst != nil {
		invoiceID = inst.InvoiceID
		patientID = inst.PatientID
		installmentID = &inst.ID
	}
	if invoiceID == uuid.Nil {
		utils.Logger.Warnf("Dispute event %s references no known installment or invoice, acking without effect", evt.ID)
		return nil
	}

	if _, err := s.ledger.Create(ctx, &models.LedgerEntry{
		ID:            uuid.New(),
		InvoiceID:     invoiceID,
		PatientID:     patientID,
		InstallmentID: installmentID,
		Type:          models.LedgerEntryAdjustment,
		AmountCents:   evt.AmountCents,
		Description:   fmt.Sprintf("Dispute opened (%s)", evt.FailureCode),
		SourceEventID: &evt.ID,
	}); err != nil {
		return err
	}

	reason := fmt.Sprintf("Dispute %s opened by processor", evt.ID)
	err = s.invoices.UpdateWithRetry(ctx, invoiceID, func(inv *models.Invoice) error {
		if inv.ReviewFlagged {
			return errNoChange
		}
		inv.ReviewFlagged = true
		inv.ReviewReason = &reason
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return err
	}
	return nil
}
