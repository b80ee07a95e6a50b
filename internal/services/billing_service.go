package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alarconm/chiroflow-landing-sub015/internal/config"
	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/gateway"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/repositories"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

// BillingService runs the scheduled billing cycle: charge installments that
// are due, retry earlier failures on the configured interval, default plans
// that exhaust their attempts, and send upcoming-payment reminders.
type BillingService struct {
	cfg          *config.Config
	gateway      gateway.PaymentGateway
	installments repositories.InstallmentRepository
	plans        repositories.PaymentPlanRepository
	patients     repositories.PatientRepository
	ledger       repositories.LedgerRepository
	runs         repositories.BillingRunRepository
	notifier     Notifier

	// holder identifies this instance on the run lease.
	holder string
}

func NewBillingService(
	cfg *config.Config,
	gw gateway.PaymentGateway,
	installments repositories.InstallmentRepository,
	plans repositories.PaymentPlanRepository,
	patients repositories.PatientRepository,
	ledger repositories.LedgerRepository,
	runs repositories.BillingRunRepository,
	notifier Notifier,
) *BillingService {
	return &BillingService{
		cfg:          cfg,
		gateway:      gw,
		installments: installments,
		plans:        plans,
		patients:     patients,
		ledger:       ledger,
		runs:         runs,
		notifier:     notifier,
		holder:       fmt.Sprintf("%s-%s", cfg.AppName, uuid.NewString()),
	}
}

// RunBillingCycle executes one billing pass under the run lease. A second
// invocation while a run holds the lease returns utils.ErrRunInProgress.
// Per-installment failures never abort the pass; they are logged, counted,
// and reported in the result's error list.
func (s *BillingService) RunBillingCycle(ctx context.Context, overrides dtos.BillingRunOverrides) (*dtos.BillingRunResult, error) {
	maxAttempts := overrides.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxRetryAttempts
	}
	retryIntervalDays := overrides.RetryIntervalDays
	if retryIntervalDays <= 0 {
		retryIntervalDays = constants.DefaultRetryIntervalDays
	}
	reminderDays := overrides.ReminderDays
	if reminderDays <= 0 {
		reminderDays = constants.DefaultReminderDays
	}

	acquired, err := s.runs.AcquireLease(ctx, constants.BillingRunLeaseName, s.holder, constants.BillingRunLeaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, utils.ErrRunInProgress
	}
	defer func() {
		if err := s.runs.ReleaseLease(context.Background(), constants.BillingRunLeaseName, s.holder); err != nil {
			utils.Logger.WithError(err).Error("Failed to release billing run lease")
		}
	}()

	start := time.Now()
	now := start.UTC()
	result := &dtos.BillingRunResult{}

	utils.Logger.Infof("Starting billing run (holder %s, maxAttempts=%d, retryInterval=%dd, reminders=%t)",
		s.holder, maxAttempts, retryIntervalDays, overrides.SendReminders)

	due, err := s.installments.FindDueForCharge(ctx, now, maxAttempts, time.Duration(retryIntervalDays)*24*time.Hour)
	if err != nil {
		return nil, err
	}
	result.Scanned = len(due)

	for _, inst := range due {
		out, err := s.processInstallment(ctx, inst, maxAttempts, overrides.AlertStaff)
		switch {
		case err != nil:
			utils.Logger.WithError(err).Errorf("Billing run: installment %s failed", inst.ID)
			result.Failed++
			if len(result.Errors) < constants.MaxRunErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("installment %s: %v", inst.ID, err))
			}
		case out.Charged:
			result.Charged++
		case !out.Skipped:
			result.Failed++
		}
		if out.Retried {
			result.Retried++
		}
		if out.Defaulted {
			result.Defaulted++
		}
		if out.PlanCompleted {
			result.CompletedPlans++
		}
	}

	if overrides.SendReminders {
		sent, err := s.sendReminders(ctx, now, time.Duration(reminderDays)*24*time.Hour)
		if err != nil {
			utils.Logger.WithError(err).Error("Billing run: reminder pass failed")
			if len(result.Errors) < constants.MaxRunErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("reminders: %v", err))
			}
		}
		result.RemindersSent = sent
	}

	result.DurationMs = time.Since(start).Milliseconds()
	utils.Logger.Infof("Billing run finished: scanned=%d charged=%d failed=%d retried=%d defaulted=%d completedPlans=%d reminders=%d in %dms",
		result.Scanned, result.Charged, result.Failed, result.Retried, result.Defaulted, result.CompletedPlans, result.RemindersSent, result.DurationMs)
	return result, nil
}

// runOutcome is one installment's contribution to the run summary.
// Skipped means another worker or a webhook resolved the installment
// between the scan and the claim; it counts as neither success nor failure.
type runOutcome struct {
	Charged       bool
	Retried       bool
	Defaulted     bool
	PlanCompleted bool
	Skipped       bool
}

// processInstallment attempts one charge. The attempt is recorded on the
// row before the gateway call, so a crash mid-charge leaves an audit trail
// and the idempotency key prevents the replayed attempt from double-charging.
func (s *BillingService) processInstallment(ctx context.Context, inst *models.Installment, maxAttempts int, alertStaff bool) (out runOutcome, err error) {
	patient, err := s.patients.GetByID(ctx, inst.PatientID)
	if err != nil {
		return out, err
	}
	if patient == nil {
		out.Retried, out.Defaulted, err = s.recordFailure(ctx, inst.ID, constants.ReasonPatientNotFound, maxAttempts, nil, alertStaff)
		if err != nil {
			return out, err
		}
		return out, utils.ErrPatientNotFound
	}
	if patient.PaymentMethodRef == nil || *patient.PaymentMethodRef == "" {
		out.Retried, out.Defaulted, err = s.recordFailure(ctx, inst.ID, constants.ReasonMissingPaymentMethod, maxAttempts, patient, alertStaff)
		if err != nil {
			return out, err
		}
		return out, utils.ErrMissingPaymentMethod
	}

	// Claim the attempt under the optimistic lock. Losing the guard means
	// another runner (or a webhook) already resolved this installment.
	var attemptNo int
	err = s.installments.UpdateWithRetry(ctx, inst.ID, func(i *models.Installment) error {
		if !i.Chargeable(maxAttempts) {
			return errNoChange
		}
		now := time.Now().UTC()
		i.AttemptCount++
		i.LastAttemptAt = &now
		attemptNo = i.AttemptCount
		return nil
	})
	if errors.Is(err, errNoChange) {
		utils.Logger.Infof("Installment %s no longer chargeable, skipping", inst.ID)
		out.Skipped = true
		return out, nil
	}
	if err != nil {
		return out, err
	}

	customerRef := ""
	if patient.ProcessorCustomerID != nil {
		customerRef = *patient.ProcessorCustomerID
	}
	idempotencyKey := fmt.Sprintf("inst-%s-attempt-%d", inst.ID, attemptNo)

	res, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		InstallmentID:    inst.ID,
		InvoiceID:        inst.InvoiceID,
		PatientID:        inst.PatientID,
		AmountCents:      inst.AmountCents,
		Currency:         constants.DefaultCurrency,
		CustomerRef:      customerRef,
		PaymentMethodRef: *patient.PaymentMethodRef,
		IdempotencyKey:   idempotencyKey,
		Description:      fmt.Sprintf("Care plan installment %d", inst.Sequence),
	})
	if err != nil {
		// Transport failure: outcome unknown, the attempt stays counted and
		// the idempotency key protects the retry.
		if retried, defaulted, ferr := s.recordFailure(ctx, inst.ID, constants.ReasonGatewayUnavailable, maxAttempts, patient, alertStaff); ferr != nil {
			utils.Logger.WithError(ferr).Errorf("Failed to record gateway failure for installment %s", inst.ID)
		} else {
			out.Retried, out.Defaulted = retried, defaulted
		}
		return out, fmt.Errorf("%w: %v", utils.ErrExternalServiceFailure, err)
	}

	if !res.Paid {
		reason := res.FailureCode
		if reason == "" {
			reason = "card_declined"
		}
		out.Retried, out.Defaulted, err = s.recordFailure(ctx, inst.ID, reason, maxAttempts, patient, alertStaff)
		return out, err
	}

	out.Charged = true
	out.PlanCompleted, err = s.recordPayment(ctx, inst, res.ProviderRef, idempotencyKey)
	return out, err
}

// recordPayment marks the installment PAID, posts the ledger credit, and
// completes the plan when it was the last unpaid installment. Every step is
// idempotent against a concurrent webhook for the same payment.
func (s *BillingService) recordPayment(ctx context.Context, inst *models.Installment, providerRef, idempotencyKey string) (planCompleted bool, err error) {
	err = s.installments.UpdateWithRetry(ctx, inst.ID, func(i *models.Installment) error {
		if i.Status == models.InstallmentStatusPaid {
			return errNoChange
		}
		now := time.Now().UTC()
		i.Status = models.InstallmentStatusPaid
		i.PaidAt = &now
		i.LastFailureReason = nil
		if providerRef != "" {
			i.ProviderRef = &providerRef
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return false, err
	}

	alreadyPosted, err := s.ledger.HasPaymentForInstallment(ctx, inst.ID)
	if err != nil {
		return false, err
	}
	if !alreadyPosted {
		sourceID := "charge:" + idempotencyKey
		if _, err := s.ledger.Create(ctx, &models.LedgerEntry{
			ID:            uuid.New(),
			InvoiceID:     inst.InvoiceID,
			PatientID:     inst.PatientID,
			InstallmentID: &inst.ID,
			Type:          models.LedgerEntryPayment,
			AmountCents:   -inst.AmountCents,
			Description:   fmt.Sprintf("Installment %d payment", inst.Sequence),
			SourceEventID: &sourceID,
		}); err != nil {
			return false, err
		}
	}

	utils.Logger.Infof("Installment %s collected (%s)", inst.ID, providerRef)
	return settlePlanIfPaid(ctx, s.installments, s.plans, inst.PlanID)
}

// recordFailure applies the failure outcome to the installment and, when
// the attempt budget is exhausted, defaults the plan and alerts staff.
func (s *BillingService) recordFailure(ctx context.Context, instID uuid.UUID, reason string, maxAttempts int, patient *models.Patient, alertStaff bool) (retried, defaulted bool, err error) {
	var exhausted bool
	var updated *models.Installment
	err = s.installments.UpdateWithRetry(ctx, instID, func(i *models.Installment) error {
		if i.Status == models.InstallmentStatusPaid {
			return errNoChange
		}
		r := reason
		i.LastFailureReason = &r
		if i.AttemptCount >= maxAttempts {
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
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}

	utils.Logger.Warnf("Installment %s charge failed (attempt %d/%d): %s",
		instID, updated.AttemptCount, maxAttempts, reason)

	if alertStaff && patient != nil {
		s.notifier.AlertStaffInstallmentFailed(patient, updated, reason)
	}

	if !exhausted {
		return true, false, nil
	}

	defaulted, err = defaultPlan(ctx, s.plans, updated.PlanID)
	if err != nil {
		return false, false, err
	}
	if !defaulted {
		return false, false, nil
	}

	utils.Logger.Warnf("Payment plan %s defaulted after installment %s exhausted attempts", updated.PlanID, instID)
	if alertStaff && patient != nil {
		if plan, perr := s.plans.GetByID(ctx, updated.PlanID); perr == nil && plan != nil {
			s.notifier.AlertStaffPlanDefaulted(patient, plan)
		}
	}
	return false, true, nil
}

// sendReminders notifies patients of installments coming due inside the
// window, at most once per installment.
func (s *BillingService) sendReminders(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	upcoming, err := s.installments.FindDueForReminder(ctx, now, window)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, inst := range upcoming {
		patient, err := s.patients.GetByID(ctx, inst.PatientID)
		if err != nil || patient == nil {
			utils.Logger.Warnf("Skipping reminder for installment %s: patient %s not found", inst.ID, inst.PatientID)
			continue
		}

		err = s.installments.UpdateWithRetry(ctx, inst.ID, func(i *models.Installment) error {
			if i.ReminderSentAt != nil {
				return errNoChange
			}
			t := time.Now().UTC()
			i.ReminderSentAt = &t
			return nil
		})
		if errors.Is(err, errNoChange) {
			continue
		}
		if err != nil {
			utils.Logger.WithError(err).Warnf("Failed to mark reminder for installment %s", inst.ID)
			continue
		}

		s.notifier.SendInstallmentReminder(patient, inst)
		sent++
	}
	return sent, nil
}

// settlePlanIfPaid flips the plan to COMPLETED once every installment is
// PAID. Terminal plans are never touched.
func settlePlanIfPaid(ctx context.Context, installments repositories.InstallmentRepository, plans repositories.PaymentPlanRepository, planID uuid.UUID) (bool, error) {
	unpaid, err := installments.CountUnpaidByPlan(ctx, planID)
	if err != nil {
		return false, err
	}
	if unpaid > 0 {
		return false, nil
	}
	err = plans.UpdateWithRetry(ctx, planID, func(p *models.PaymentPlan) error {
		if p.Status.IsTerminal() {
			return errNoChange
		}
		p.Status = models.PlanStatusCompleted
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	utils.Logger.Infof("Payment plan %s completed", planID)
	return true, nil
}

// defaultPlan marks the plan DEFAULTED after an installment exhausts its
// attempt budget. Terminal plans are never touched.
func defaultPlan(ctx context.Context, plans repositories.PaymentPlanRepository, planID uuid.UUID) (bool, error) {
	err := plans.UpdateWithRetry(ctx, planID, func(p *models.PaymentPlan) error {
		if p.Status.IsTerminal() {
			return errNoChange
		}
		p.Status = models.PlanStatusDefaulted
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
