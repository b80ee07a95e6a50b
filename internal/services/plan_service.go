package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/repositories"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

const defaultInstallmentIntervalDays = 30

// PlanService handles payment plan enrollment and staff-facing reads.
type PlanService struct {
	plans        repositories.PaymentPlanRepository
	installments repositories.InstallmentRepository
	patients     repositories.PatientRepository
	invoices     repositories.InvoiceRepository
	ledger       repositories.LedgerRepository
}

func NewPlanService(
	plans repositories.PaymentPlanRepository,
	installments repositories.InstallmentRepository,
	patients repositories.PatientRepository,
	invoices repositories.InvoiceRepository,
	ledger repositories.LedgerRepository,
) *PlanService {
	return &PlanService{
		plans:        plans,
		installments: installments,
		patients:     patients,
		invoices:     invoices,
		ledger:       ledger,
	}
}

// CreatePlan enrolls an invoice into an installment plan. The total is
// split evenly across the installments with any remainder cents folded
// into the final one, and the invoice's CHARGE posting is written so the
// ledger balance starts at the full amount owed.
func (s *PlanService) CreatePlan(ctx context.Context, req dtos.CreatePaymentPlanRequest) (*dtos.PaymentPlanResponse, error) {
	patient, err := s.patients.GetByID(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return nil, &utils.AppError{
			StatusCode: http.StatusNotFound,
			Code:       utils.ErrCodeNotFound,
			Message:    "Patient not found",
			Err:        utils.ErrPatientNotFound,
		}
	}

	invoice, err := s.invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, &utils.AppError{
			StatusCode: http.StatusNotFound,
			Code:       utils.ErrCodeNotFound,
			Message:    "Invoice not found",
			Err:        utils.ErrInvoiceNotFound,
		}
	}
	if invoice.PatientID != req.PatientID {
		return nil, &utils.AppError{
			StatusCode: http.StatusUnprocessableEntity,
			Code:       utils.ErrCodeValidation,
			Message:    "Invoice does not belong to the patient",
		}
	}

	intervalDays := req.IntervalDays
	if intervalDays <= 0 {
		intervalDays = defaultInstallmentIntervalDays
	}

	perInstallment := req.TotalAmountCents / int64(req.InstallmentCount)
	remainder := req.TotalAmountCents - perInstallment*int64(req.InstallmentCount)

	plan := &models.PaymentPlan{
		ID:                     uuid.New(),
		PatientID:              req.PatientID,
		InvoiceID:              req.InvoiceID,
		TotalAmountCents:       req.TotalAmountCents,
		InstallmentCount:       req.InstallmentCount,
		InstallmentAmountCents: perInstallment,
		Status:                 models.PlanStatusActive,
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, err
	}

	installments := make([]*models.Installment, 0, req.InstallmentCount)
	for seq := 1; seq <= req.InstallmentCount; seq++ {
		amount := perInstallment
		if seq == req.InstallmentCount {
			amount += remainder
		}
		inst := &models.Installment{
			ID:          uuid.New(),
			PlanID:      plan.ID,
			PatientID:   req.PatientID,
			InvoiceID:   req.InvoiceID,
			Sequence:    seq,
			AmountCents: amount,
			DueDate:     req.FirstDueDate.AddDate(0, 0, (seq-1)*intervalDays).UTC(),
			Status:      models.InstallmentStatusPending,
		}
		if err := s.installments.Create(ctx, inst); err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}

	sourceID := "plan:" + plan.ID.String()
	if _, err := s.ledger.Create(ctx, &models.LedgerEntry{
		ID:            uuid.New(),
		InvoiceID:     req.InvoiceID,
		PatientID:     req.PatientID,
		Type:          models.LedgerEntryCharge,
		AmountCents:   req.TotalAmountCents,
		Description:   fmt.Sprintf("Payment plan enrollment (%d installments)", req.InstallmentCount),
		SourceEventID: &sourceID,
	}); err != nil {
		return nil, err
	}

	utils.Logger.Infof("Enrolled invoice %s in payment plan %s (%d x %d cents)",
		req.InvoiceID, plan.ID, req.InstallmentCount, perInstallment)
	return toPlanResponse(plan, installments), nil
}

// GetPlan returns a plan with its installment schedule.
func (s *PlanService) GetPlan(ctx context.Context, id uuid.UUID) (*dtos.PaymentPlanResponse, error) {
	plan, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, &utils.AppError{
			StatusCode: http.StatusNotFound,
			Code:       utils.ErrCodeNotFound,
			Message:    "Payment plan not found",
			Err:        utils.ErrPlanNotFound,
		}
	}
	installments, err := s.installments.ListByPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return toPlanResponse(plan, installments), nil
}

// GetInvoiceBalance reports the signed ledger sum for an invoice.
func (s *PlanService) GetInvoiceBalance(ctx context.Context, invoiceID uuid.UUID) (*dtos.InvoiceBalanceResponse, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, &utils.AppError{
			StatusCode: http.StatusNotFound,
			Code:       utils.ErrCodeNotFound,
			Message:    "Invoice not found",
			Err:        utils.ErrInvoiceNotFound,
		}
	}
	entries, err := s.ledger.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	var balance int64
	for _, e := range entries {
		balance += e.AmountCents
	}
	return &dtos.InvoiceBalanceResponse{
		InvoiceID:    invoiceID,
		BalanceCents: balance,
		EntryCount:   len(entries),
	}, nil
}

func toPlanResponse(plan *models.PaymentPlan, installments []*models.Installment) *dtos.PaymentPlanResponse {
	resp := &dtos.PaymentPlanResponse{
		ID:                     plan.ID,
		PatientID:              plan.PatientID,
		InvoiceID:              plan.InvoiceID,
		TotalAmountCents:       plan.TotalAmountCents,
		InstallmentCount:       plan.InstallmentCount,
		InstallmentAmountCents: plan.InstallmentAmountCents,
		Status:                 string(plan.Status),
		CreatedAt:              plan.CreatedAt,
	}
	for _, i := range installments {
		resp.Installments = append(resp.Installments, dtos.InstallmentResponse{
			ID:                i.ID,
			Sequence:          i.Sequence,
			AmountCents:       i.AmountCents,
			DueDate:           i.DueDate,
			Status:            string(i.Status),
			AttemptCount:      i.AttemptCount,
			LastAttemptAt:     i.LastAttemptAt,
			LastFailureReason: i.LastFailureReason,
			PaidAt:            i.PaidAt,
		})
	}
	return resp
}
