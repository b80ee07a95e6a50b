package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/services"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

type PlanController struct {
	planService *services.PlanService
	validate    *validator.Validate
}

func NewPlanController(planService *services.PlanService) *PlanController {
	return &PlanController{
		planService: planService,
		validate:    validator.New(),
	}
}

// CreatePlanHandler -> POST /api/v1/billing/plans
func (c *PlanController) CreatePlanHandler(w http.ResponseWriter, r *http.Request) {
	var req dtos.CreatePaymentPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid JSON body", nil, err)
		return
	}
	if err := c.validate.Struct(req); err != nil {
		utils.RespondErrorWithCode(w, http.StatusUnprocessableEntity, utils.ErrCodeValidation, "Validation failed", validationDetails(err))
		return
	}

	resp, err := c.planService.CreatePlan(r.Context(), req)
	if err != nil {
		utils.HandleAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, resp)
}

// GetPlanHandler -> GET /api/v1/billing/plans/{id}
func (c *PlanController) GetPlanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid plan ID", nil)
		return
	}

	resp, err := c.planService.GetPlan(r.Context(), id)
	if err != nil {
		utils.HandleAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// GetInvoiceBalanceHandler -> GET /api/v1/billing/invoices/{id}/balance
func (c *PlanController) GetInvoiceBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid invoice ID", nil)
		return
	}

	resp, err := c.planService.GetInvoiceBalance(r.Context(), id)
	if err != nil {
		utils.HandleAppError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func validationDetails(err error) []string {
	var out []string
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		for _, fe := range vErrs {
			out = append(out, fe.Field()+": failed '"+fe.Tag()+"' validation")
		}
	}
	return out
}
