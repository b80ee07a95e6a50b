package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/services"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

type BillingJobController struct {
	billingService *services.BillingService
	validate       *validator.Validate
}

func NewBillingJobController(billingService *services.BillingService) *BillingJobController {
	return &BillingJobController{
		billingService: billingService,
		validate:       validator.New(),
	}
}

// RunHandler -> GET|POST /api/v1/billing/run
//
// Query params override the configured retry policy for this invocation
// only: maxRetryAttempts, retryIntervalDays, reminderDays, sendReminders,
// alertStaff.
func (c *BillingJobController) RunHandler(w http.ResponseWriter, r *http.Request) {
	overrides, err := parseRunOverrides(r)
	if err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, err.Error(), nil)
		return
	}
	if err := c.validate.Struct(overrides); err != nil {
		utils.RespondErrorWithCode(w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid billing run overrides", err.Error())
		return
	}

	result, err := c.billingService.RunBillingCycle(r.Context(), overrides)
	if err != nil {
		if errors.Is(err, utils.ErrRunInProgress) {
			utils.RespondErrorWithCode(w, http.StatusConflict, utils.ErrCodeRunInProgress, "A billing run is already in progress", nil)
			return
		}
		utils.RespondErrorWithCode(w, http.StatusInternalServerError, utils.ErrCodeInternal, "Billing run failed", nil, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, result)
}

func parseRunOverrides(r *http.Request) (dtos.BillingRunOverrides, error) {
	q := r.URL.Query()
	overrides := dtos.BillingRunOverrides{
		SendReminders: true,
		AlertStaff:    true,
	}

	parseInt := func(name string, dst *int) error {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return errors.New("invalid '" + name + "' query param")
		}
		*dst = v
		return nil
	}
	if err := parseInt("maxRetryAttempts", &overrides.MaxRetryAttempts); err != nil {
		return overrides, err
	}
	if err := parseInt("retryIntervalDays", &overrides.RetryIntervalDays); err != nil {
		return overrides, err
	}
	if err := parseInt("reminderDays", &overrides.ReminderDays); err != nil {
		return overrides, err
	}

	parseBool := func(name string, dst *bool) error {
		raw := q.Get(name)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return errors.New("invalid '" + name + "' query param")
		}
		*dst = v
		return nil
	}
	if err := parseBool("sendReminders", &overrides.SendReminders); err != nil {
		return overrides, err
	}
	if err := parseBool("alertStaff", &overrides.AlertStaff); err != nil {
		return overrides, err
	}

	return overrides, nil
}
