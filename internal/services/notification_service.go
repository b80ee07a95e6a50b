package services

import (
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	twilio "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/alarconm/chiroflow-landing-sub015/internal/config"
	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/models"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

// Notifier sends the billing cycle's outbound messages. Failures are
// logged by implementations and never fail the billing run.
type Notifier interface {
	SendInstallmentReminder(patient *models.Patient, inst *models.Installment)
	AlertStaffInstallmentFailed(patient *models.Patient, inst *models.Installment, reason string)
	AlertStaffPlanDefaulted(patient *models.Patient, plan *models.PaymentPlan)
}

type NotificationService struct {
	cfg            *config.Config
	sendgridClient *sendgrid.Client
	twilioClient   *twilio.RestClient
}

func NewNotificationService(cfg *config.Config) *NotificationService {
	s := &NotificationService{cfg: cfg}
	if cfg.SendgridAPIKey != "" {
		s.sendgridClient = sendgrid.NewSendClient(cfg.SendgridAPIKey)
	}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		s.twilioClient = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		})
	}
	return s
}

const reminderSMSBody = "Hi %s, a payment of $%.2f for your care plan is scheduled for %s. No action is needed if your card on file is up to date."

func (s *NotificationService) SendInstallmentReminder(patient *models.Patient, inst *models.Installment) {
	if patient.PhoneNumber == nil || *patient.PhoneNumber == "" {
		utils.Logger.Warnf("Patient %s has no phone number, skipping reminder for installment %s", patient.ID, inst.ID)
		return
	}
	if s.twilioClient == nil {
		utils.Logger.Warnf("Twilio client is nil, skipping reminder SMS for installment %s", inst.ID)
		return
	}

	body := fmt.Sprintf(reminderSMSBody,
		patient.FirstName,
		float64(inst.AmountCents)/100.0,
		inst.DueDate.Format("January 2, 2006"),
	)

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(*patient.PhoneNumber)
	params.SetFrom(s.cfg.TwilioFromNumber)
	params.SetBody(body)
	if _, err := s.twilioClient.Api.CreateMessage(params); err != nil {
		utils.Logger.WithError(err).Warnf("Failed to send reminder SMS for installment %s", inst.ID)
		return
	}
	utils.Logger.Infof("Sent payment reminder SMS for installment %s to patient %s", inst.ID, patient.ID)
}

const staffFailureEmailHTML = `
<html>
  <body>
    <h2>%s</h2>
    <p>An automatic installment charge could not be collected.</p>
    <ul>
      <li><b>Patient:</b> %s %s (%s)</li>
      <li><b>Installment:</b> %s (attempt %d)</li>
      <li><b>Amount:</b> $%.2f</li>
      <li><b>Reason:</b> %s</li>
    </ul>
    <p>Generated %s</p>
  </body>
</html>`

func (s *NotificationService) AlertStaffInstallmentFailed(patient *models.Patient, inst *models.Installment, reason string) {
	subject := fmt.Sprintf(constants.EmailSubjectInstallmentDefaulted, patient.ID)
	plain := fmt.Sprintf(
		"Installment %s for patient %s %s failed its charge attempt %d. Amount: $%.2f. Reason: %s",
		inst.ID, patient.FirstName, patient.LastName, inst.AttemptCount,
		float64(inst.AmountCents)/100.0, reason,
	)
	html := fmt.Sprintf(staffFailureEmailHTML,
		subject,
		patient.FirstName, patient.LastName, patient.ID,
		inst.ID, inst.AttemptCount,
		float64(inst.AmountCents)/100.0,
		reason,
		time.Now().UTC().Format(time.RFC1123Z),
	)
	s.sendStaffEmail(subject, plain, html)
}

const staffDefaultedEmailHTML = `
<html>
  <body>
    <h2>%s</h2>
    <p>A payment plan has exhausted its retry attempts and was marked DEFAULTED.</p>
    <ul>
      <li><b>Patient:</b> %s %s (%s)</li>
      <li><b>Plan:</b> %s</li>
      <li><b>Plan total:</b> $%.2f</li>
    </ul>
    <p>Follow up with the patient to arrange payment.</p>
    <p>Generated %s</p>
  </body>
</html>`

func (s *NotificationService) AlertStaffPlanDefaulted(patient *models.Patient, plan *models.PaymentPlan) {
	subject := fmt.Sprintf(constants.EmailSubjectPlanDefaulted, patient.ID)
	plain := fmt.Sprintf(
		"Payment plan %s for patient %s %s was marked DEFAULTED after exhausting charge attempts. Plan total: $%.2f.",
		plan.ID, patient.FirstName, patient.LastName,
		float64(plan.TotalAmountCents)/100.0,
	)
	html := fmt.Sprintf(staffDefaultedEmailHTML,
		subject,
		patient.FirstName, patient.LastName, patient.ID,
		plan.ID,
		float64(plan.TotalAmountCents)/100.0,
		time.Now().UTC().Format(time.RFC1123Z),
	)
	s.sendStaffEmail(subject, plain, html)
}

func (s *NotificationService) sendStaffEmail(subject, plain, html string) {
	if s.sendgridClient == nil {
		utils.Logger.Warn("SendGrid client is nil, skipping staff alert email")
		return
	}
	if s.cfg.StaffAlertEmail == "" {
		utils.Logger.Warn("STAFF_ALERT_EMAIL not configured, skipping staff alert email")
		return
	}

	from := mail.NewEmail(s.cfg.AppName, s.cfg.SendgridFromEmail)
	to := mail.NewEmail("Billing Staff", s.cfg.StaffAlertEmail)
	msg := mail.NewSingleEmail(from, subject, to, plain, html)
	msg.TrackingSettings = &mail.TrackingSettings{
		ClickTracking: &mail.ClickTrackingSetting{
			Enable: utils.Ptr(false),
		},
	}
	if _, err := s.sendgridClient.Send(msg); err != nil {
		utils.Logger.WithError(err).Error("Failed to send staff alert email")
	}
}
