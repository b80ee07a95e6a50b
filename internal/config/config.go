package config

import (
	"crypto/rsa"
	"encoding/base64"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

type Config struct {
	AppName string
	Env     string
	AppPort string

	DBUrl string

	// PaymentProcessor selects which gateway performs outbound charges
	// ("stripe", "square", or "mock"). Webhook verification is always
	// dispatched by the processor named in the request, independent of
	// this setting.
	PaymentProcessor string

	StripeSecretKey     string
	StripeWebhookSecret string

	SquareAccessToken     string
	SquareWebhookSecret   string
	SquareNotificationURL string
	SquareBaseURL         string

	MockWebhookSecret string

	CronSecret string
	EnableCron bool

	RSAPublicKey *rsa.PublicKey

	SendgridAPIKey    string
	SendgridFromEmail string
	StaffAlertEmail   string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

func LoadConfig(appName string) *Config {
	utils.Logger.Info("Loading config for app: ", appName)

	env := os.Getenv("ENV")
	if env == "" {
		utils.Logger.Fatal("ENV env var is missing")
	}
	appPort := os.Getenv("APP_PORT")
	if appPort == "" {
		utils.Logger.Fatal("APP_PORT env var is missing")
	}
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		utils.Logger.Fatal("DB_URL env var is missing")
	}

	processor := os.Getenv("PAYMENT_PROCESSOR")
	if processor == "" {
		processor = "mock"
	}

	stripeSecretKey := os.Getenv("STRIPE_SECRET_KEY")
	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if processor == "stripe" && (stripeSecretKey == "" || stripeWebhookSecret == "") {
		utils.Logger.Fatal("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required when PAYMENT_PROCESSOR=stripe")
	}

	squareAccessToken := os.Getenv("SQUARE_ACCESS_TOKEN")
	squareWebhookSecret := os.Getenv("SQUARE_WEBHOOK_SECRET")
	squareNotificationURL := os.Getenv("SQUARE_NOTIFICATION_URL")
	if processor == "square" && (squareAccessToken == "" || squareWebhookSecret == "" || squareNotificationURL == "") {
		utils.Logger.Fatal("SQUARE_ACCESS_TOKEN, SQUARE_WEBHOOK_SECRET and SQUARE_NOTIFICATION_URL are required when PAYMENT_PROCESSOR=square")
	}

	mockWebhookSecret := os.Getenv("MOCK_WEBHOOK_SECRET")
	if processor == "mock" && mockWebhookSecret == "" {
		utils.Logger.Fatal("MOCK_WEBHOOK_SECRET env var is missing")
	}

	cronSecret := os.Getenv("CRON_SECRET")
	if env == "production" && cronSecret == "" {
		utils.Logger.Fatal("CRON_SECRET env var is required in production")
	}

	pubB64 := os.Getenv("RSA_PUBLIC_KEY_BASE64")
	if pubB64 == "" {
		utils.Logger.Fatal("RSA_PUBLIC_KEY_BASE64 env var is missing")
	}
	pubPEM, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		utils.Logger.WithError(err).Fatal("RSA_PUBLIC_KEY_BASE64 is not valid base64")
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to parse RSA public key")
	}

	sendgridAPIKey := os.Getenv("SENDGRID_API_KEY")
	if env == "production" && sendgridAPIKey == "" {
		utils.Logger.Fatal("SENDGRID_API_KEY env var is required in production")
	}
	sendgridFromEmail := os.Getenv("SENDGRID_FROM_EMAIL")
	if sendgridFromEmail == "" {
		sendgridFromEmail = "no-reply@chiroflow.app"
	}
	staffAlertEmail := os.Getenv("STAFF_ALERT_EMAIL")
	if env == "production" && staffAlertEmail == "" {
		utils.Logger.Fatal("STAFF_ALERT_EMAIL env var is required in production")
	}

	twilioAccountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	twilioAuthToken := os.Getenv("TWILIO_AUTH_TOKEN")
	twilioFromNumber := os.Getenv("TWILIO_FROM_NUMBER")
	if env == "production" && (twilioAccountSID == "" || twilioAuthToken == "" || twilioFromNumber == "") {
		utils.Logger.Fatal("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required in production")
	}

	return &Config{
		AppName:               appName,
		Env:                   env,
		AppPort:               appPort,
		DBUrl:                 dbURL,
		PaymentProcessor:      processor,
		StripeSecretKey:       stripeSecretKey,
		StripeWebhookSecret:   stripeWebhookSecret,
		SquareAccessToken:     squareAccessToken,
		SquareWebhookSecret:   squareWebhookSecret,
		SquareNotificationURL: squareNotificationURL,
		SquareBaseURL:         os.Getenv("SQUARE_BASE_URL"),
		MockWebhookSecret:     mockWebhookSecret,
		CronSecret:            cronSecret,
		EnableCron:            os.Getenv("DISABLE_CRON") != "true",
		RSAPublicKey:          pubKey,
		SendgridAPIKey:        sendgridAPIKey,
		SendgridFromEmail:     sendgridFromEmail,
		StaffAlertEmail:       staffAlertEmail,
		TwilioAccountSID:      twilioAccountSID,
		TwilioAuthToken:       twilioAuthToken,
		TwilioFromNumber:      twilioFromNumber,
	}
}
