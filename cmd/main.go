package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
	_ "time/tzdata"

	"github.com/alarconm/chiroflow-landing-sub015/internal/app"
	"github.com/alarconm/chiroflow-landing-sub015/internal/config"
	"github.com/alarconm/chiroflow-landing-sub015/internal/constants"
	"github.com/alarconm/chiroflow-landing-sub015/internal/controllers"
	"github.com/alarconm/chiroflow-landing-sub015/internal/dtos"
	"github.com/alarconm/chiroflow-landing-sub015/internal/gateway"
	"github.com/alarconm/chiroflow-landing-sub015/internal/middleware"
	"github.com/alarconm/chiroflow-landing-sub015/internal/repositories"
	"github.com/alarconm/chiroflow-landing-sub015/internal/routes"
	"github.com/alarconm/chiroflow-landing-sub015/internal/services"
	"github.com/alarconm/chiroflow-landing-sub015/internal/utils"
)

const appName = "billing-service"

func main() {
	utils.InitLogger(appName)
	cfg := config.LoadConfig(appName)

	application, err := app.NewApp(cfg)
	if err != nil {
		utils.Logger.Fatal("Failed to initialize billing-service:", err)
	}
	defer application.Close()

	// Repositories
	patientRepo := repositories.NewPatientRepository(application.DB)
	invoiceRepo := repositories.NewInvoiceRepository(application.DB)
	planRepo := repositories.NewPaymentPlanRepository(application.DB)
	installmentRepo := repositories.NewInstallmentRepository(application.DB)
	ledgerRepo := repositories.NewLedgerRepository(application.DB)
	webhookEventRepo := repositories.NewWebhookEventRepository(application.DB)
	billingRunRepo := repositories.NewBillingRunRepository(application.DB)

	// Payment processors
	stripeGw := gateway.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	squareGw := gateway.NewSquareGateway(cfg.SquareAccessToken, cfg.SquareWebhookSecret, cfg.SquareNotificationURL, cfg.SquareBaseURL)
	mockGw := gateway.NewMockGateway(cfg.MockWebhookSecret)

	var chargeGw gateway.PaymentGateway
	switch cfg.PaymentProcessor {
	case gateway.ProcessorStripe:
		chargeGw = stripeGw
	case gateway.ProcessorSquare:
		chargeGw = squareGw
	case gateway.ProcessorMock:
		chargeGw = mockGw
	default:
		utils.Logger.Fatalf("Unknown PAYMENT_PROCESSOR: %s", cfg.PaymentProcessor)
	}
	utils.Logger.Infof("Charging through the %s gateway", chargeGw.Name())

	// Services
	notifier := services.NewNotificationService(cfg)
	webhookService := services.NewWebhookService(
		[]gateway.WebhookVerifier{stripeGw, squareGw, mockGw},
		webhookEventRepo, installmentRepo, planRepo, patientRepo, invoiceRepo, ledgerRepo, notifier,
	)
	billingService := services.NewBillingService(
		cfg, chargeGw, installmentRepo, planRepo, patientRepo, ledgerRepo, billingRunRepo, notifier,
	)
	planService := services.NewPlanService(planRepo, installmentRepo, patientRepo, invoiceRepo, ledgerRepo)

	// Controllers
	healthController := controllers.NewHealthController(application)
	webhookController := controllers.NewWebhookController(webhookService, cfg.PaymentProcessor)
	billingJobController := controllers.NewBillingJobController(billingService)
	planController := controllers.NewPlanController(planService)

	// Router setup
	router := mux.NewRouter()

	// Public routes
	router.HandleFunc(routes.Health, healthController.HealthCheckHandler).Methods(http.MethodGet)
	router.HandleFunc(routes.BillingWebhook, webhookController.WebhookHandler).Methods(http.MethodPost)

	// Billing run trigger, guarded by the shared cron secret
	jobRoutes := router.NewRoute().Subrouter()
	jobRoutes.Use(middleware.CronAuthMiddleware(cfg.CronSecret))
	jobRoutes.HandleFunc(routes.BillingRun, billingJobController.RunHandler).Methods(http.MethodGet, http.MethodPost)

	// Staff routes
	secured := router.NewRoute().Subrouter()
	secured.Use(middleware.StaffAuthMiddleware(cfg.RSAPublicKey))
	secured.HandleFunc(routes.BillingPlans, planController.CreatePlanHandler).Methods(http.MethodPost)
	secured.HandleFunc(routes.BillingPlanByID, planController.GetPlanHandler).Methods(http.MethodGet)
	secured.HandleFunc(routes.BillingInvoiceBalance, planController.GetInvoiceBalanceHandler).Methods(http.MethodGet)

	// Cron job setup
	if cfg.EnableCron {
		c := cron.New(cron.WithLocation(time.UTC))
		_, err = c.AddFunc(constants.BillingCronSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), constants.BillingRunTimeout)
			defer cancel()
			utils.Logger.Info("Starting scheduled billing run...")
			if _, err := billingService.RunBillingCycle(ctx, dtos.BillingRunOverrides{
				SendReminders: true,
				AlertStaff:    true,
			}); err != nil {
				utils.Logger.WithError(err).Error("Scheduled billing run failed")
			}
		})
		if err != nil {
			utils.Logger.WithError(err).Fatal("Failed to schedule billing cron")
		}
		c.Start()
		utils.Logger.Infof("Scheduled billing cron (%s)", constants.BillingCronSpec)
	}

	co := cors.New(cors.Options{
		AllowedOrigins:   []string{"https://app.chiroflow.app"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.CronSecretHeader},
		AllowCredentials: true,
	})

	utils.Logger.Infof("Starting %s on port: %s", cfg.AppName, cfg.AppPort)
	if err := http.ListenAndServe(":"+cfg.AppPort, co.Handler(router)); err != nil {
		utils.Logger.Fatal("billing-service failed to start:", err)
	}
}
