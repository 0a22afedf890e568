package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicelineai/voiceline-platform/cmd/mainconfig"
	"github.com/voicelineai/voiceline-platform/internal/alerting"
	"github.com/voicelineai/voiceline-platform/internal/classify"
	appconfig "github.com/voicelineai/voiceline-platform/internal/config"
	"github.com/voicelineai/voiceline-platform/internal/customers"
	"github.com/voicelineai/voiceline-platform/internal/delivery"
	"github.com/voicelineai/voiceline-platform/internal/observability/metrics"
	"github.com/voicelineai/voiceline-platform/internal/queue"
	"github.com/voicelineai/voiceline-platform/internal/scheduling"
	"github.com/voicelineai/voiceline-platform/internal/tenant"
	"github.com/voicelineai/voiceline-platform/internal/webhook"
	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voiceline-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := mainconfig.NewRedisClient(cfg)
	tenants := tenant.NewCachedStore(tenant.NewStore(redisClient), cfg.TenantCacheTTL)

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var sesClient *sesv2.Client
	if cfg.SESFromEmail != "" {
		sesClient = sesv2.NewFromConfig(awsCfg)
	}

	m := metrics.New(nil)

	smsSender, smsProvider, smsReason := delivery.BuildSMSSender(delivery.SMSConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TelnyxFromNumber: cfg.TelnyxFromNumber,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}, logger)
	if smsSender == nil {
		logger.Warn("no SMS sender configured", "reason", smsReason)
	} else {
		logger.Info("SMS sender configured", "provider", smsProvider)
	}

	emailSender, emailProvider, emailReason := delivery.BuildEmailSender(delivery.EmailConfig{
		SendGrid: delivery.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		},
		SESClient: sesClient,
		SES: delivery.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		},
	}, logger)
	if emailSender == nil {
		logger.Warn("no email sender configured", "reason", emailReason)
	} else {
		logger.Info("email sender configured", "provider", emailProvider)
	}

	alertCfg := alerting.Config{ThrottleWindow: cfg.AlertThrottleWindow}
	if cfg.OperatorPhone != "" {
		alertCfg.SMSRecipients = []string{cfg.OperatorPhone}
	}
	if cfg.OperatorEmail != "" {
		alertCfg.EmailRecipients = []string{cfg.OperatorEmail}
	}
	alerts := alerting.NewService(smsSender, emailSender, alertCfg, logger)

	var primaryClassifier classify.Classifier
	if cfg.BedrockModelID != "" {
		primaryClassifier = classify.NewBedrockClassifier(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
	}
	classifier := classify.NewFallbackClassifier(primaryClassifier, logger)

	queueStore := queue.NewStore(pool).WithDefaultMaxAttempts(cfg.QueueMaxAttempts)
	customerStore := customers.NewStore(pool)
	scheduler := scheduling.NewService(queueStore, tenants, logger)

	router := webhook.NewRouter(webhook.NewLedger(pool), logger).
		WithMetrics(m).
		WithAlerter(alerts)
	router.Register(webhook.EventTypeCallEnded,
		webhook.NewCallEndedHandler(customerStore, classifier, scheduler, logger))
	router.Register(webhook.EventTypeAppointmentCancelled,
		webhook.NewAppointmentCancelledHandler(scheduler, logger))

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.Timeout(30 * time.Second))

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Post("/webhooks/{provider}", router.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight webhook handlers finish before the process exits.
	router.Wait()
	logger.Info("server stopped")
}
