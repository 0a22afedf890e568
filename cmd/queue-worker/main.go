package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicelineai/voiceline-platform/cmd/mainconfig"
	"github.com/voicelineai/voiceline-platform/internal/alerting"
	appconfig "github.com/voicelineai/voiceline-platform/internal/config"
	"github.com/voicelineai/voiceline-platform/internal/delivery"
	"github.com/voicelineai/voiceline-platform/internal/observability/metrics"
	"github.com/voicelineai/voiceline-platform/internal/queue"
	"github.com/voicelineai/voiceline-platform/internal/tenant"
	"github.com/voicelineai/voiceline-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting queue worker",
		"env", cfg.Env,
		"poll_interval", cfg.QueuePollInterval,
		"batch_size", cfg.QueueBatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		logger.Warn("no SMS sender configured, SMS messages will dead-letter", "reason", smsReason)
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
		logger.Warn("no email sender configured, email messages will dead-letter", "reason", emailReason)
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

	senders := map[queue.Channel]delivery.Sender{}
	if smsSender != nil {
		senders[queue.ChannelSMS] = smsSender
	}
	if emailSender != nil {
		senders[queue.ChannelEmail] = emailSender
	}

	store := queue.NewStore(pool).WithDefaultMaxAttempts(cfg.QueueMaxAttempts)
	processor := queue.NewProcessor(store, senders, logger).
		WithInterval(cfg.QueuePollInterval).
		WithBatchSize(cfg.QueueBatchSize).
		WithMaxInFlight(cfg.QueueMaxInFlight).
		WithRetryDelay(cfg.QueueRetryDelay).
		WithSendTimeout(cfg.DeliverySendTimeout).
		WithTenantConfigs(tenants).
		WithAlerter(alerts).
		WithMetrics(metrics.New(nil))

	// Health, metrics, and the queue admin surface. Admin lives here
	// rather than on the API because retry wants to kick the processor
	// immediately instead of waiting out a poll interval.
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Route("/admin/queue", queue.NewHandler(store, processor.Trigger, logger).Routes)
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker http server error", "error", err)
		}
	}()

	processor.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("queue worker stopped")
}
