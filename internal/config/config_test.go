package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("default port = %q", cfg.Port)
	}
	if cfg.QueueMaxAttempts != 3 {
		t.Fatalf("default max attempts = %d", cfg.QueueMaxAttempts)
	}
	if cfg.QueueRetryDelay != time.Minute {
		t.Fatalf("default retry delay = %s", cfg.QueueRetryDelay)
	}
	if cfg.QueueBatchSize != 50 {
		t.Fatalf("default batch size = %d", cfg.QueueBatchSize)
	}
	if cfg.AlertThrottleWindow != 15*time.Minute {
		t.Fatalf("default throttle window = %s", cfg.AlertThrottleWindow)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_POLL_INTERVAL", "250ms")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("SMS_PROVIDER", " Telnyx ")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()
	if cfg.QueuePollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %s", cfg.QueuePollInterval)
	}
	if cfg.QueueMaxAttempts != 5 {
		t.Fatalf("max attempts = %d", cfg.QueueMaxAttempts)
	}
	if cfg.SMSProvider != "telnyx" {
		t.Fatalf("sms provider = %q", cfg.SMSProvider)
	}
	if !cfg.RedisTLS {
		t.Fatal("expected redis tls enabled")
	}
}

func TestEnvParseFailureFallsBack(t *testing.T) {
	t.Setenv("QUEUE_BATCH_SIZE", "not-a-number")
	t.Setenv("QUEUE_RETRY_DELAY", "soon")
	cfg := Load()
	if cfg.QueueBatchSize != 50 {
		t.Fatalf("batch size = %d", cfg.QueueBatchSize)
	}
	if cfg.QueueRetryDelay != time.Minute {
		t.Fatalf("retry delay = %s", cfg.QueueRetryDelay)
	}
}
