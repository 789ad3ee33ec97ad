package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DISPATCH_INTERVAL", "")
	t.Setenv("DISPATCH_BATCH_SIZE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("SMTP_PORT", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.DispatchInterval != 30*time.Second {
		t.Fatalf("expected default dispatch interval, got %s", cfg.DispatchInterval)
	}
	if cfg.DispatchBatchSize != 50 {
		t.Fatalf("expected default batch size 50, got %d", cfg.DispatchBatchSize)
	}
	if cfg.DispatchReclaimAfter != 30*time.Minute {
		t.Fatalf("expected default reclaim timeout, got %s", cfg.DispatchReclaimAfter)
	}
	if cfg.ScheduleWriteAttempts != 3 {
		t.Fatalf("expected 3 schedule write attempts, got %d", cfg.ScheduleWriteAttempts)
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no cors origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.DispatchWorkerID == "" {
		t.Fatalf("expected worker id to default to hostname")
	}
	if cfg.SMTPPort != 587 {
		t.Fatalf("expected default smtp port 587, got %d", cfg.SMTPPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("DISPATCH_INTERVAL", "5s")
	t.Setenv("DISPATCH_BATCH_SIZE", "10")
	t.Setenv("DISPATCH_RECLAIM_AFTER", "2m")
	t.Setenv("DISPATCH_WORKER_ID", "worker-7")
	t.Setenv("SMS_PROVIDER", " Twilio ")
	t.Setenv("EVENTS_RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("USE_MEMORY_STORE", "true")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.DispatchInterval != 5*time.Second {
		t.Fatalf("expected dispatch interval override, got %s", cfg.DispatchInterval)
	}
	if cfg.DispatchBatchSize != 10 {
		t.Fatalf("expected batch size override, got %d", cfg.DispatchBatchSize)
	}
	if cfg.DispatchReclaimAfter != 2*time.Minute {
		t.Fatalf("expected reclaim override, got %s", cfg.DispatchReclaimAfter)
	}
	if cfg.DispatchWorkerID != "worker-7" {
		t.Fatalf("expected worker id override, got %s", cfg.DispatchWorkerID)
	}
	if cfg.SMSProvider != "twilio" {
		t.Fatalf("expected normalized sms provider, got %q", cfg.SMSProvider)
	}
	if cfg.EventsRateLimitRPS != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.EventsRateLimitRPS)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if !cfg.UseMemoryStore {
		t.Fatalf("expected memory store enabled")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("DISPATCH_BATCH_SIZE", "lots")
	t.Setenv("DISPATCH_INTERVAL", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	if cfg.DispatchBatchSize != 50 {
		t.Fatalf("expected fallback batch size, got %d", cfg.DispatchBatchSize)
	}
	if cfg.DispatchInterval != 30*time.Second {
		t.Fatalf("expected fallback interval, got %s", cfg.DispatchInterval)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected fallback tls false")
	}
}
