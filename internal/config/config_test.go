package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.StoreDriver != StorePostgres {
		t.Errorf("expected postgres store, got %q", cfg.StoreDriver)
	}
	if cfg.CheckSchedule != "0 6 * * *" || cfg.DigestSchedule != "0 9 * * *" {
		t.Errorf("unexpected schedules %q %q", cfg.CheckSchedule, cfg.DigestSchedule)
	}
	if cfg.NotificationRetentionDays != 90 || cfg.DigestRetentionDays != 365 {
		t.Errorf("unexpected retention %d/%d", cfg.NotificationRetentionDays, cfg.DigestRetentionDays)
	}
	if cfg.RedisAddr() != "" {
		t.Errorf("redis should be off by default, got %q", cfg.RedisAddr())
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("kafka should be off by default, got %v", cfg.KafkaBrokers)
	}
	if cfg.SQSRegion != cfg.AWSRegion || cfg.SNSRegion != cfg.AWSRegion {
		t.Errorf("regions should default to AWS_REGION")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("SNS_REGION", "eu-central-1")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("API_RATE_WINDOW", "30s")
	t.Setenv("DIGEST_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Errorf("expected memory store, got %q", cfg.StoreDriver)
	}
	if cfg.RedisAddr() != "cache:6379" {
		t.Errorf("expected cache:6379, got %q", cfg.RedisAddr())
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.SQSRegion != "eu-west-1" || cfg.SNSRegion != "eu-central-1" {
		t.Errorf("unexpected regions sqs=%q sns=%q", cfg.SQSRegion, cfg.SNSRegion)
	}
	if cfg.SchedulerEnabled {
		t.Error("scheduler should be disabled")
	}
	if cfg.APIRateWindow != 30*time.Second {
		t.Errorf("expected 30s window, got %v", cfg.APIRateWindow)
	}
	if cfg.DigestMaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.DigestMaxAttempts)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "eighty"},
		{"STORE_DRIVER", "mongo"},
		{"DB_PORT", "x"},
		{"SCHEDULER_ENABLED", "sometimes"},
		{"NOTIFICATION_RETENTION_DAYS", "0"},
		{"API_RATE_WINDOW", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("KAFKA_TOPIC=from-dotenv\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("LOG_LEVEL", "warn")
	// godotenv sets variables in the process environment.
	t.Cleanup(func() { os.Unsetenv("KAFKA_TOPIC") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.KafkaTopic != "from-dotenv" {
		t.Errorf("expected topic from .env, got %q", cfg.KafkaTopic)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("existing env must win over .env, got %q", cfg.LogLevel)
	}
}
