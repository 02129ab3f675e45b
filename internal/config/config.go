package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Log file output; stdout only when LogFile is empty
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int

	// StoreDriver selects postgres or the in-process memory store
	StoreDriver string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config; rate limits and job locks are off when RedisHost is empty
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string // AWS region for SNS (SMS and push)

	// SQS hand-off for deliveries; direct delivery when empty
	SQSRegion   string
	SQSQueueURL string

	// Webhook config
	WebhookTimeout int // Timeout for push webhook requests in seconds

	// Kafka events; disabled when no brokers are set
	KafkaBrokers []string
	KafkaTopic   string

	// Scheduler
	SchedulerEnabled bool
	CheckSchedule    string
	DigestSchedule   string
	CleanupSchedule  string

	NotificationRetentionDays int
	DigestRetentionDays       int
	DigestMaxAttempts         int
	DefaultLocale             string

	// API rate limit per owner
	APIRateLimit  int
	APIRateWindow time.Duration
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// RedisAddr returns host:port, or "" when Redis is not configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first without overriding
// variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		LogMaxSizeMB:  100,
		LogMaxBackups: 5,

		StoreDriver: StorePostgres,

		// Local postgres defaults
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "herdwatch",
		DBName:    "herdwatch",
		DBSSLMode: "disable",

		RedisPort: 6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "alerts@herdwatch.local",

		WebhookTimeout: 30,

		KafkaTopic: "herdwatch.events",

		SchedulerEnabled: true,
		CheckSchedule:    "0 6 * * *",
		DigestSchedule:   "0 9 * * *",
		CleanupSchedule:  "0 3 * * *",

		NotificationRetentionDays: 90,
		DigestRetentionDays:       365,
		DigestMaxAttempts:         3,
		DefaultLocale:             "en",

		APIRateLimit:  120,
		APIRateWindow: time.Minute,
	}

	var err error
	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	cfg.LogFile = stringEnv("LOG_FILE", cfg.LogFile)
	if cfg.LogMaxSizeMB, err = intEnv("LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB); err != nil {
		return nil, err
	}
	if cfg.LogMaxBackups, err = intEnv("LOG_MAX_BACKUPS", cfg.LogMaxBackups); err != nil {
		return nil, err
	}

	cfg.StoreDriver = strings.ToLower(stringEnv("STORE_DRIVER", cfg.StoreDriver))
	if cfg.StoreDriver != StorePostgres && cfg.StoreDriver != StoreMemory {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: must be %s or %s", cfg.StoreDriver, StorePostgres, StoreMemory)
	}

	// Database config
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)

	// Redis config
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SNSRegion = stringEnv("SNS_REGION", cfg.AWSRegion)
	cfg.SQSRegion = stringEnv("SQS_REGION", cfg.AWSRegion)
	cfg.SQSQueueURL = stringEnv("SQS_QUEUE_URL", cfg.SQSQueueURL)

	if cfg.WebhookTimeout, err = intEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaTopic = stringEnv("KAFKA_TOPIC", cfg.KafkaTopic)

	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_ENABLED: %w", err)
		}
		cfg.SchedulerEnabled = b
	}
	cfg.CheckSchedule = stringEnv("CHECK_SCHEDULE", cfg.CheckSchedule)
	cfg.DigestSchedule = stringEnv("DIGEST_SCHEDULE", cfg.DigestSchedule)
	cfg.CleanupSchedule = stringEnv("CLEANUP_SCHEDULE", cfg.CleanupSchedule)

	if cfg.NotificationRetentionDays, err = positiveIntEnv("NOTIFICATION_RETENTION_DAYS", cfg.NotificationRetentionDays); err != nil {
		return nil, err
	}
	if cfg.DigestRetentionDays, err = positiveIntEnv("DIGEST_RETENTION_DAYS", cfg.DigestRetentionDays); err != nil {
		return nil, err
	}
	if cfg.DigestMaxAttempts, err = positiveIntEnv("DIGEST_MAX_ATTEMPTS", cfg.DigestMaxAttempts); err != nil {
		return nil, err
	}
	cfg.DefaultLocale = stringEnv("DEFAULT_LOCALE", cfg.DefaultLocale)

	if cfg.APIRateLimit, err = intEnv("API_RATE_LIMIT", cfg.APIRateLimit); err != nil {
		return nil, err
	}
	if v := os.Getenv("API_RATE_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid API_RATE_WINDOW %q", v)
		}
		cfg.APIRateWindow = d
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func positiveIntEnv(key string, def int) (int, error) {
	n, err := intEnv(key, def)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1", key)
	}
	return n, nil
}
