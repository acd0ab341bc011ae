package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	WebhookSecret       string
	AttachmentRoot      string
	SyncInterval        time.Duration
	SyncTimeout         time.Duration
	MaxConcurrentSyncs  int
	MaxBackfillMessages int
	OAuthClientID       string
	OAuthClientSecret   string
	OAuthTokenURL       string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		DBHost:              getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:          os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:           getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		WebhookSecret:       os.Getenv("MAILSYNC_WEBHOOK_SECRET"),
		AttachmentRoot:      getEnvOrDefault("MAILSYNC_ATTACHMENT_ROOT", "./attachments"),
		SyncInterval:        getDurationOrDefault("MAILSYNC_SYNC_INTERVAL", time.Minute),
		SyncTimeout:         getDurationOrDefault("MAILSYNC_SYNC_TIMEOUT", 5*time.Minute),
		MaxConcurrentSyncs:  getIntOrDefault("MAILSYNC_MAX_CONCURRENT_SYNCS", 4),
		MaxBackfillMessages: getIntOrDefault("MAILSYNC_MAX_BACKFILL_MESSAGES", 500),
		OAuthClientID:       os.Getenv("MAILSYNC_OAUTH_CLIENT_ID"),
		OAuthClientSecret:   os.Getenv("MAILSYNC_OAUTH_CLIENT_SECRET"),
		OAuthTokenURL:       getEnvOrDefault("MAILSYNC_OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("MAILSYNC_SYNC_INTERVAL must be positive")
	}

	if c.MaxConcurrentSyncs <= 0 {
		return fmt.Errorf("MAILSYNC_MAX_CONCURRENT_SYNCS must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		fmt.Printf("Warning: invalid duration for %s (%q), using default %s\n", key, value, defaultValue)
		return defaultValue
	}
	return d
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("Warning: invalid integer for %s (%q), using default %d\n", key, value, defaultValue)
		return defaultValue
	}
	return n
}
