// Package config handles application configuration via environment variables.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configurable values for the app.
type Config struct {
	Env             string
	Port            int
	VapiAPIKey      string
	WebhookSecret   string
	WebhookURL      string
	SheetID         string
	CredentialsFile string

	QueueSize       int
	WriteAttempts   int
	RetryBaseDelay  time.Duration
	ShutdownGrace   time.Duration
	DedupWindowRows int
}

// Load reads environment variables and populates a Config struct. A local
// .env file is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:             getEnv("ENV", "development"),
		Port:            intEnv("PORT", "8080"),
		VapiAPIKey:      getEnv("VAPI_API_KEY", ""),
		WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
		WebhookURL:      getEnv("WEBHOOK_URL", ""),
		SheetID:         getEnv("GOOGLE_SHEET_ID", ""),
		CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE_PATH", ""),
		QueueSize:       intEnv("QUEUE_SIZE", "256"),
		WriteAttempts:   intEnv("WRITE_MAX_ATTEMPTS", "4"),
		RetryBaseDelay:  durationEnv("WRITE_RETRY_BASE_DELAY", "500ms"),
		ShutdownGrace:   durationEnv("SHUTDOWN_GRACE", "15s"),
		DedupWindowRows: intEnv("DEDUP_WINDOW", "500"),
	}
}

// Validate enforces the variables the service cannot run without. Only
// production is strict so local runs can start against a bare environment.
func (c *Config) Validate() error {
	if c.Env != "production" {
		return nil
	}
	required := map[string]string{
		"VAPI_API_KEY":                 c.VapiAPIKey,
		"WEBHOOK_SECRET":               c.WebhookSecret,
		"GOOGLE_SHEET_ID":              c.SheetID,
		"GOOGLE_CREDENTIALS_FILE_PATH": c.CredentialsFile,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("missing required environment variable %s", name)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intEnv(key, fallback string) int {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		log.Panicf("Invalid %s: %v", key, err)
	}
	return n
}

func durationEnv(key, fallback string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		log.Panicf("Invalid %s: %v", key, err)
	}
	return d
}
