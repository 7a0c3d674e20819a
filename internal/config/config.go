package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	Environment string
	LogLevel    string
	Port        string

	DatabaseURL string

	LedgerBaseURL string
	LedgerTimeout time.Duration

	GatewayTimeout time.Duration

	CapturePollInterval time.Duration
	CaptureBatchSize    int
	CaptureWorkers      int
	CaptureMaxAttempts  int
	CaptureRetryDelay   time.Duration
	CaptureClaimTimeout time.Duration

	EmissionSweepInterval time.Duration
	EmissionCutoff        time.Duration
	EmissionBatchSize     int
	EmissionRetryBackoff  time.Duration

	ChargeExpiryThreshold  time.Duration
	ExpirySweepInterval    time.Duration
	NotificationDomainsRaw string
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		LedgerBaseURL: getEnv("LEDGER_BASE_URL", ""),
		LedgerTimeout: getDuration("LEDGER_TIMEOUT", 5*time.Second),

		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		CapturePollInterval: getDuration("CAPTURE_POLL_INTERVAL", 2*time.Second),
		CaptureBatchSize:    getInt("CAPTURE_BATCH_SIZE", 50),
		CaptureWorkers:      getInt("CAPTURE_WORKERS", 4),
		CaptureMaxAttempts:  getInt("CAPTURE_MAX_ATTEMPTS", 48),
		CaptureRetryDelay:   getDuration("CAPTURE_RETRY_DELAY", time.Minute),
		CaptureClaimTimeout: getDuration("CAPTURE_CLAIM_TIMEOUT", 10*time.Minute),

		EmissionSweepInterval: getDuration("EMISSION_SWEEP_INTERVAL", time.Minute),
		EmissionCutoff:        getDuration("EMISSION_CUTOFF", 30*time.Minute),
		EmissionBatchSize:     getInt("EMISSION_BATCH_SIZE", 100),
		EmissionRetryBackoff:  getDuration("EMISSION_RETRY_BACKOFF", 10*time.Minute),

		ChargeExpiryThreshold:  getDuration("CHARGE_EXPIRY_THRESHOLD", 90*time.Minute),
		ExpirySweepInterval:    getDuration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
		NotificationDomainsRaw: getEnv("NOTIFICATION_TRUSTED_DOMAINS", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Environment == "production" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.CaptureMaxAttempts <= 0 {
		return fmt.Errorf("CAPTURE_MAX_ATTEMPTS must be positive")
	}
	if c.CaptureWorkers <= 0 {
		return fmt.Errorf("CAPTURE_WORKERS must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs against live gateways.
func (c Config) IsProduction() bool { return c.Environment == "production" }

// TrustedDomains parses NOTIFICATION_TRUSTED_DOMAINS, a comma-separated list
// of provider=domain pairs, e.g. "worldpay=worldpay.com,epdq=epdq.co.uk".
func (c Config) TrustedDomains() map[string]string {
	domains := map[string]string{}
	for _, pair := range strings.Split(c.NotificationDomainsRaw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, "=")
		if idx <= 0 {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(pair[:idx]))
		domain := strings.TrimSpace(pair[idx+1:])
		if provider != "" && domain != "" {
			domains[provider] = domain
		}
	}
	return domains
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
