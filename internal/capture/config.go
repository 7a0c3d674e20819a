package capture

import "time"

// Config controls the capture worker loop and its retry policy. The retry
// ceiling and delays are operational tunables, injected rather than fixed.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	Workers        int
	MaxAttempts    int
	RetryDelay     time.Duration
	ClaimTimeout   time.Duration
	GatewayTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		BatchSize:      50,
		Workers:        4,
		MaxAttempts:    48,
		RetryDelay:     time.Minute,
		ClaimTimeout:   10 * time.Minute,
		GatewayTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = defaults.ClaimTimeout
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = defaults.GatewayTimeout
	}
	return c
}
