package gemini

import (
	"strings"
	"time"
)

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string

	HTTPTimeout time.Duration

	// MaxAttempts bounds transport-level retries per call. Only
	// TRANSIENT_NETWORK and RATE_LIMIT faults are retried.
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// RequestsPerSecond throttles outgoing calls client-side, before the
	// exchange has a chance to reject them.
	RequestsPerSecond float64
	RequestBurst      int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://api.gemini.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 250 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.RequestBurst <= 0 {
		c.RequestBurst = 10
	}
	return c
}
