package razorpay

import (
	"strings"
	"time"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/env"
)

// Config holds gateway credentials.
type Config struct {
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// LoadConfig loads gateway configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		KeyID:     strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret: strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		Timeout:   env.GetEnvDuration("RAZORPAY_TIMEOUT", 15*time.Second),
	}
}

// IsConfigured reports whether both API credentials are present.
func (c *Config) IsConfigured() bool {
	return c.KeyID != "" && c.KeySecret != ""
}
