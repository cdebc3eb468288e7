package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/NewsDesk/internal/pkg/env"
)

// Config holds the billing settings read from the environment.
type Config struct {
	KeySecret         string
	WebhookSecret     string
	DefaultTotalCount int
	RetentionAge      time.Duration
	PlanCacheTTL      time.Duration
}

// LoadConfig loads billing configuration from environment variables.
func LoadConfig() *Config {
	days := env.GetEnvInt("BILLING_RETENTION_DAYS", 365)
	if days < 1 {
		days = 365
	}
	total := env.GetEnvInt("BILLING_DEFAULT_TOTAL_COUNT", 12)
	if total < 1 {
		total = 12
	}
	return &Config{
		KeySecret:         strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		WebhookSecret:     strings.TrimSpace(env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")),
		DefaultTotalCount: total,
		RetentionAge:      time.Duration(days) * 24 * time.Hour,
		PlanCacheTTL:      env.GetEnvDuration("BILLING_PLAN_CACHE_TTL", 10*time.Minute),
	}
}
