package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/meterly/backend/internal/infrastructure/config"
)

// DefaultWebhookTolerance is the maximum accepted age of a signed webhook payload
const DefaultWebhookTolerance = 5 * time.Minute

// StripeConfig holds the settings needed to verify and interpret gateway webhooks
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx).
	// Only checked for mode consistency; the service makes no outbound gateway calls.
	SecretKey string

	// WebhookSecret is the signing secret of the webhook endpoint (whsec_xxx)
	WebhookSecret string

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool

	// Tolerance bounds the signature timestamp age
	Tolerance time.Duration
}

// NewStripeConfig builds a StripeConfig from application configuration
func NewStripeConfig(cfg config.StripeConfig) *StripeConfig {
	return &StripeConfig{
		SecretKey:     cfg.SecretKey,
		WebhookSecret: cfg.WebhookSecret,
		IsTestMode:    cfg.IsTestMode,
		Tolerance:     cfg.Tolerance,
	}
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.WebhookSecret == "" {
		return fmt.Errorf("stripe: webhook secret is required")
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("stripe: tolerance cannot be negative")
	}

	if c.SecretKey != "" {
		if c.IsTestMode && !strings.HasPrefix(c.SecretKey, "sk_test") {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
		if !c.IsTestMode && !strings.HasPrefix(c.SecretKey, "sk_live") {
			return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
		}
	}
	return nil
}

func (c *StripeConfig) tolerance() time.Duration {
	if c.Tolerance == 0 {
		return DefaultWebhookTolerance
	}
	return c.Tolerance
}
