package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

// StripeEventVerifier checks the Stripe-Signature header over the raw body and decodes the event
type StripeEventVerifier struct {
	config *StripeConfig
	logger *zap.Logger
}

// NewStripeEventVerifier creates a verifier for the configured endpoint secret
func NewStripeEventVerifier(cfg *StripeConfig, logger *zap.Logger) (*StripeEventVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeEventVerifier{config: cfg, logger: logger}, nil
}

// ConstructEvent verifies payload against signature and returns the decoded event.
// Events sent with a different API version than the library are accepted; the
// handlers only read fields that are stable across versions.
func (v *StripeEventVerifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	if signature == "" {
		return stripe.Event{}, fmt.Errorf("stripe: missing signature header")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.config.WebhookSecret,
		webhook.ConstructEventOptions{
			Tolerance:                v.config.tolerance(),
			IgnoreAPIVersionMismatch: true,
		})
	if err != nil {
		v.logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		return stripe.Event{}, fmt.Errorf("stripe: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return stripe.Event{}, fmt.Errorf("stripe: event is missing id or type")
	}
	return event, nil
}
