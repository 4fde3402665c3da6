package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

func signedHeader(t *testing.T, payload []byte, secret string, ts time.Time) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	})
	return signed.Header
}

func newTestVerifier(t *testing.T) *StripeEventVerifier {
	t.Helper()
	v, err := NewStripeEventVerifier(&StripeConfig{WebhookSecret: testWebhookSecret, IsTestMode: true}, zap.NewNop())
	require.NoError(t, err)
	return v
}

func TestStripeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StripeConfig
		wantErr string
	}{
		{"valid without secret key", StripeConfig{WebhookSecret: "whsec_x"}, ""},
		{"valid test key", StripeConfig{WebhookSecret: "whsec_x", SecretKey: "sk_test_123", IsTestMode: true}, ""},
		{"missing webhook secret", StripeConfig{}, "webhook secret is required"},
		{"live key in test mode", StripeConfig{WebhookSecret: "whsec_x", SecretKey: "sk_live_123", IsTestMode: true}, "not a test key"},
		{"test key in live mode", StripeConfig{WebhookSecret: "whsec_x", SecretKey: "sk_test_123"}, "not a live key"},
		{"negative tolerance", StripeConfig{WebhookSecret: "whsec_x", Tolerance: -time.Second}, "tolerance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestStripeEventVerifier_ConstructEvent(t *testing.T) {
	v := newTestVerifier(t)
	payload := []byte(`{"id":"evt_123","object":"event","type":"invoice.paid","api_version":"2020-08-27","created":1700000000,"data":{"object":{"id":"in_1","object":"invoice"}}}`)

	t.Run("valid signature", func(t *testing.T) {
		event, err := v.ConstructEvent(payload, signedHeader(t, payload, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "evt_123", event.ID)
		assert.Equal(t, "invoice.paid", string(event.Type))
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.ConstructEvent(payload, signedHeader(t, payload, "whsec_other", time.Now()))
		assert.Error(t, err)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := signedHeader(t, payload, testWebhookSecret, time.Now())
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-3] = ' '
		_, err := v.ConstructEvent(tampered, header)
		assert.Error(t, err)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		_, err := v.ConstructEvent(payload, signedHeader(t, payload, testWebhookSecret, time.Now().Add(-time.Hour)))
		assert.Error(t, err)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := v.ConstructEvent(payload, "")
		assert.ErrorContains(t, err, "missing signature")
	})

	t.Run("event without id", func(t *testing.T) {
		body := []byte(`{"object":"event","type":"invoice.paid","data":{"object":{}}}`)
		_, err := v.ConstructEvent(body, signedHeader(t, body, testWebhookSecret, time.Now()))
		assert.ErrorContains(t, err, "missing id or type")
	})
}
