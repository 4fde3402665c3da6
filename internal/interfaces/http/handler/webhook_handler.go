package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/interfaces/http/dto"
)

// DefaultWebhookMaxBytes caps gateway notification bodies
const DefaultWebhookMaxBytes int64 = 64 << 10

// SignatureHeader carries the gateway's payload signature
const SignatureHeader = "Stripe-Signature"

// WebhookIngester verifies and applies gateway notifications
type WebhookIngester interface {
	Ingest(ctx context.Context, payload []byte, signature string) (*appbilling.WebhookResult, error)
}

// WebhookHandler receives payment gateway notifications. It is called by the
// gateway and authenticated by payload signature, not JWT.
type WebhookHandler struct {
	BaseHandler
	ingester WebhookIngester
	maxBytes int64
}

// NewWebhookHandler creates a WebhookHandler; maxBytes <= 0 uses DefaultWebhookMaxBytes
func NewWebhookHandler(ingester WebhookIngester, maxBytes int64) *WebhookHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultWebhookMaxBytes
	}
	return &WebhookHandler{ingester: ingester, maxBytes: maxBytes}
}

// WebhookResponse acknowledges a gateway notification
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Status    string `json:"status,omitempty"`
}

// HandleStripeWebhook godoc
//
// 400 means the signature did not verify; 500 means the receipt could not be
// stored and the gateway should redeliver. Any other outcome is a 200, including
// handler failures, which are retried from the stored receipt.
//
//	@ID				handleStripeWebhook
//	@Summary		Handle Stripe webhook
//	@Description	Receive payment gateway events that drive subscription state and credit grants
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			Stripe-Signature	header		string			true	"Stripe webhook signature"
//	@Success		200				{object}	WebhookResponse	"Event received"
//	@Failure		400				{object}	dto.Response	"Invalid signature"
//	@Failure		413				{object}	dto.Response	"Payload too large"
//	@Failure		500				{object}	dto.Response	"Receipt not stored"
//	@Router			/webhooks/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// The raw body is needed for signature verification
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodePayloadTooLarge, "Payload too large")
			return
		}
		h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, "Failed to read request body")
		return
	}

	signature := c.GetHeader(SignatureHeader)
	if signature == "" {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidSignature, "Missing "+SignatureHeader+" header")
		return
	}

	result, err := h.ingester.Ingest(c.Request.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidSignature) {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidSignature, "Webhook signature verification failed")
			return
		}
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		EventID:   result.EventID,
		EventType: result.EventType,
		Status:    result.Status,
	})
}
