package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(ctx context.Context, payload []byte, signature string) (*appbilling.WebhookResult, error) {
	args := m.Called(string(payload), signature)
	result, _ := args.Get(0).(*appbilling.WebhookResult)
	return result, args.Error(1)
}

func postWebhook(h *WebhookHandler, body, signature string) *httptest.ResponseRecorder {
	router := gin.New()
	router.POST("/webhooks/stripe", h.HandleStripeWebhook)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_Acknowledges(t *testing.T) {
	tests := []struct {
		name   string
		result *appbilling.WebhookResult
	}{
		{"processed", &appbilling.WebhookResult{EventID: "evt_1", EventType: "invoice.paid", Status: appbilling.WebhookStatusProcessed}},
		{"duplicate", &appbilling.WebhookResult{EventID: "evt_1", EventType: "invoice.paid", Status: appbilling.WebhookStatusDuplicate}},
		{"handler failure is still acknowledged", &appbilling.WebhookResult{
			EventID: "evt_2", EventType: "invoice.paid", Status: appbilling.WebhookStatusFailed, Message: "pq: deadlock detected",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := &mockIngester{}
			ingester.On("Ingest", `{"id":"evt"}`, "t=1,v1=abc").Return(tt.result, nil)

			w := postWebhook(NewWebhookHandler(ingester, 0), `{"id":"evt"}`, "t=1,v1=abc")

			require.Equal(t, http.StatusOK, w.Code)
			var resp WebhookResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.True(t, resp.Received)
			assert.Equal(t, tt.result.EventID, resp.EventID)
			assert.Equal(t, tt.result.Status, resp.Status)
			assert.NotContains(t, w.Body.String(), "deadlock")
			ingester.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_Rejections(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		ingester := &mockIngester{}
		ingester.On("Ingest", mock.Anything, "t=1,v1=forged").
			Return(nil, fmt.Errorf("%w: no valid signature", shared.ErrInvalidSignature))

		w := postWebhook(NewWebhookHandler(ingester, 0), `{}`, "t=1,v1=forged")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidSignature, decode(t, w).Error.Code)
	})

	t.Run("missing signature header", func(t *testing.T) {
		ingester := &mockIngester{}

		w := postWebhook(NewWebhookHandler(ingester, 0), `{}`, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("oversized payload", func(t *testing.T) {
		ingester := &mockIngester{}

		w := postWebhook(NewWebhookHandler(ingester, 16), strings.Repeat("x", 17), "t=1,v1=abc")

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("receipt store failure asks for redelivery", func(t *testing.T) {
		ingester := &mockIngester{}
		ingester.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, errors.New("failed to record webhook receipt: connection refused"))

		w := postWebhook(NewWebhookHandler(ingester, 0), `{}`, "t=1,v1=abc")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}
