package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/auth"
	"github.com/meterly/backend/internal/infrastructure/config"
	"github.com/meterly/backend/internal/interfaces/http/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	level billing.AccessLevel
}

func (f *fakeStatus) GetStatus(ctx context.Context, accountID uuid.UUID) (*appbilling.AccountStatus, error) {
	return &appbilling.AccountStatus{
		AccountID:   accountID,
		Status:      billing.SubscriptionStatusPastDue,
		AccessLevel: f.level,
		Message:     "Payment failed",
	}, nil
}

func (f *fakeStatus) RecordUsage(ctx context.Context, cmd appbilling.RecordUsageCommand) (*appbilling.AccountStatus, error) {
	return f.GetStatus(ctx, cmd.AccountID)
}

type fakeLedger struct{}

func (fakeLedger) AvailableCredits(ctx context.Context, accountID uuid.UUID, creditType string) (int64, error) {
	return 10, nil
}

func (fakeLedger) Consume(ctx context.Context, cmd appbilling.ConsumeCommand) (*appbilling.ConsumeResult, error) {
	return &appbilling.ConsumeResult{AccountID: cmd.AccountID, CreditType: cmd.CreditType, Consumed: cmd.Amount}, nil
}

func (fakeLedger) ListPackages(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) (*shared.Paginated[*billing.CreditPackage], error) {
	page := shared.NewPaginated([]*billing.CreditPackage{}, 0, filter.Page, filter.PageSize)
	return &page, nil
}

func (fakeLedger) ListUsage(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) (*shared.Paginated[*billing.CreditUsageRecord], error) {
	page := shared.NewPaginated([]*billing.CreditUsageRecord{}, 0, filter.Page, filter.PageSize)
	return &page, nil
}

type fakeIngester struct{}

func (fakeIngester) Ingest(ctx context.Context, payload []byte, signature string) (*appbilling.WebhookResult, error) {
	return &appbilling.WebhookResult{EventID: "evt_1", EventType: "invoice.paid", Status: appbilling.WebhookStatusProcessed}, nil
}

type testServer struct {
	handler http.Handler
	tokens  *auth.JWTService
	status  *fakeStatus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tokens := auth.NewJWTService(config.JWTConfig{Secret: "router-test-secret-with-32-chars!", Issuer: "test"})
	status := &fakeStatus{level: billing.AccessLevelNone}
	engine, err := NewEngine(EngineConfig{
		HTTP:   config.HTTPConfig{MaxBodySize: 1 << 10},
		Tokens: tokens,
		Status: status,
		Handlers: Handlers{
			Billing: handler.NewBillingHandler(status),
			Credit:  handler.NewCreditHandler(fakeLedger{}),
			Webhook: handler.NewWebhookHandler(fakeIngester{}, 0),
			System:  handler.NewSystemHandler("test", nil),
		},
	})
	require.NoError(t, err)
	return &testServer{handler: engine, tokens: tokens, status: status}
}

func (s *testServer) do(t *testing.T, method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		token, err := s.tokens.Issue(auth.IssueInput{AccountID: uuid.New(), UserID: uuid.New()})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestEngine_PublicRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, HealthPath, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = s.do(t, http.MethodGet, ReadyPath, "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, WebhookPath, strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEngine_APIRequiresToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/billing/status", "/api/v1/credits/lookup", "/api/v1/system/info"} {
		w := s.do(t, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := s.do(t, http.MethodGet, "/api/v1/credits/lookup", "", true)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEngine_AccessLevels(t *testing.T) {
	tests := []struct {
		level       billing.AccessLevel
		balance     int
		consume     int
		billingPage int
	}{
		{billing.AccessLevelWarning, http.StatusOK, http.StatusOK, http.StatusOK},
		{billing.AccessLevelSoftBlock, http.StatusOK, http.StatusForbidden, http.StatusOK},
		{billing.AccessLevelHardBlock, http.StatusForbidden, http.StatusForbidden, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			s := newTestServer(t)
			s.status.level = tt.level

			assert.Equal(t, tt.balance, s.do(t, http.MethodGet, "/api/v1/credits/lookup", "", true).Code)
			assert.Equal(t, tt.consume, s.do(t, http.MethodPost, "/api/v1/credits/lookup/consume", `{"amount": 1}`, true).Code)
			assert.Equal(t, tt.billingPage, s.do(t, http.MethodGet, "/api/v1/billing/status", "", true).Code)
		})
	}
}

func TestEngine_BodyLimit(t *testing.T) {
	s := newTestServer(t)

	body := `{"amount": 1, "description": "` + strings.Repeat("x", 2048) + `"}`
	w := s.do(t, http.MethodPost, "/api/v1/credits/lookup/consume", body, true)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
