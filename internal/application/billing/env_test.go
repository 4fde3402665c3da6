package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	appbilling "github.com/meterly/backend/internal/application/billing"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/persistence"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// testClock is a settable clock shared by the services under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher keeps every published domain event
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) OfType(eventType string) []shared.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.DomainEvent
	for _, e := range p.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

const validSignature = "t=1,v1=valid"

var errBadSignature = errors.New("no signatures found matching the expected signature for payload")

// jsonVerifier accepts validSignature and decodes the payload as a gateway event
type jsonVerifier struct{}

func (jsonVerifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	var event stripe.Event
	if signature != validSignature {
		return event, errBadSignature
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, err
	}
	return event, nil
}

type testEnv struct {
	db            *gorm.DB
	clock         *testClock
	bus           *recordingPublisher
	catalog       *billing.PlanCatalog
	packages      *persistence.GormCreditPackageRepository
	subscriptions *persistence.GormSubscriptionRepository
	receipts      *persistence.GormWebhookReceiptRepository
	usage         *persistence.GormAccountUsageRepository
	ledger        *appbilling.CreditLedgerService
	status        *appbilling.AccountStatusService
	processor     *appbilling.WebhookProcessor
}

type envOption func(*appbilling.WebhookProcessorConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	require.NoError(t, models.CreatePartialIndexes(db))

	catalog, err := billing.NewPlanCatalog(
		billing.Limits{MaxUsers: 1, MaxChannels: 1},
		[]billing.PlanDefinition{
			{Type: "starter", Name: "Starter", MaxUsers: 3, MaxChannels: 2,
				MonthlyCredits: map[string]int64{"lookup": 200}, GatewayPriceID: "price_starter"},
			{Type: "pro", Name: "Pro", MaxUsers: 10, MaxChannels: 5,
				MonthlyCredits: map[string]int64{"lookup": 1000, "ai": 50}, GatewayPriceID: "price_pro"},
		},
		[]billing.AddonDefinition{
			{Type: billing.AddonTypeChannel, Name: "Extra channel", Dimension: billing.LimitDimensionChannels, GatewayPriceID: "price_channel"},
			{Type: billing.AddonTypeUser, Name: "Extra user", Dimension: billing.LimitDimensionUsers, GatewayPriceID: "price_user"},
		},
	)
	require.NoError(t, err)

	env := &testEnv{
		db:            db,
		clock:         &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		bus:           &recordingPublisher{},
		catalog:       catalog,
		packages:      persistence.NewGormCreditPackageRepository(db),
		subscriptions: persistence.NewGormSubscriptionRepository(db),
		receipts:      persistence.NewGormWebhookReceiptRepository(db),
		usage:         persistence.NewGormAccountUsageRepository(db),
	}

	env.ledger = appbilling.NewCreditLedgerService(appbilling.CreditLedgerServiceConfig{
		Packages: env.packages,
		Usage:    persistence.NewGormCreditUsageRepository(db),
		TxScope:  persistence.NewGormTransactionScope(db),
		EventBus: env.bus,
		Logger:   zap.NewNop(),
		Now:      env.clock.Now,
	})
	env.status = appbilling.NewAccountStatusService(appbilling.AccountStatusServiceConfig{
		Subscriptions: env.subscriptions,
		Usage:         env.usage,
		Catalog:       catalog,
		Now:           env.clock.Now,
	})

	cfg := appbilling.WebhookProcessorConfig{
		Verifier:      jsonVerifier{},
		Receipts:      env.receipts,
		Subscriptions: env.subscriptions,
		TxScope:       persistence.NewGormTransactionScope(db),
		Ledger:        env.ledger,
		Catalog:       catalog,
		EventBus:      env.bus,
		Logger:        zap.NewNop(),
		Now:           env.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.processor = appbilling.NewWebhookProcessor(cfg)
	return env
}

// grant creates a package directly through the ledger
func (e *testEnv) grant(t *testing.T, account uuid.UUID, creditType string, amount int64, expiresInDays *int, source billing.CreditSource, ref string) *billing.CreditPackage {
	t.Helper()
	pkg, err := e.ledger.Grant(context.Background(), appbilling.GrantCommand{
		AccountID:     account,
		CreditType:    creditType,
		Amount:        amount,
		ExpiresInDays: expiresInDays,
		Source:        source,
		SourceRef:     ref,
	})
	require.NoError(t, err)
	return pkg
}

func (e *testEnv) remaining(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	pkg, err := e.packages.FindByID(context.Background(), id)
	require.NoError(t, err)
	return pkg.RemainingCredits
}

func days(n int) *int { return &n }

// gatewayEvent encodes a gateway notification carrying object
func gatewayEvent(t *testing.T, id, eventType string, created time.Time, object any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]json.RawMessage{"object": raw},
	})
	require.NoError(t, err)
	return payload
}

// gatewaySubscription builds a subscription object as the gateway sends it
func gatewaySubscription(id, customer string, account uuid.UUID, status string, periodStart time.Time, prices map[string]int64) map[string]any {
	items := make([]map[string]any, 0, len(prices))
	for price, qty := range prices {
		items = append(items, map[string]any{
			"id":       "si_" + price,
			"object":   "subscription_item",
			"price":    map[string]any{"id": price, "object": "price"},
			"quantity": qty,
		})
	}
	metadata := map[string]string{}
	if account != uuid.Nil {
		metadata[appbilling.MetadataAccountID] = account.String()
	}
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             map[string]any{"id": customer, "object": "customer", "email": "owner@example.com"},
		"status":               status,
		"current_period_start": periodStart.Unix(),
		"current_period_end":   periodStart.AddDate(0, 1, 0).Unix(),
		"metadata":             metadata,
		"items":                map[string]any{"object": "list", "data": items},
	}
}

func gatewayInvoice(id, subscription, customer, reason string, periodEnd time.Time) map[string]any {
	return map[string]any{
		"id":             id,
		"object":         "invoice",
		"billing_reason": reason,
		"subscription":   subscription,
		"customer":       customer,
		"customer_email": "billing@example.com",
		"period_end":     periodEnd.Unix(),
	}
}

func (e *testEnv) ingest(t *testing.T, payload []byte) *appbilling.WebhookResult {
	t.Helper()
	result, err := e.processor.Ingest(context.Background(), payload, validSignature)
	require.NoError(t, err)
	return result
}
