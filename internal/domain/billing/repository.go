package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/shared"
)

// SubscriptionRepository persists subscriptions together with their add-on history
type SubscriptionRepository interface {
	// FindByAccountID returns shared.ErrNotFound when the account has no subscription row
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*Subscription, error)
	// FindByAccountIDForUpdate loads and row-locks the subscription inside a transaction
	FindByAccountIDForUpdate(ctx context.Context, accountID uuid.UUID) (*Subscription, error)
	FindByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string) (*Subscription, error)
	FindByGatewayCustomerID(ctx context.Context, gatewayCustomerID string) (*Subscription, error)
	// LockOrCreate row-locks the account's subscription, inserting an empty one first when
	// the account has none. Concurrent callers for the same account serialize on the row.
	LockOrCreate(ctx context.Context, accountID uuid.UUID) (*Subscription, error)
	// Save upserts the subscription by account and its add-ons by ID.
	// At most one add-on per type stays active.
	Save(ctx context.Context, sub *Subscription) error
}

// CreditPackageRepository persists credit packages
type CreditPackageRepository interface {
	Create(ctx context.Context, pkg *CreditPackage) error
	Update(ctx context.Context, pkg *CreditPackage) error
	FindByID(ctx context.Context, id uuid.UUID) (*CreditPackage, error)
	// FindAvailableForUpdate row-locks every available package of (account, creditType)
	// ordered by expiry ascending with never-expiring packages last
	FindAvailableForUpdate(ctx context.Context, accountID uuid.UUID, creditType string, now time.Time) ([]*CreditPackage, error)
	SumAvailable(ctx context.Context, accountID uuid.UUID, creditType string, now time.Time) (int64, error)
	FindBySourceRef(ctx context.Context, accountID uuid.UUID, creditType, sourceRef string) (*CreditPackage, error)
	// FindActiveBySourceForUpdate row-locks the active packages of a source, latest period first
	FindActiveBySourceForUpdate(ctx context.Context, accountID uuid.UUID, creditType string, source CreditSource) ([]*CreditPackage, error)
	// ExpireActiveBySource expires all active packages of a source for (account, creditType)
	ExpireActiveBySource(ctx context.Context, accountID uuid.UUID, creditType string, source CreditSource) (int64, error)
	// ExpireStale expires every active package whose expiry has passed
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) ([]*CreditPackage, int64, error)
}

// CreditUsageRepository persists the append-only usage log
type CreditUsageRepository interface {
	CreateBatch(ctx context.Context, records []*CreditUsageRecord) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) ([]*CreditUsageRecord, int64, error)
}

// WebhookReceiptRepository persists webhook receipts
type WebhookReceiptRepository interface {
	// CreateIfAbsent inserts the receipt unless one with the same gateway event ID exists.
	// Returns false when the receipt already existed.
	CreateIfAbsent(ctx context.Context, receipt *WebhookEventReceipt) (bool, error)
	FindByGatewayEventID(ctx context.Context, gatewayEventID string) (*WebhookEventReceipt, error)
	Update(ctx context.Context, receipt *WebhookEventReceipt) error
	// FindRetryable returns failed receipts under the retry ceiling and pending receipts
	// received before stalePendingBefore, oldest first
	FindRetryable(ctx context.Context, maxRetries int, stalePendingBefore time.Time, limit int) ([]*WebhookEventReceipt, error)
}

// AccountUsageRepository stores the latest user/channel counts per account
type AccountUsageRepository interface {
	// Get returns a zero snapshot when nothing has been reported
	Get(ctx context.Context, accountID uuid.UUID) (*AccountUsage, error)
	Upsert(ctx context.Context, usage *AccountUsage) error
}
