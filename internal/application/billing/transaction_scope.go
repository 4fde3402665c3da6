package billing

import (
	"context"

	"github.com/meterly/backend/internal/domain/billing"
)

// TransactionScope provides transactional access to the ledger repositories.
// All repository operations performed inside Execute share one database transaction
// and are committed or rolled back atomically.
type TransactionScope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides the repositories bound to the current transaction.
//
// Row locks taken through CreditPackages().FindAvailableForUpdate and
// Subscriptions().FindByAccountIDForUpdate are held until Execute returns, so callers
// must not perform network I/O inside fn.
type TransactionalRepositories interface {
	CreditPackages() billing.CreditPackageRepository
	CreditUsage() billing.CreditUsageRepository
	Subscriptions() billing.SubscriptionRepository
}

// NoOpTransactionScope runs fn against plain repositories without a transaction.
// Useful in unit tests driven by mocks.
type NoOpTransactionScope struct {
	packages      billing.CreditPackageRepository
	usage         billing.CreditUsageRepository
	subscriptions billing.SubscriptionRepository
}

// NewNoOpTransactionScope creates a NoOpTransactionScope
func NewNoOpTransactionScope(
	packages billing.CreditPackageRepository,
	usage billing.CreditUsageRepository,
	subscriptions billing.SubscriptionRepository,
) *NoOpTransactionScope {
	return &NoOpTransactionScope{
		packages:      packages,
		usage:         usage,
		subscriptions: subscriptions,
	}
}

// Execute runs fn without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

func (s *NoOpTransactionScope) CreditPackages() billing.CreditPackageRepository {
	return s.packages
}

func (s *NoOpTransactionScope) CreditUsage() billing.CreditUsageRepository {
	return s.usage
}

func (s *NoOpTransactionScope) Subscriptions() billing.SubscriptionRepository {
	return s.subscriptions
}

var (
	_ TransactionScope          = (*NoOpTransactionScope)(nil)
	_ TransactionalRepositories = (*NoOpTransactionScope)(nil)
)
