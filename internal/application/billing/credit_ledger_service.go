package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// CreditLedgerService consumes, grants and expires prepaid credits.
// Consumption walks packages soonest-expiring first under row locks so that concurrent
// consumers of the same (account, credit type) serialize and never overdraw.
type CreditLedgerService struct {
	packages billing.CreditPackageRepository
	usage    billing.CreditUsageRepository
	txScope  TransactionScope
	eventBus shared.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// CreditLedgerServiceConfig contains configuration for CreditLedgerService
type CreditLedgerServiceConfig struct {
	Packages billing.CreditPackageRepository
	Usage    billing.CreditUsageRepository
	TxScope  TransactionScope
	EventBus shared.EventPublisher
	Logger   *zap.Logger
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// NewCreditLedgerService creates a new CreditLedgerService
func NewCreditLedgerService(cfg CreditLedgerServiceConfig) *CreditLedgerService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CreditLedgerService{
		packages: cfg.Packages,
		usage:    cfg.Usage,
		txScope:  cfg.TxScope,
		eventBus: cfg.EventBus,
		logger:   logger,
		now:      now,
	}
}

// ConsumeCommand asks the ledger to take Amount credits of CreditType from an account
type ConsumeCommand struct {
	AccountID   uuid.UUID
	CreditType  string
	Amount      int64
	Attribution billing.Attribution
}

// ConsumeResult describes a successful consumption
type ConsumeResult struct {
	AccountID  uuid.UUID                    `json:"account_id"`
	CreditType string                       `json:"credit_type"`
	Consumed   int64                        `json:"consumed"`
	Remaining  int64                        `json:"remaining"`
	Records    []*billing.CreditUsageRecord `json:"-"`
}

// GrantCommand asks the ledger to create a credit package
type GrantCommand struct {
	AccountID  uuid.UUID
	CreditType string
	Amount     int64
	// ExpiresInDays is nil for credits that never expire
	ExpiresInDays *int
	Source        billing.CreditSource
	// SourceRef identifies the purchase or billing period the grant comes from.
	// A second grant with the same (account, credit type, SourceRef) returns the first package.
	SourceRef string
	// PeriodStart orders subscription grants; a grant for a period older than the
	// active one is not applied.
	PeriodStart *time.Time
}

// AvailableCredits returns the spendable balance of one credit type
func (s *CreditLedgerService) AvailableCredits(ctx context.Context, accountID uuid.UUID, creditType string) (int64, error) {
	creditType = billing.NormalizeCreditType(creditType)
	if accountID == uuid.Nil || creditType == "" {
		return 0, shared.ErrInvalidInput
	}
	total, err := s.packages.SumAvailable(ctx, accountID, creditType, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sum available credits: %w", err)
	}
	return total, nil
}

// Consume deducts cmd.Amount credits in a single transaction.
// On ErrInsufficientCredits nothing is written.
func (s *CreditLedgerService) Consume(ctx context.Context, cmd ConsumeCommand) (*ConsumeResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "credit_ledger", "consume")
	defer span.End()

	cmd.CreditType = billing.NormalizeCreditType(cmd.CreditType)
	if cmd.Amount <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	if cmd.AccountID == uuid.Nil || cmd.CreditType == "" {
		return nil, shared.ErrInvalidInput
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrAccountID, cmd.AccountID.String(),
		telemetry.SpanAttrCreditType, cmd.CreditType,
		telemetry.SpanAttrAmount, cmd.Amount,
	)

	now := s.now()
	result := &ConsumeResult{AccountID: cmd.AccountID, CreditType: cmd.CreditType}

	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		packages, err := repos.CreditPackages().FindAvailableForUpdate(ctx, cmd.AccountID, cmd.CreditType, now)
		if err != nil {
			return fmt.Errorf("failed to lock credit packages: %w", err)
		}

		allocations, err := billing.PlanConsumption(packages, cmd.Amount, now)
		if err != nil {
			return err
		}

		records := make([]*billing.CreditUsageRecord, 0, len(allocations))
		for _, alloc := range allocations {
			taken := alloc.Package.Take(alloc.Amount)
			if err := repos.CreditPackages().Update(ctx, alloc.Package); err != nil {
				return fmt.Errorf("failed to update credit package %s: %w", alloc.Package.ID, err)
			}
			record, err := billing.NewCreditUsageRecord(alloc.Package, taken, cmd.Attribution, now)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		if err := repos.CreditUsage().CreateBatch(ctx, records); err != nil {
			return fmt.Errorf("failed to write credit usage records: %w", err)
		}

		result.Records = records
		result.Consumed = lo.SumBy(records, func(r *billing.CreditUsageRecord) int64 { return r.Amount })
		result.Remaining = billing.AvailableTotal(packages, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientCredits) {
			s.logger.Info("Credit consumption rejected",
				zap.String("account_id", cmd.AccountID.String()),
				zap.String("credit_type", cmd.CreditType),
				zap.Int64("amount", cmd.Amount))
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.publish(ctx, billing.NewCreditsConsumedEvent(cmd.AccountID, cmd.CreditType, result.Consumed, len(result.Records), cmd.Attribution))

	s.logger.Debug("Credits consumed",
		zap.String("account_id", cmd.AccountID.String()),
		zap.String("credit_type", cmd.CreditType),
		zap.Int64("amount", result.Consumed),
		zap.Int("packages", len(result.Records)),
		zap.Int64("remaining", result.Remaining))

	return result, nil
}

// Grant creates a credit package.
// A subscription_grant locks and expires every active subscription_grant package of the same
// credit type for the account; purchased packages are never touched. A subscription_grant
// for a period older than the active one leaves the active package in place and returns it.
func (s *CreditLedgerService) Grant(ctx context.Context, cmd GrantCommand) (*billing.CreditPackage, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "credit_ledger", "grant")
	defer span.End()

	cmd.CreditType = billing.NormalizeCreditType(cmd.CreditType)
	if cmd.Amount <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	if cmd.ExpiresInDays != nil && *cmd.ExpiresInDays <= 0 {
		return nil, shared.NewDomainError("INVALID_EXPIRY", "Expiry must be at least one day")
	}

	now := s.now()
	var expiresAt *time.Time
	if cmd.ExpiresInDays != nil {
		t := now.AddDate(0, 0, *cmd.ExpiresInDays)
		expiresAt = &t
	}

	pkg, err := billing.NewCreditPackage(cmd.AccountID, cmd.CreditType, cmd.Amount, expiresAt, cmd.Source, cmd.SourceRef)
	if err != nil {
		return nil, err
	}
	if cmd.PeriodStart != nil {
		periodStart := cmd.PeriodStart.UTC()
		pkg.PeriodStart = &periodStart
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrAccountID, cmd.AccountID.String(),
		telemetry.SpanAttrCreditType, cmd.CreditType,
		telemetry.SpanAttrAmount, cmd.Amount,
	)

	created, superseded := false, false
	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		if cmd.SourceRef != "" {
			existing, err := repos.CreditPackages().FindBySourceRef(ctx, cmd.AccountID, cmd.CreditType, cmd.SourceRef)
			if err == nil {
				pkg = existing
				return nil
			}
			if !errors.Is(err, shared.ErrNotFound) {
				return fmt.Errorf("failed to look up credit package by source: %w", err)
			}
		}

		if cmd.Source == billing.CreditSourceSubscriptionGrant {
			current, err := repos.CreditPackages().FindActiveBySourceForUpdate(ctx, cmd.AccountID, cmd.CreditType, billing.CreditSourceSubscriptionGrant)
			if err != nil {
				return fmt.Errorf("failed to lock subscription grants: %w", err)
			}
			if len(current) > 0 && pkg.PrecedesPeriodOf(current[0]) {
				pkg = current[0]
				superseded = true
				return nil
			}

			expired, err := repos.CreditPackages().ExpireActiveBySource(ctx, cmd.AccountID, cmd.CreditType, billing.CreditSourceSubscriptionGrant)
			if err != nil {
				return fmt.Errorf("failed to expire previous subscription grants: %w", err)
			}
			if expired > 0 {
				s.logger.Info("Expired previous subscription grants",
					zap.String("account_id", cmd.AccountID.String()),
					zap.String("credit_type", cmd.CreditType),
					zap.Int64("count", expired))
			}
		}

		if err := repos.CreditPackages().Create(ctx, pkg); err != nil {
			return fmt.Errorf("failed to create credit package: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if superseded {
		s.logger.Warn("Subscription grant is older than the active grant, skipping",
			zap.String("account_id", cmd.AccountID.String()),
			zap.String("credit_type", cmd.CreditType),
			zap.String("source_ref", cmd.SourceRef),
			zap.String("active_source_ref", pkg.SourceRef))
		return pkg, nil
	}
	if !created {
		s.logger.Info("Credit grant already applied",
			zap.String("account_id", cmd.AccountID.String()),
			zap.String("credit_type", cmd.CreditType),
			zap.String("source_ref", cmd.SourceRef))
		return pkg, nil
	}

	s.publish(ctx, billing.NewCreditsGrantedEvent(pkg))

	s.logger.Info("Credits granted",
		zap.String("account_id", cmd.AccountID.String()),
		zap.String("package_id", pkg.ID.String()),
		zap.String("credit_type", pkg.CreditType),
		zap.Int64("amount", pkg.InitialCredits),
		zap.String("source", string(pkg.Source)))

	return pkg, nil
}

// ExpireStalePackages marks every active package whose expiry has passed as expired.
// Running it repeatedly is harmless.
func (s *CreditLedgerService) ExpireStalePackages(ctx context.Context) (int64, error) {
	count, err := s.packages.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale credit packages: %w", err)
	}
	if count > 0 {
		s.logger.Info("Expired stale credit packages", zap.Int64("count", count))
	}
	return count, nil
}

// ListPackages returns an account's packages of one credit type, newest first
func (s *CreditLedgerService) ListPackages(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) (*shared.Paginated[*billing.CreditPackage], error) {
	filter = filter.Normalize()
	items, total, err := s.packages.ListByAccount(ctx, accountID, billing.NormalizeCreditType(creditType), filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit packages: %w", err)
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// ListUsage returns an account's usage records of one credit type, newest first
func (s *CreditLedgerService) ListUsage(ctx context.Context, accountID uuid.UUID, creditType string, filter shared.Filter) (*shared.Paginated[*billing.CreditUsageRecord], error) {
	filter = filter.Normalize()
	items, total, err := s.usage.ListByAccount(ctx, accountID, billing.NormalizeCreditType(creditType), filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit usage: %w", err)
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

func (s *CreditLedgerService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.eventBus == nil || len(events) == 0 {
		return
	}
	if err := s.eventBus.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish ledger events", zap.Error(err))
	}
}
