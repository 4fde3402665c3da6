package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/persistence/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGormSubscriptionRepository_SaveAndFind(t *testing.T) {
	repo := NewGormSubscriptionRepository(newTestDB(t))
	ctx := context.Background()
	account := uuid.New()

	sub, err := billing.NewSubscription(account)
	require.NoError(t, err)
	plan, ok := billing.DefaultPlanCatalog().Plan("pro")
	require.True(t, ok)
	sub.ApplyPlan(plan)
	require.NoError(t, sub.SetStatus(billing.SubscriptionStatusActive))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	require.NoError(t, sub.SetPeriod(&start, &end))
	sub.GatewayCustomerID = "cus_1"
	sub.GatewaySubscriptionID = "sub_1"
	sub.BillingEmail = "owner@example.com"
	sub.RecordEventAt(start)
	require.NoError(t, sub.AddAddon(billing.AddonTypeChannel, 2))

	require.NoError(t, repo.Save(ctx, sub))

	found, err := repo.FindByAccountID(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, found.ID)
	assert.Equal(t, billing.PlanType("pro"), found.PlanType)
	assert.Equal(t, billing.SubscriptionStatusActive, found.Status)
	assert.Equal(t, plan.MaxUsers, found.MaxUsers)
	assert.Equal(t, plan.MonthlyCredits, found.MonthlyCredits)
	assert.Equal(t, "owner@example.com", found.BillingEmail)
	require.NotNil(t, found.CurrentPeriodEnd)
	assert.True(t, end.Equal(*found.CurrentPeriodEnd))
	require.Len(t, found.Addons, 1)
	assert.Equal(t, 2, found.Addons[0].Quantity)
	assert.True(t, found.Addons[0].IsActive)

	bySub, err := repo.FindByGatewaySubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, account, bySub.AccountID)

	byCustomer, err := repo.FindByGatewayCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, account, byCustomer.AccountID)

	_, err = repo.FindByAccountID(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormSubscriptionRepository_SaveUpdatesInPlace(t *testing.T) {
	repo := NewGormSubscriptionRepository(newTestDB(t))
	ctx := context.Background()
	account := uuid.New()

	sub, err := billing.NewSubscription(account)
	require.NoError(t, err)
	require.NoError(t, sub.AddAddon(billing.AddonTypeUser, 1))
	require.NoError(t, repo.Save(ctx, sub))

	loaded, err := repo.FindByAccountIDForUpdate(ctx, account)
	require.NoError(t, err)
	require.NoError(t, loaded.SetAddonQuantity(billing.AddonTypeUser, 0))
	require.NoError(t, loaded.AddAddon(billing.AddonTypeUser, 3))
	loaded.MarkCanceled(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Save(ctx, loaded))

	found, err := repo.FindByAccountID(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStatusCanceled, found.Status)
	require.NotNil(t, found.EndedAt)
	require.Len(t, found.Addons, 2, "deactivated add-ons are kept")
	active := found.ActiveAddons()
	require.Len(t, active, 1)
	assert.Equal(t, 3, active[0].Quantity)
}

func TestGormSubscriptionRepository_SaveKeepsExistingRowID(t *testing.T) {
	repo := NewGormSubscriptionRepository(newTestDB(t))
	ctx := context.Background()
	account := uuid.New()

	first, err := billing.NewSubscription(account)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))

	second, err := billing.NewSubscription(account)
	require.NoError(t, err)
	require.NoError(t, second.SetStatus(billing.SubscriptionStatusTrialing))
	require.NoError(t, repo.Save(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	found, err := repo.FindByAccountID(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionStatusTrialing, found.Status)
}

func TestGormSubscriptionRepository_FirstSavesKeepOneActiveAddonPerType(t *testing.T) {
	repo := NewGormSubscriptionRepository(newTestDB(t))
	ctx := context.Background()
	account := uuid.New()

	// Two handlers that both saw no row build independent subscriptions for the account.
	for i := 0; i < 2; i++ {
		sub, err := billing.NewSubscription(account)
		require.NoError(t, err)
		require.NoError(t, sub.SetStatus(billing.SubscriptionStatusActive))
		sub.MaxUsers = 3
		require.NoError(t, sub.SyncAddons(map[billing.AddonType]int{billing.AddonTypeUser: 2}))
		require.NoError(t, repo.Save(ctx, sub))
	}

	found, err := repo.FindByAccountID(ctx, account)
	require.NoError(t, err)
	active := found.ActiveAddons()
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Quantity)

	limits := billing.CalculateEffectiveLimits(billing.DefaultPlanCatalog(), found)
	assert.Equal(t, 5, limits.MaxUsers)

	require.NoError(t, found.SyncAddons(map[billing.AddonType]int{billing.AddonTypeUser: 4}))
	require.NoError(t, repo.Save(ctx, found))

	found, err = repo.FindByAccountID(ctx, account)
	require.NoError(t, err)
	active = found.ActiveAddons()
	require.Len(t, active, 1)
	assert.Equal(t, 4, active[0].Quantity)
	assert.Equal(t, 7, billing.CalculateEffectiveLimits(billing.DefaultPlanCatalog(), found).MaxUsers)
}

func TestGormSubscriptionRepository_SaveKeepsInactiveAddonInactive(t *testing.T) {
	repo := NewGormSubscriptionRepository(newTestDB(t))
	ctx := context.Background()
	account := uuid.New()

	sub, err := billing.NewSubscription(account)
	require.NoError(t, err)
	require.NoError(t, sub.AddAddon(billing.AddonTypeChannel, 1))
	sub.DeactivateAddon(billing.AddonTypeChannel)
	require.NoError(t, repo.Save(ctx, sub))

	found, err := repo.FindByAccountID(ctx, account)
	require.NoError(t, err)
	require.Len(t, found.Addons, 1)
	assert.False(t, found.Addons[0].IsActive)
	assert.Empty(t, found.ActiveAddons())
}

func TestGormSubscriptionRepository_LockOrCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormSubscriptionRepository(db)
	ctx := context.Background()
	account := uuid.New()

	var first, second *billing.Subscription
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = NewGormSubscriptionRepository(tx).LockOrCreate(ctx, account)
		return err
	}))
	assert.Equal(t, billing.SubscriptionStatusNone, first.Status)

	require.NoError(t, first.SetStatus(billing.SubscriptionStatusTrialing))
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = NewGormSubscriptionRepository(tx).LockOrCreate(ctx, account)
		return err
	}))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, billing.SubscriptionStatusTrialing, second.Status)

	var count int64
	require.NoError(t, db.Model(&models.SubscriptionModel{}).Where("account_id = ?", account).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
