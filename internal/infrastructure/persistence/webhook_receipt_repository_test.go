package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReceipt(t *testing.T, eventID string, receivedAt time.Time) *billing.WebhookEventReceipt {
	t.Helper()
	r, err := billing.NewWebhookEventReceipt(eventID, "invoice.paid", []byte(`{"id":"`+eventID+`"}`), receivedAt.Add(-time.Second), receivedAt)
	require.NoError(t, err)
	return r
}

func TestGormWebhookReceiptRepository_CreateIfAbsent(t *testing.T) {
	repo := NewGormWebhookReceiptRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	created, err := repo.CreateIfAbsent(ctx, newReceipt(t, "evt_1", now))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateIfAbsent(ctx, newReceipt(t, "evt_1", now.Add(time.Minute)))
	require.NoError(t, err)
	assert.False(t, created)

	found, err := repo.FindByGatewayEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReceiptStatusPending, found.Status)
	assert.True(t, now.Equal(found.ReceivedAt), "the first delivery wins")
	assert.JSONEq(t, `{"id":"evt_1"}`, string(found.RawPayload))

	_, err = repo.FindByGatewayEventID(ctx, "evt_missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGormWebhookReceiptRepository_ConcurrentDeliveries(t *testing.T) {
	repo := NewGormWebhookReceiptRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	const deliveries = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	receipts := make([]*billing.WebhookEventReceipt, deliveries)
	for i := range receipts {
		receipts[i] = newReceipt(t, "evt_race", now)
	}
	for _, r := range receipts {
		wg.Add(1)
		go func(r *billing.WebhookEventReceipt) {
			defer wg.Done()
			created, err := repo.CreateIfAbsent(ctx, r)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestGormWebhookReceiptRepository_Update(t *testing.T) {
	repo := NewGormWebhookReceiptRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	receipt := newReceipt(t, "evt_1", now)
	_, err := repo.CreateIfAbsent(ctx, receipt)
	require.NoError(t, err)

	require.NoError(t, receipt.MarkFailed(errors.New("account not found"), now.Add(time.Second)))
	require.NoError(t, repo.Update(ctx, receipt))

	found, err := repo.FindByGatewayEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReceiptStatusFailed, found.Status)
	assert.Equal(t, "account not found", found.ErrorMessage)
	assert.Equal(t, 1, found.RetryCount)

	require.NoError(t, receipt.MarkProcessed(now.Add(time.Minute)))
	require.NoError(t, repo.Update(ctx, receipt))

	found, err = repo.FindByGatewayEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReceiptStatusProcessed, found.Status)
	assert.Empty(t, found.ErrorMessage)
	require.NotNil(t, found.ProcessedAt)

	assert.ErrorIs(t, repo.Update(ctx, newReceipt(t, "evt_unknown", now)), shared.ErrNotFound)
}

func TestGormWebhookReceiptRepository_FindRetryable(t *testing.T) {
	repo := NewGormWebhookReceiptRepository(newTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	failedOnce := newReceipt(t, "evt_failed_once", now.Add(-3*time.Hour))
	require.NoError(t, failedOnce.MarkFailed(errors.New("boom"), now))

	failedOut := newReceipt(t, "evt_failed_out", now.Add(-4*time.Hour))
	for i := 0; i < 3; i++ {
		require.NoError(t, failedOut.MarkFailed(errors.New("boom"), now))
	}

	stalePending := newReceipt(t, "evt_stale", now.Add(-2*time.Hour))
	freshPending := newReceipt(t, "evt_fresh", now.Add(-time.Minute))

	processed := newReceipt(t, "evt_done", now.Add(-5*time.Hour))
	require.NoError(t, processed.MarkProcessed(now))

	for _, r := range []*billing.WebhookEventReceipt{failedOnce, failedOut, stalePending, freshPending, processed} {
		_, err := repo.CreateIfAbsent(ctx, r)
		require.NoError(t, err)
	}

	got, err := repo.FindRetryable(ctx, 3, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "evt_failed_once", got[0].GatewayEventID)
	assert.Equal(t, "evt_stale", got[1].GatewayEventID)

	got, err = repo.FindRetryable(ctx, 3, now.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
