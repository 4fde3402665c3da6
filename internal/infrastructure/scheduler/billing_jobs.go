package scheduler

import (
	"context"

	appbilling "github.com/meterly/backend/internal/application/billing"
)

// CreditExpirer marks credit packages past their expiry as expired
type CreditExpirer interface {
	ExpireStalePackages(ctx context.Context) (int64, error)
}

// WebhookReconciler re-runs failed and stale webhook receipts
type WebhookReconciler interface {
	ReprocessFailed(ctx context.Context) (appbilling.ReprocessSummary, error)
}

// ExpireCreditsJob sweeps expired credit packages
func ExpireCreditsJob(schedule string, expirer CreditExpirer) Job {
	return Job{
		Name:     JobExpireCredits,
		Schedule: schedule,
		Run:      expirer.ExpireStalePackages,
	}
}

// ReconcileWebhooksJob retries webhook receipts whose handling failed.
// Affected counts receipts that succeeded on this pass.
func ReconcileWebhooksJob(schedule string, reconciler WebhookReconciler) Job {
	return Job{
		Name:     JobReconcileWebhooks,
		Schedule: schedule,
		Run: func(ctx context.Context) (int64, error) {
			summary, err := reconciler.ReprocessFailed(ctx)
			return int64(summary.Succeeded), err
		},
	}
}
