package telemetry

import (
	"context"
	"time"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// BillingMetrics tracks webhook ingestion, credit flow and scheduled jobs.
// Credit counters are fed from domain events, so BillingMetrics is also an event handler.
type BillingMetrics struct {
	logger *zap.Logger

	webhookTotal    *Counter
	webhookDuration *Histogram
	creditsGranted  *Counter
	creditsConsumed *Counter
	jobRuns         *Counter
	jobAffected     *Counter
}

// BillingMetricsConfig holds configuration for billing metrics.
type BillingMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewBillingMetrics creates the billing instruments on cfg.Meter
func NewBillingMetrics(cfg BillingMetricsConfig) (*BillingMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BillingMetrics{logger: logger}
	var err error

	if bm.webhookTotal, err = NewCounter(cfg.Meter,
		"billing_webhook_events_total",
		"Gateway webhook deliveries by event type and outcome",
		"{events}"); err != nil {
		return nil, err
	}
	if bm.webhookDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "billing_webhook_duration_seconds",
		Description: "Time to verify, record and apply a webhook delivery",
		Unit:        "s",
		Boundaries:  HandlerDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if bm.creditsGranted, err = NewCounter(cfg.Meter,
		"billing_credits_granted_total",
		"Credits granted by credit type and source",
		"{credits}"); err != nil {
		return nil, err
	}
	if bm.creditsConsumed, err = NewCounter(cfg.Meter,
		"billing_credits_consumed_total",
		"Credits consumed by credit type",
		"{credits}"); err != nil {
		return nil, err
	}
	if bm.jobRuns, err = NewCounter(cfg.Meter,
		"billing_job_runs_total",
		"Scheduled billing job runs by job and outcome",
		"{runs}"); err != nil {
		return nil, err
	}
	if bm.jobAffected, err = NewCounter(cfg.Meter,
		"billing_job_affected_total",
		"Rows changed by scheduled billing jobs",
		"{rows}"); err != nil {
		return nil, err
	}

	return bm, nil
}

// RecordWebhook records one webhook delivery
func (bm *BillingMetrics) RecordWebhook(ctx context.Context, eventType, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{AttrEventType.String(eventType), AttrWebhookStatus.String(status)}
	bm.webhookTotal.Inc(ctx, attrs...)
	bm.webhookDuration.RecordDuration(ctx, duration, attrs...)
}

// RecordJob records one scheduled job run and the number of rows it changed
func (bm *BillingMetrics) RecordJob(ctx context.Context, job string, err error, affected int64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	bm.jobRuns.Inc(ctx, AttrJob.String(job), AttrJobOutcome.String(outcome))
	if affected > 0 {
		bm.jobAffected.Add(ctx, affected, AttrJob.String(job))
	}
}

// EventTypes returns the credit events counted by BillingMetrics
func (bm *BillingMetrics) EventTypes() []string {
	return []string{billing.EventTypeCreditsGranted, billing.EventTypeCreditsConsumed}
}

// Handle counts granted and consumed credits
func (bm *BillingMetrics) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *billing.CreditsGrantedEvent:
		bm.creditsGranted.Add(ctx, e.Amount,
			AttrCreditType.String(e.CreditType),
			AttrCreditSource.String(string(e.Source)))
	case *billing.CreditsConsumedEvent:
		bm.creditsConsumed.Add(ctx, e.Amount, AttrCreditType.String(e.CreditType))
	default:
		bm.logger.Debug("Ignoring event in billing metrics", zap.String("event_type", event.EventType()))
	}
	return nil
}

var _ shared.EventHandler = (*BillingMetrics)(nil)
