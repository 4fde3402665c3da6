package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/meterly/backend/internal/infrastructure/telemetry"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// Gateway event types handled by the processor
const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventCustomerSubscriptionCreated = "customer.subscription.created"
	EventCustomerSubscriptionUpdated = "customer.subscription.updated"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid                 = "invoice.paid"
	EventInvoicePaymentFailed        = "invoice.payment_failed"
)

// Ingest outcomes
const (
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
	WebhookStatusDuplicate = "duplicate"
)

// EventVerifier authenticates a raw gateway notification and decodes it
type EventVerifier interface {
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
}

// CreditGranter is the slice of the credit ledger the webhook handlers need
type CreditGranter interface {
	Grant(ctx context.Context, cmd GrantCommand) (*billing.CreditPackage, error)
}

// WebhookMetrics records webhook ingestion outcomes
type WebhookMetrics interface {
	RecordWebhook(ctx context.Context, eventType, status string, duration time.Duration)
}

// WebhookProcessor ingests gateway notifications exactly once.
// It is the only writer of subscription state.
type WebhookProcessor struct {
	verifier          EventVerifier
	receipts          billing.WebhookReceiptRepository
	subscriptions     billing.SubscriptionRepository
	txScope           TransactionScope
	ledger            CreditGranter
	catalog           *billing.PlanCatalog
	idempotency       shared.IdempotencyStore
	idempotencyTTL    time.Duration
	eventBus          shared.EventPublisher
	metrics           WebhookMetrics
	logger            *zap.Logger
	handlerTimeout    time.Duration
	maxRetries        int
	stalePendingAfter time.Duration
	reconcileBatch    int
	now               func() time.Time
}

// WebhookProcessorConfig contains configuration for WebhookProcessor
type WebhookProcessorConfig struct {
	Verifier      EventVerifier
	Receipts      billing.WebhookReceiptRepository
	Subscriptions billing.SubscriptionRepository
	TxScope       TransactionScope
	Ledger        CreditGranter
	Catalog       *billing.PlanCatalog
	// Idempotency is an optional fast path in front of the receipt table
	Idempotency    shared.IdempotencyStore
	IdempotencyTTL time.Duration
	EventBus       shared.EventPublisher
	Metrics        WebhookMetrics
	Logger         *zap.Logger

	HandlerTimeout    time.Duration // Default: 10 seconds
	MaxRetries        int           // Default: 5
	StalePendingAfter time.Duration // Default: 15 minutes
	ReconcileBatch    int           // Default: 50
	Now               func() time.Time
}

// NewWebhookProcessor creates a new WebhookProcessor
func NewWebhookProcessor(cfg WebhookProcessorConfig) *WebhookProcessor {
	p := &WebhookProcessor{
		verifier:          cfg.Verifier,
		receipts:          cfg.Receipts,
		subscriptions:     cfg.Subscriptions,
		txScope:           cfg.TxScope,
		ledger:            cfg.Ledger,
		catalog:           cfg.Catalog,
		idempotency:       cfg.Idempotency,
		idempotencyTTL:    cfg.IdempotencyTTL,
		eventBus:          cfg.EventBus,
		metrics:           cfg.Metrics,
		logger:            cfg.Logger,
		handlerTimeout:    cfg.HandlerTimeout,
		maxRetries:        cfg.MaxRetries,
		stalePendingAfter: cfg.StalePendingAfter,
		reconcileBatch:    cfg.ReconcileBatch,
		now:               cfg.Now,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.catalog == nil {
		p.catalog = billing.DefaultPlanCatalog()
	}
	if p.idempotencyTTL <= 0 {
		p.idempotencyTTL = shared.DefaultIdempotencyConfig().TTL
	}
	if p.handlerTimeout <= 0 {
		p.handlerTimeout = 10 * time.Second
	}
	if p.maxRetries <= 0 {
		p.maxRetries = 5
	}
	if p.stalePendingAfter <= 0 {
		p.stalePendingAfter = 15 * time.Minute
	}
	if p.reconcileBatch <= 0 {
		p.reconcileBatch = 50
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// WebhookResult contains the result of ingesting a webhook
type WebhookResult struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// Ingest verifies, records and applies one gateway notification.
//
// Only a bad signature or a failure to record the receipt is returned as an error.
// Handler failures are stored on the receipt for ReprocessFailed and the event is still
// acknowledged.
func (p *WebhookProcessor) Ingest(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	start := time.Now()

	event, err := p.verifier.ConstructEvent(payload, signature)
	if err != nil {
		p.logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidSignature, err)
	}

	ctx = logger.WithGatewayEventID(ctx, event.ID)
	ctx, span := telemetry.StartServiceSpan(ctx, "webhook_processor", "ingest",
		telemetry.WithAttribute(telemetry.SpanAttrGatewayEventID, event.ID),
		telemetry.WithAttribute(telemetry.SpanAttrEventType, string(event.Type)),
	)
	defer span.End()

	log := logger.L(ctx, p.logger)
	result := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordWebhook(ctx, result.EventType, result.Status, time.Since(start))
		}
	}()

	if p.idempotency != nil {
		seen, err := p.idempotency.IsProcessed(ctx, event.ID)
		if err != nil {
			log.Warn("Idempotency fast path unavailable", zap.Error(err))
		} else if seen {
			result.Status = WebhookStatusDuplicate
			return result, nil
		}
	}

	receipt, err := billing.NewWebhookEventReceipt(event.ID, string(event.Type), payload, eventTime(event), p.now())
	if err != nil {
		return nil, err
	}
	created, err := p.receipts.CreateIfAbsent(ctx, receipt)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to record webhook receipt: %w", err)
	}
	if p.idempotency != nil {
		if _, err := p.idempotency.MarkProcessed(ctx, event.ID, p.idempotencyTTL); err != nil {
			log.Warn("Failed to mark event in idempotency fast path", zap.Error(err))
		}
	}
	if !created {
		log.Debug("Duplicate webhook delivery", zap.String("event_type", result.EventType))
		result.Status = WebhookStatusDuplicate
		return result, nil
	}

	if err := p.process(ctx, receipt, event); err != nil {
		telemetry.RecordError(span, err)
		result.Status = WebhookStatusFailed
		result.Message = err.Error()
		return result, nil
	}
	result.Status = WebhookStatusProcessed
	return result, nil
}

// ReprocessSummary reports one reconciliation pass
type ReprocessSummary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ReprocessFailed re-runs failed receipts below the retry ceiling and pending receipts
// that were abandoned mid-flight. Handlers are idempotent, so a receipt that is
// re-run after a partial success does not double-apply.
func (p *WebhookProcessor) ReprocessFailed(ctx context.Context) (ReprocessSummary, error) {
	var summary ReprocessSummary

	receipts, err := p.receipts.FindRetryable(ctx, p.maxRetries, p.now().Add(-p.stalePendingAfter), p.reconcileBatch)
	if err != nil {
		return summary, fmt.Errorf("failed to load retryable receipts: %w", err)
	}

	for _, receipt := range receipts {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Attempted++

		var event stripe.Event
		if err := json.Unmarshal(receipt.RawPayload, &event); err != nil {
			// A payload that cannot be decoded will never succeed
			_ = receipt.MarkFailed(fmt.Errorf("failed to decode stored payload: %w", err), p.now())
			receipt.RetryCount = p.maxRetries
			if uerr := p.receipts.Update(ctx, receipt); uerr != nil {
				p.logger.Error("Failed to update webhook receipt", zap.String("gateway_event_id", receipt.GatewayEventID), zap.Error(uerr))
			}
			summary.Failed++
			continue
		}

		eventCtx := logger.WithGatewayEventID(ctx, receipt.GatewayEventID)
		if err := p.process(eventCtx, receipt, event); err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
	}

	if summary.Attempted > 0 {
		p.logger.Info("Webhook reconciliation finished",
			zap.Int("attempted", summary.Attempted),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed))
	}
	return summary, nil
}

// process runs the handler for event and records the outcome on receipt
func (p *WebhookProcessor) process(ctx context.Context, receipt *billing.WebhookEventReceipt, event stripe.Event) error {
	log := logger.L(ctx, p.logger)

	handlerErr := p.runHandler(ctx, event)

	now := p.now()
	if handlerErr != nil {
		log.Error("Webhook handler failed",
			zap.String("event_type", string(event.Type)),
			zap.Int("retry_count", receipt.RetryCount),
			zap.Error(handlerErr))
		if err := receipt.MarkFailed(handlerErr, now); err != nil {
			return err
		}
	} else if err := receipt.MarkProcessed(now); err != nil {
		return err
	}

	// The handler context may have expired; the outcome must still be recorded
	if err := p.receipts.Update(context.WithoutCancel(ctx), receipt); err != nil {
		log.Error("Failed to update webhook receipt", zap.Error(err))
		if handlerErr == nil {
			return fmt.Errorf("failed to update webhook receipt: %w", err)
		}
	}
	return handlerErr
}

// runHandler dispatches event with the handler timeout applied
func (p *WebhookProcessor) runHandler(ctx context.Context, event stripe.Event) error {
	hctx, cancel := context.WithTimeout(ctx, p.handlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Webhook handler panicked",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- p.dispatch(hctx, event)
	}()

	select {
	case err := <-done:
		return err
	case <-hctx.Done():
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("handler timed out after %s", p.handlerTimeout)
		}
		return hctx.Err()
	}
}

func (p *WebhookProcessor) dispatch(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return shared.NewDomainError("INVALID_EVENT", "Event carries no data object")
	}

	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case EventCustomerSubscriptionCreated, EventCustomerSubscriptionUpdated:
		return p.handleSubscriptionUpserted(ctx, event)
	case EventCustomerSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event)
	case EventInvoicePaid:
		return p.handleInvoicePaid(ctx, event)
	case EventInvoicePaymentFailed:
		return p.handleInvoicePaymentFailed(ctx, event)
	default:
		logger.L(ctx, p.logger).Debug("Unhandled webhook event type", zap.String("event_type", string(event.Type)))
		return nil
	}
}

func (p *WebhookProcessor) publish(ctx context.Context, agg shared.AggregateRoot) {
	events := agg.GetDomainEvents()
	agg.ClearDomainEvents()
	if p.eventBus == nil || len(events) == 0 {
		return
	}
	if err := p.eventBus.Publish(ctx, events...); err != nil {
		logger.L(ctx, p.logger).Warn("Failed to publish billing events", zap.Error(err))
	}
}

func eventTime(event stripe.Event) time.Time {
	if event.Created == 0 {
		return time.Time{}
	}
	return time.Unix(event.Created, 0).UTC()
}
