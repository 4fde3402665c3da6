package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Notification kinds sent to billing contacts
const (
	NotificationSubscriptionCanceled = "subscription_canceled"
	NotificationPaymentFailed        = "payment_failed"
)

// BillingNotification is a message to an account's billing contact
type BillingNotification struct {
	Kind         string
	AccountID    string
	To           string
	PlanName     string
	InvoiceID    string
	DeletionDate *time.Time
}

// BillingNotifier delivers billing notifications (email, chat, ...)
type BillingNotifier interface {
	Notify(ctx context.Context, n BillingNotification) error
}

// BillingNotificationHandler turns subscription cancellations and failed payments into
// notifications for the account's billing contact
type BillingNotificationHandler struct {
	notifier BillingNotifier
	catalog  *billing.PlanCatalog
	logger   *zap.Logger
}

// NewBillingNotificationHandler creates a new BillingNotificationHandler
func NewBillingNotificationHandler(notifier BillingNotifier, catalog *billing.PlanCatalog, logger *zap.Logger) *BillingNotificationHandler {
	if catalog == nil {
		catalog = billing.DefaultPlanCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingNotificationHandler{
		notifier: notifier,
		catalog:  catalog,
		logger:   logger,
	}
}

// EventTypes returns the event types this handler is interested in
func (h *BillingNotificationHandler) EventTypes() []string {
	return []string{
		billing.EventTypeSubscriptionCanceled,
		billing.EventTypePaymentFailed,
	}
}

// Handle processes SubscriptionCanceled and PaymentFailed events
func (h *BillingNotificationHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	var n BillingNotification
	switch e := event.(type) {
	case *billing.SubscriptionCanceledEvent:
		n = BillingNotification{
			Kind:         NotificationSubscriptionCanceled,
			AccountID:    e.AccountID().String(),
			To:           e.BillingEmail,
			PlanName:     h.catalog.PlanName(e.PlanType),
			DeletionDate: e.DeletionDate,
		}
	case *billing.PaymentFailedEvent:
		n = BillingNotification{
			Kind:      NotificationPaymentFailed,
			AccountID: e.AccountID().String(),
			To:        e.BillingEmail,
			InvoiceID: e.InvoiceID,
		}
	default:
		return fmt.Errorf("unexpected event type: %s", event.EventType())
	}

	if n.To == "" {
		h.logger.Warn("No billing contact for notification",
			zap.String("kind", n.Kind),
			zap.String("account_id", n.AccountID))
		return nil
	}

	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Error("Failed to send billing notification",
			zap.String("kind", n.Kind),
			zap.String("account_id", n.AccountID),
			zap.Error(err))
		return err
	}

	h.logger.Info("Billing notification sent",
		zap.String("kind", n.Kind),
		zap.String("account_id", n.AccountID))
	return nil
}

var _ shared.EventHandler = (*BillingNotificationHandler)(nil)
