package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/meterly/backend/internal/domain/billing"
	"github.com/meterly/backend/internal/domain/shared"
	"github.com/meterly/backend/internal/infrastructure/logger"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"
)

// Metadata keys set on gateway objects by the checkout flow
const (
	MetadataAccountID     = "account_id"
	MetadataPlanType      = "plan_type"
	MetadataCreditType    = "credit_type"
	MetadataCredits       = "credits"
	MetadataExpiresInDays = "expires_in_days"
)

// defaultGrantPeriod is used when a subscription carries no billing period length
const defaultGrantPeriod = 31 * 24 * time.Hour

// handleCheckoutCompleted handles checkout.session.completed.
// One-off payments grant purchased credits; subscription checkouts only link the
// account to the gateway customer and wait for the subscription event.
func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}
	log := logger.L(ctx, p.logger).With(zap.String("checkout_session_id", session.ID))

	accountID, ok := accountFromReference(session.ClientReferenceID, session.Metadata)
	if !ok {
		return shared.NewDomainError("UNKNOWN_ACCOUNT", "Checkout session carries no account reference")
	}

	switch session.Mode {
	case stripe.CheckoutSessionModePayment:
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
			session.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
			log.Info("Checkout session not paid yet, skipping grant",
				zap.String("payment_status", string(session.PaymentStatus)))
			return nil
		}
		cmd, err := purchaseGrantFromMetadata(accountID, session.ID, session.Metadata)
		if err != nil {
			return err
		}
		if _, err := p.ledger.Grant(ctx, cmd); err != nil {
			return fmt.Errorf("failed to grant purchased credits: %w", err)
		}
		return nil

	case stripe.CheckoutSessionModeSubscription:
		var sub *billing.Subscription
		err := p.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			var err error
			sub, err = loadOrCreateForUpdate(ctx, repos.Subscriptions(), accountID)
			if err != nil {
				return err
			}
			if session.Customer != nil && session.Customer.ID != "" {
				sub.GatewayCustomerID = session.Customer.ID
			}
			if session.Subscription != nil && session.Subscription.ID != "" {
				sub.GatewaySubscriptionID = session.Subscription.ID
			}
			if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
				sub.BillingEmail = session.CustomerDetails.Email
			}
			return repos.Subscriptions().Save(ctx, sub)
		})
		if err != nil {
			return fmt.Errorf("failed to link checkout to subscription: %w", err)
		}
		log.Info("Linked account to gateway customer",
			zap.String("account_id", accountID.String()),
			zap.String("gateway_customer_id", sub.GatewayCustomerID))
		return nil

	default:
		log.Debug("Ignoring checkout session mode", zap.String("mode", string(session.Mode)))
		return nil
	}
}

// handleSubscriptionUpserted handles customer.subscription.created and .updated.
// The local row is upserted unless a newer event has already been applied; an active
// subscription then receives its monthly credit allowance for the current period.
func (p *WebhookProcessor) handleSubscriptionUpserted(ctx context.Context, event stripe.Event) error {
	var gs stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &gs); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	accountID, err := p.resolveAccount(ctx, gs.Metadata, gs.ID, customerID(gs.Customer))
	if err != nil {
		return err
	}
	log := logger.L(ctx, p.logger).With(
		zap.String("account_id", accountID.String()),
		zap.String("gateway_subscription_id", gs.ID))

	eventAt := eventTime(event)
	var sub *billing.Subscription
	applied := false
	err = p.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		sub, err = loadOrCreateForUpdate(ctx, repos.Subscriptions(), accountID)
		if err != nil {
			return err
		}
		if !sub.AcceptsEventAt(eventAt) {
			return nil
		}
		if err := p.applyGatewaySubscription(ctx, sub, &gs, eventAt); err != nil {
			return err
		}
		if err := repos.Subscriptions().Save(ctx, sub); err != nil {
			return fmt.Errorf("failed to save subscription: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return err
	}
	if !applied {
		log.Info("Skipping out-of-order subscription event",
			zap.Time("event_created_at", eventAt),
			zap.Timep("last_event_at", sub.LastEventAt))
		return nil
	}
	p.publish(ctx, sub)

	log.Info("Subscription synchronized",
		zap.String("status", string(sub.Status)),
		zap.String("plan_type", string(sub.PlanType)))

	if sub.IsActive() {
		return p.grantMonthlyCredits(ctx, sub, sub.CurrentPeriodStart)
	}
	return nil
}

// handleSubscriptionDeleted handles customer.subscription.deleted
func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var gs stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &gs); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	accountID, err := p.resolveAccount(ctx, gs.Metadata, gs.ID, customerID(gs.Customer))
	if err != nil {
		return err
	}

	eventAt := eventTime(event)
	var sub *billing.Subscription
	err = p.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		sub, err = loadOrCreateForUpdate(ctx, repos.Subscriptions(), accountID)
		if err != nil {
			return err
		}
		gs.Status = stripe.SubscriptionStatusCanceled
		if err := p.applyGatewaySubscription(ctx, sub, &gs, eventAt); err != nil {
			return err
		}
		return repos.Subscriptions().Save(ctx, sub)
	})
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	p.publish(ctx, sub)

	logger.L(ctx, p.logger).Info("Subscription canceled",
		zap.String("account_id", accountID.String()),
		zap.String("gateway_subscription_id", gs.ID),
		zap.Timep("deletion_date", sub.DeletionDate()))
	return nil
}

// handleInvoicePaid re-grants the monthly allowance when a renewal invoice is paid
func (p *WebhookProcessor) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}
	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return nil
	}

	sub, err := p.subscriptionForInvoice(ctx, &invoice)
	if err != nil {
		return err
	}
	if sub.Status == billing.SubscriptionStatusCanceled || !sub.HasSubscription() {
		logger.L(ctx, p.logger).Info("Skipping renewal grant for inactive subscription",
			zap.String("account_id", sub.AccountID.String()),
			zap.String("status", string(sub.Status)))
		return nil
	}

	// A renewal invoice covers the period that just ended, so its end is the new period's start
	var periodStart *time.Time
	if invoice.PeriodEnd > 0 {
		t := time.Unix(invoice.PeriodEnd, 0).UTC()
		periodStart = &t
	}
	return p.grantMonthlyCredits(ctx, sub, periodStart)
}

// handleInvoicePaymentFailed moves the subscription to past_due
func (p *WebhookProcessor) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}

	found, err := p.subscriptionForInvoice(ctx, &invoice)
	if err != nil {
		return err
	}

	eventAt := eventTime(event)
	var sub *billing.Subscription
	applied := false
	err = p.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		sub, err = repos.Subscriptions().FindByAccountIDForUpdate(ctx, found.AccountID)
		if err != nil {
			return err
		}
		if !sub.AcceptsEventAt(eventAt) {
			return nil
		}
		if sub.BillingEmail == "" {
			sub.BillingEmail = invoice.CustomerEmail
		}
		sub.MarkPaymentFailed(invoice.ID)
		sub.RecordEventAt(eventAt)
		applied = true
		return repos.Subscriptions().Save(ctx, sub)
	})
	if err != nil {
		return fmt.Errorf("failed to record payment failure: %w", err)
	}
	if !applied {
		return nil
	}
	p.publish(ctx, sub)

	logger.L(ctx, p.logger).Warn("Invoice payment failed",
		zap.String("account_id", sub.AccountID.String()),
		zap.String("invoice_id", invoice.ID))
	return nil
}

// applyGatewaySubscription copies the gateway's view of a subscription onto the local row
func (p *WebhookProcessor) applyGatewaySubscription(ctx context.Context, sub *billing.Subscription, gs *stripe.Subscription, eventAt time.Time) error {
	status, err := billing.ParseSubscriptionStatus(string(gs.Status))
	if err != nil {
		return err
	}
	if err := sub.SetPeriod(unixPtr(gs.CurrentPeriodStart), unixPtr(gs.CurrentPeriodEnd)); err != nil {
		return err
	}
	sub.SetTrial(unixPtr(gs.TrialStart), unixPtr(gs.TrialEnd))
	sub.CancelAtPeriodEnd = gs.CancelAtPeriodEnd
	sub.GatewaySubscriptionID = gs.ID
	if gs.Customer != nil {
		if gs.Customer.ID != "" {
			sub.GatewayCustomerID = gs.Customer.ID
		}
		if gs.Customer.Email != "" {
			sub.BillingEmail = gs.Customer.Email
		}
	}
	if len(gs.Metadata) > 0 {
		sub.Metadata = make(map[string]string, len(gs.Metadata))
		for k, v := range gs.Metadata {
			sub.Metadata[k] = v
		}
	}

	if plan, ok := p.resolvePlan(gs); ok {
		sub.ApplyPlan(plan)
	} else {
		logger.L(ctx, p.logger).Warn("Subscription plan not in catalog, keeping previous entitlements",
			zap.String("gateway_subscription_id", gs.ID),
			zap.Strings("price_ids", priceIDs(gs)))
	}
	if err := sub.SyncAddons(p.addonQuantities(gs)); err != nil {
		return err
	}

	if status == billing.SubscriptionStatusCanceled {
		if sub.CanceledAt == nil {
			sub.CanceledAt = unixPtr(gs.CanceledAt)
		}
		endedAt := eventAt
		if gs.EndedAt > 0 {
			endedAt = time.Unix(gs.EndedAt, 0).UTC()
		}
		if endedAt.IsZero() {
			endedAt = p.now().UTC()
		}
		sub.MarkCanceled(endedAt)
	} else {
		if err := sub.SetStatus(status); err != nil {
			return err
		}
		sub.CanceledAt = unixPtr(gs.CanceledAt)
		sub.EndedAt = nil
	}

	sub.RecordEventAt(eventAt)
	return nil
}

// resolvePlan finds the catalog plan for a gateway subscription by price ID,
// falling back to the plan_type metadata key
func (p *WebhookProcessor) resolvePlan(gs *stripe.Subscription) (billing.PlanDefinition, bool) {
	for _, priceID := range priceIDs(gs) {
		if plan, ok := p.catalog.PlanByPriceID(priceID); ok {
			return plan, true
		}
	}
	if planType, ok := gs.Metadata[MetadataPlanType]; ok {
		return p.catalog.Plan(billing.PlanType(planType))
	}
	return billing.PlanDefinition{}, false
}

// addonQuantities sums item quantities per add-on type
func (p *WebhookProcessor) addonQuantities(gs *stripe.Subscription) map[billing.AddonType]int {
	quantities := make(map[billing.AddonType]int)
	if gs.Items == nil {
		return quantities
	}
	for _, item := range gs.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		addon, ok := p.catalog.AddonByPriceID(item.Price.ID)
		if !ok {
			continue
		}
		quantities[addon.Type] += int(item.Quantity)
	}
	return quantities
}

// grantMonthlyCredits grants the plan's per-period allowance. The grant reference is
// derived from the subscription and the period start so that the subscription event and
// the renewal invoice of the same period grant only once.
func (p *WebhookProcessor) grantMonthlyCredits(ctx context.Context, sub *billing.Subscription, periodStart *time.Time) error {
	if len(sub.MonthlyCredits) == 0 {
		return nil
	}
	log := logger.L(ctx, p.logger).With(zap.String("account_id", sub.AccountID.String()))
	if periodStart == nil {
		log.Warn("Subscription has no billing period, skipping monthly grant")
		return nil
	}

	periodLength := defaultGrantPeriod
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(*sub.CurrentPeriodStart) {
		periodLength = sub.CurrentPeriodEnd.Sub(*sub.CurrentPeriodStart)
	}
	days := int(math.Ceil(periodStart.Add(periodLength).Sub(p.now()).Hours() / 24))
	if days < 1 {
		days = 1
	}

	ref := fmt.Sprintf("subscription:%s:%d", sub.GatewaySubscriptionID, periodStart.Unix())
	creditTypes := lo.Keys(sub.MonthlyCredits)
	sort.Strings(creditTypes)
	for _, creditType := range creditTypes {
		amount := sub.MonthlyCredits[creditType]
		if amount <= 0 {
			continue
		}
		_, err := p.ledger.Grant(ctx, GrantCommand{
			AccountID:     sub.AccountID,
			CreditType:    creditType,
			Amount:        amount,
			ExpiresInDays: &days,
			Source:        billing.CreditSourceSubscriptionGrant,
			SourceRef:     ref,
			PeriodStart:   periodStart,
		})
		if err != nil {
			return fmt.Errorf("failed to grant monthly %s credits: %w", creditType, err)
		}
	}
	return nil
}

// resolveAccount finds the account a gateway object belongs to: the account_id metadata
// key first, then the stored gateway subscription and customer IDs
func (p *WebhookProcessor) resolveAccount(ctx context.Context, metadata map[string]string, gatewaySubscriptionID, gatewayCustomerID string) (uuid.UUID, error) {
	if id, ok := accountFromReference("", metadata); ok {
		return id, nil
	}
	if gatewaySubscriptionID != "" {
		sub, err := p.subscriptions.FindByGatewaySubscriptionID(ctx, gatewaySubscriptionID)
		if err == nil {
			return sub.AccountID, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("failed to find subscription: %w", err)
		}
	}
	if gatewayCustomerID != "" {
		sub, err := p.subscriptions.FindByGatewayCustomerID(ctx, gatewayCustomerID)
		if err == nil {
			return sub.AccountID, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("failed to find subscription: %w", err)
		}
	}
	return uuid.Nil, fmt.Errorf("no account for gateway subscription %q / customer %q: %w",
		gatewaySubscriptionID, gatewayCustomerID, shared.ErrNotFound)
}

func (p *WebhookProcessor) subscriptionForInvoice(ctx context.Context, invoice *stripe.Invoice) (*billing.Subscription, error) {
	gatewaySubscriptionID := ""
	if invoice.Subscription != nil {
		gatewaySubscriptionID = invoice.Subscription.ID
	}
	accountID, err := p.resolveAccount(ctx, invoice.Metadata, gatewaySubscriptionID, customerID(invoice.Customer))
	if err != nil {
		return nil, err
	}
	sub, err := p.subscriptions.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// loadOrCreateForUpdate locks the account's subscription row, inserting an empty one first
// when the account has none so that racing first events lock the same row.
func loadOrCreateForUpdate(ctx context.Context, repo billing.SubscriptionRepository, accountID uuid.UUID) (*billing.Subscription, error) {
	sub, err := repo.LockOrCreate(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}
	return sub, nil
}

func purchaseGrantFromMetadata(accountID uuid.UUID, sessionID string, metadata map[string]string) (GrantCommand, error) {
	creditType := billing.NormalizeCreditType(metadata[MetadataCreditType])
	if creditType == "" {
		return GrantCommand{}, shared.NewDomainError("INVALID_CHECKOUT", "Checkout session has no credit_type metadata")
	}
	credits, err := strconv.ParseInt(metadata[MetadataCredits], 10, 64)
	if err != nil || credits <= 0 {
		return GrantCommand{}, shared.NewDomainError("INVALID_CHECKOUT", "Checkout session has no valid credits metadata")
	}

	cmd := GrantCommand{
		AccountID:  accountID,
		CreditType: creditType,
		Amount:     credits,
		Source:     billing.CreditSourcePurchase,
		SourceRef:  "checkout:" + sessionID,
	}
	if raw, ok := metadata[MetadataExpiresInDays]; ok && raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			return GrantCommand{}, shared.NewDomainError("INVALID_CHECKOUT", "Checkout session has invalid expires_in_days metadata")
		}
		cmd.ExpiresInDays = &days
	}
	return cmd, nil
}

func accountFromReference(clientReferenceID string, metadata map[string]string) (uuid.UUID, bool) {
	for _, raw := range []string{clientReferenceID, metadata[MetadataAccountID]} {
		if raw == "" {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil && id != uuid.Nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func priceIDs(gs *stripe.Subscription) []string {
	if gs.Items == nil {
		return nil
	}
	items := lo.Filter(gs.Items.Data, func(item *stripe.SubscriptionItem, _ int) bool {
		return item != nil && item.Price != nil && item.Price.ID != ""
	})
	return lo.Map(items, func(item *stripe.SubscriptionItem, _ int) string {
		return item.Price.ID
	})
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
