// Package billing provides the domain model for account billing state and metered credits.
//
// This package implements the billing bounded context, which is responsible for:
//   - Holding the locally reconciled copy of an account's gateway subscription and add-ons
//   - Deriving effective seat/channel limits from a plan catalog plus active add-ons
//   - Deriving a coarse access level from subscription status and live usage
//   - Tracking prepaid credit packages and the append-only log of their consumption
//   - Recording receipts of gateway webhook deliveries for idempotent ingestion
//
// Key Aggregates:
//   - Subscription: one per account, owns its SubscriptionAddon history
//   - CreditPackage: a batch of credits sharing expiry and source
//   - WebhookEventReceipt: durable record of one gateway notification
//
// Value Objects:
//   - EffectiveLimits, AccessDecision, Allocation, Attribution
//
// Everything in this package is free of I/O. Repositories are declared here and
// implemented in the persistence layer.
package billing
