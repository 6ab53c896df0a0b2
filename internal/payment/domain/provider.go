package domain

import (
	"context"
	"net/http"
	"time"
)

// ProviderSubscription mirrors the external billing subscription state we
// care about after a create or fetch.
type ProviderSubscription struct {
	ID                 string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// ProviderCharge identifies a settled payment that can be refunded.
type ProviderCharge struct {
	ID       string
	Amount   int64
	Currency string
	Created  time.Time
}

// ProviderClient is the outbound payment-provider API surface. The Stripe
// implementation lives in payment/stripe; tests substitute fakes.
type ProviderClient interface {
	CreateCustomer(ctx context.Context, email, name string, craftsmanID string) (string, error)
	UpdateCustomerEmail(ctx context.Context, customerID, email string) error
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, customerID, priceID string, craftsmanID string) (ProviderSubscription, error)
	// CancelSubscription deletes immediately when atPeriodEnd is false,
	// otherwise flags cancel_at_period_end and leaves the subscription
	// running until the provider emits subscription_deleted.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error
	LatestCharge(ctx context.Context, customerID string) (ProviderCharge, error)
	CreateRefund(ctx context.Context, chargeID string) (string, error)
}

// WebhookAdapter verifies and parses inbound provider webhooks into
// canonical Events. Verify runs before any processing.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

// Processor consumes canonical events and drives the subscription state
// machine. Implemented in payment/service.
type Processor interface {
	ProcessEvent(ctx context.Context, event *Event) error
}
