package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Canonical billing event types produced by the webhook adapter. Unknown
// provider events never reach the processor; they are logged and ignored.
const (
	EventTypePaymentSucceeded    = "payment_succeeded"
	EventTypePaymentFailed       = "payment_failed"
	EventTypeSubscriptionDeleted = "subscription_deleted"
	EventTypeSubscriptionUpdated = "subscription_updated"
	EventTypeDisputeCreated      = "dispute_created"
)

const (
	EventStatusSuccess = "success"
	EventStatusFailed  = "failed"
)

// BillingEventRecord is the append-only idempotency ledger: at most one row
// per provider event id, written before any state mutation takes effect.
type BillingEventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	EventType       string         `json:"event_type" gorm:"type:varchar(64);not null"`
	Status          string         `json:"status" gorm:"type:varchar(16);not null"`
	CraftsmanID     *snowflake.ID  `json:"craftsman_id" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (BillingEventRecord) TableName() string { return "billing_event_records" }

// Event is the canonical billing event parsed from a provider webhook.
// One variant per Type constant; fields not relevant to a variant are zero.
type Event struct {
	ProviderEventID      string
	Type                 string
	StripeCustomerID     string
	StripeSubscriptionID string
	StripeInvoiceID      string
	StripeChargeID       string
	AmountTotal          int64
	Currency             string
	PeriodStart          time.Time
	PeriodEnd            time.Time
	// ExternalStatus carries the provider-side subscription status on
	// subscription_updated events.
	ExternalStatus    string
	CancelAtPeriodEnd bool
	// DisputeReason is set on dispute_created events.
	DisputeReason string
	OccurredAt    time.Time
	RawPayload    []byte
}
