package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit event types, one per subscription state transition.
const (
	EventUpgraded         = "subscription_upgraded"
	EventRenewed          = "subscription_renewed"
	EventPaymentFailed    = "payment_failed"
	EventCanceled         = "subscription_canceled"
	EventRefunded         = "subscription_refunded"
	EventDisputeOpened    = "dispute_opened"
	EventStatusSynced     = "external_status_synced"
	EventDowngradedToFree = "downgraded_to_free"
)

// SubscriptionAuditLog is append-only: rows are written inside the same
// transaction as the transition they describe and never updated.
type SubscriptionAuditLog struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	CraftsmanID snowflake.ID   `json:"craftsman_id" gorm:"not null;index"`
	EventType   string         `json:"event_type" gorm:"type:varchar(64);not null"`
	OldTier     string         `json:"old_tier" gorm:"type:varchar(16)"`
	NewTier     string         `json:"new_tier" gorm:"type:varchar(16)"`
	Metadata    datatypes.JSON `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;index"`
}

func (SubscriptionAuditLog) TableName() string { return "subscription_audit_logs" }

// Entry is the write-side shape; Metadata is marshalled by the service.
type Entry struct {
	CraftsmanID snowflake.ID
	EventType   string
	OldTier     string
	NewTier     string
	Metadata    map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, row *SubscriptionAuditLog) error
	ListByCraftsmanID(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID, limit int) ([]SubscriptionAuditLog, error)
}

// Service records transitions. Record takes the caller's transaction handle
// so the audit row commits or rolls back with the transition itself.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	History(ctx context.Context, craftsmanID snowflake.ID, limit int) ([]SubscriptionAuditLog, error)
}
