package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Denial reasons, surfaced to the client UI as-is.
const (
	ReasonRefunded      = "refunded, must upgrade"
	ReasonExpired       = "expired"
	ReasonPaymentFailed = "payment failed, update method"
	ReasonLimitReached  = "limit reached"
	ReasonSuspended     = "account suspended"
)

var ErrShortlistExists = errors.New("shortlist_exists")

// InsufficientQuotaError is the typed denial from ProcessShortlist.
type InsufficientQuotaError struct {
	Reason string
}

func (e *InsufficientQuotaError) Error() string {
	return fmt.Sprintf("insufficient_quota: %s", e.Reason)
}

// Decision is the outcome of a lead-eligibility check. Reason is empty when
// Allowed is true.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision             { return Decision{Allowed: true} }
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Shortlist records that a craftsman was put in front of a client order.
// The (order, craftsman) pair is unique so redelivery never double-counts.
type Shortlist struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID     snowflake.ID `json:"order_id" gorm:"not null;uniqueIndex:idx_shortlists_order_craftsman"`
	CraftsmanID snowflake.ID `json:"craftsman_id" gorm:"not null;uniqueIndex:idx_shortlists_order_craftsman;index"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (Shortlist) TableName() string { return "shortlists" }

type Repository interface {
	FindByOrderAndCraftsman(ctx context.Context, db *gorm.DB, orderID, craftsmanID snowflake.ID) (*Shortlist, error)
	Insert(ctx context.Context, db *gorm.DB, row *Shortlist) error
}

type Service interface {
	// CanReceiveLead is the read-only eligibility check; it takes no lock
	// and may be slightly stale under concurrency.
	CanReceiveLead(ctx context.Context, craftsmanID snowflake.ID) (Decision, error)
	// ProcessShortlist re-checks eligibility under the subscription row
	// lock, records the shortlist idempotently and increments usage once
	// per new (order, craftsman) pair.
	ProcessShortlist(ctx context.Context, orderID, craftsmanID snowflake.ID) (Shortlist, error)
}
