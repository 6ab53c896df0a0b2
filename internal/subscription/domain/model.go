package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusPastDue Status = "past_due"
	// StatusCanceled keeps benefits until CurrentPeriodEnd; the craftsman
	// behaves as free only after the period elapses.
	StatusCanceled Status = "canceled"
	// StatusRefunded cuts benefits immediately.
	StatusRefunded Status = "refunded"
)

// CraftsmanSubscription is the single billing record per craftsman. Free
// accounts have a row too, pointed at the free tier, so quota state always
// has a home.
type CraftsmanSubscription struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	CraftsmanID snowflake.ID `json:"craftsman_id" gorm:"not null;uniqueIndex"`
	TierID      snowflake.ID `json:"tier_id" gorm:"not null"`
	Status      Status       `json:"status" gorm:"type:varchar(16);not null"`

	CurrentPeriodStart time.Time `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time `json:"current_period_end" gorm:"not null"`
	LeadsUsedThisMonth int       `json:"leads_used_this_month" gorm:"not null;default:0"`

	// GracePeriodEnd is set once per past_due episode, on the first
	// payment failure; later failures in the same episode never extend it.
	GracePeriodEnd    *time.Time `json:"grace_period_end"`
	CanceledAt        *time.Time `json:"canceled_at"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end" gorm:"not null;default:false"`

	// Withdrawal right per OUG 34/2014: 14 days from purchase unless the
	// craftsman explicitly waived it to get immediate service.
	WithdrawalRightWaived bool       `json:"withdrawal_right_waived" gorm:"not null;default:false"`
	WithdrawalDeadline    *time.Time `json:"withdrawal_deadline"`

	// Per-period notification flags, cleared on every period reset.
	NearLimitNotifiedAt *time.Time `json:"near_limit_notified_at"`
	LimitNotifiedAt     *time.Time `json:"limit_notified_at"`

	StripeSubscriptionID *string   `json:"-" gorm:"type:varchar(255);index"`
	CreatedAt            time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time `json:"updated_at" gorm:"not null"`
}

func (CraftsmanSubscription) TableName() string { return "craftsman_subscriptions" }

// PeriodElapsed reports whether the paid period is behind us.
func (s *CraftsmanSubscription) PeriodElapsed(now time.Time) bool {
	return !now.Before(s.CurrentPeriodEnd)
}

// InGrace reports whether a past_due subscription still keeps benefits.
func (s *CraftsmanSubscription) InGrace(now time.Time) bool {
	return s.GracePeriodEnd != nil && now.Before(*s.GracePeriodEnd)
}

// WithdrawalOpen reports whether the refund right can still be exercised.
func (s *CraftsmanSubscription) WithdrawalOpen(now time.Time) bool {
	if s.WithdrawalRightWaived || s.WithdrawalDeadline == nil {
		return false
	}
	return now.Before(*s.WithdrawalDeadline)
}

// ResetPeriod rolls the subscription onto a new billing period: usage and
// notification flags start clean.
func (s *CraftsmanSubscription) ResetPeriod(start, end time.Time) {
	s.CurrentPeriodStart = start
	s.CurrentPeriodEnd = end
	s.LeadsUsedThisMonth = 0
	s.NearLimitNotifiedAt = nil
	s.LimitNotifiedAt = nil
}

// View pairs the subscription with its tier for read endpoints.
type View struct {
	Subscription CraftsmanSubscription      `json:"subscription"`
	Tier         tierdomain.SubscriptionTier `json:"tier"`
}

type UpgradeRequest struct {
	CraftsmanID     snowflake.ID
	TierName        tierdomain.Name
	PaymentMethodID string
	// WaiveWithdrawal records the craftsman's explicit consent to start
	// service immediately, giving up the 14-day withdrawal right.
	WaiveWithdrawal bool
}

type Repository interface {
	FindByCraftsmanID(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) (*CraftsmanSubscription, error)
	// FindByCraftsmanIDForUpdate takes a row lock; callers must run it
	// inside a transaction.
	FindByCraftsmanIDForUpdate(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) (*CraftsmanSubscription, error)
	FindByStripeSubscriptionID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*CraftsmanSubscription, error)
	Insert(ctx context.Context, db *gorm.DB, sub *CraftsmanSubscription) error
	Update(ctx context.Context, db *gorm.DB, sub *CraftsmanSubscription) error
}

type Service interface {
	// Get returns the craftsman's subscription with its tier, creating
	// the implicit free-tier record on first read.
	Get(ctx context.Context, craftsmanID snowflake.ID) (View, error)
	Upgrade(ctx context.Context, req UpgradeRequest) (View, error)
	// Cancel immediately stops renewal; with immediate=false benefits run
	// until the period end, with immediate=true the downgrade is instant.
	Cancel(ctx context.Context, craftsmanID snowflake.ID, immediate bool) error
	// Refund exercises the 14-day withdrawal right: full refund and
	// immediate downgrade. Fails fast outside the window.
	Refund(ctx context.Context, craftsmanID snowflake.ID) error
	CanRequestRefund(ctx context.Context, craftsmanID snowflake.ID) (bool, error)
}
