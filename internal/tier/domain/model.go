package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Name string

const (
	NameFree Name = "free"
	NamePlus Name = "plus"
	NamePro  Name = "pro"
)

var (
	ErrTierNotFound = errors.New("tier_not_found")
	ErrInvalidTier  = errors.New("invalid_tier")
)

// SubscriptionTier is reference data: exactly one row per tier name,
// seeded at deployment and rarely mutated.
type SubscriptionTier struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	Name               Name         `json:"name" gorm:"type:varchar(16);not null;uniqueIndex"`
	PriceAmount        int64        `json:"price_amount" gorm:"not null"` // minor units (bani)
	Currency           string       `json:"currency" gorm:"type:varchar(3);not null"`
	MonthlyLeadLimit   *int         `json:"monthly_lead_limit"` // nil = unlimited
	MaxPortfolioImages int          `json:"max_portfolio_images" gorm:"not null"`
	ProfileBadge       bool         `json:"profile_badge" gorm:"not null;default:false"`
	PriorityInSearch   bool         `json:"priority_in_search" gorm:"not null;default:false"`
	ShowInFeatured     bool         `json:"show_in_featured" gorm:"not null;default:false"`
	CanAttachPDF       bool         `json:"can_attach_pdf" gorm:"not null;default:false"`
	AnalyticsAccess    bool         `json:"analytics_access" gorm:"not null;default:false"`
	StripePriceID      string       `json:"stripe_price_id" gorm:"type:varchar(255)"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (SubscriptionTier) TableName() string { return "subscription_tiers" }

// Paid reports whether the tier requires an external billing subscription.
func (t SubscriptionTier) Paid() bool { return t.PriceAmount > 0 }

func ParseName(value string) (Name, error) {
	switch Name(value) {
	case NameFree, NamePlus, NamePro:
		return Name(value), nil
	default:
		return "", ErrInvalidTier
	}
}

type Repository interface {
	FindByName(ctx context.Context, db *gorm.DB, name Name) (*SubscriptionTier, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SubscriptionTier, error)
	List(ctx context.Context, db *gorm.DB) ([]SubscriptionTier, error)
	Upsert(ctx context.Context, db *gorm.DB, tier *SubscriptionTier) error
}

type Service interface {
	List(ctx context.Context) ([]SubscriptionTier, error)
	GetByName(ctx context.Context, name Name) (SubscriptionTier, error)
}
