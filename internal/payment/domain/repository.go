package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByProviderEventID(ctx context.Context, db *gorm.DB, providerEventID string) (*BillingEventRecord, error)
	// Insert relies on the unique index over provider_event_id; a
	// duplicate insert surfaces gorm.ErrDuplicatedKey.
	Insert(ctx context.Context, db *gorm.DB, record *BillingEventRecord) error
	Update(ctx context.Context, db *gorm.DB, record *BillingEventRecord) error
	DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
