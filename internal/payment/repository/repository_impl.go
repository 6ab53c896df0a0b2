package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByProviderEventID(ctx context.Context, db *gorm.DB, providerEventID string) (*domain.BillingEventRecord, error) {
	var record domain.BillingEventRecord
	err := db.WithContext(ctx).Where("provider_event_id = ?", providerEventID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, record *domain.BillingEventRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, record *domain.BillingEventRecord) error {
	return db.WithContext(ctx).Save(record).Error
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Where("received_at < ?", cutoff).
		Delete(&domain.BillingEventRecord{})
	return result.RowsAffected, result.Error
}
