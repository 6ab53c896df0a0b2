package repository

import (
	"context"
	"errors"

	"github.com/GaitanS/Bricli-sub000/internal/tier/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByName(ctx context.Context, db *gorm.DB, name domain.Name) (*domain.SubscriptionTier, error) {
	var tier domain.SubscriptionTier
	err := db.WithContext(ctx).Where("name = ?", name).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SubscriptionTier, error) {
	var tier domain.SubscriptionTier
	err := db.WithContext(ctx).Where("id = ?", id).First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB) ([]domain.SubscriptionTier, error) {
	var tiers []domain.SubscriptionTier
	if err := db.WithContext(ctx).Order("price_amount ASC").Find(&tiers).Error; err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repository) Upsert(ctx context.Context, db *gorm.DB, tier *domain.SubscriptionTier) error {
	existing, err := r.FindByName(ctx, db, tier.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		return db.WithContext(ctx).Create(tier).Error
	}
	tier.ID = existing.ID
	tier.CreatedAt = existing.CreatedAt
	return db.WithContext(ctx).Save(tier).Error
}
