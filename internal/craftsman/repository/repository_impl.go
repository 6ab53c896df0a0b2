package repository

import (
	"context"
	"errors"

	"github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Craftsman, error) {
	var craftsman domain.Craftsman
	err := db.WithContext(ctx).Where("id = ?", id).First(&craftsman).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &craftsman, nil
}

func (r *repository) FindByStripeCustomerID(ctx context.Context, db *gorm.DB, stripeCustomerID string) (*domain.Craftsman, error) {
	var craftsman domain.Craftsman
	err := db.WithContext(ctx).Where("stripe_customer_id = ?", stripeCustomerID).First(&craftsman).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &craftsman, nil
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, craftsman *domain.Craftsman) error {
	return db.WithContext(ctx).Create(craftsman).Error
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, craftsman *domain.Craftsman) error {
	return db.WithContext(ctx).Save(craftsman).Error
}

func (r *repository) FindFiscalProfile(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) (*domain.FiscalProfile, error) {
	var profile domain.FiscalProfile
	err := db.WithContext(ctx).Where("craftsman_id = ?", craftsmanID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repository) SaveFiscalProfile(ctx context.Context, db *gorm.DB, profile *domain.FiscalProfile) error {
	return db.WithContext(ctx).Save(profile).Error
}
