package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByCraftsmanID(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) (*domain.CraftsmanSubscription, error) {
	return r.findOne(ctx, db, "craftsman_id = ?", craftsmanID)
}

func (r *repository) FindByCraftsmanIDForUpdate(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) (*domain.CraftsmanSubscription, error) {
	query := db.WithContext(ctx)
	// sqlite locks the whole database per write transaction; a row lock
	// clause is unsupported and unnecessary there.
	if db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}

	var sub domain.CraftsmanSubscription
	err := query.Where("craftsman_id = ?", craftsmanID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByStripeSubscriptionID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*domain.CraftsmanSubscription, error) {
	return r.findOne(ctx, db, "stripe_subscription_id = ?", stripeSubscriptionID)
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, sub *domain.CraftsmanSubscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, sub *domain.CraftsmanSubscription) error {
	return db.WithContext(ctx).Save(sub).Error
}

func (r *repository) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*domain.CraftsmanSubscription, error) {
	var sub domain.CraftsmanSubscription
	err := db.WithContext(ctx).Where(query, arg).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
