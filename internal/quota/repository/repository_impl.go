package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/quota/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByOrderAndCraftsman(ctx context.Context, db *gorm.DB, orderID, craftsmanID snowflake.ID) (*domain.Shortlist, error) {
	var row domain.Shortlist
	err := db.WithContext(ctx).
		Where("order_id = ? AND craftsman_id = ?", orderID, craftsmanID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, row *domain.Shortlist) error {
	return db.WithContext(ctx).Create(row).Error
}
