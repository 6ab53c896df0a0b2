package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/audit/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, row *domain.SubscriptionAuditLog) error {
	return db.WithContext(ctx).Create(row).Error
}

func (r *repository) ListByCraftsmanID(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID, limit int) ([]domain.SubscriptionAuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []domain.SubscriptionAuditLog
	err := db.WithContext(ctx).
		Where("craftsman_id = ?", craftsmanID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
