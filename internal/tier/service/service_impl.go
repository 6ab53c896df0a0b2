package service

import (
	"context"

	"github.com/GaitanS/Bricli-sub000/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &service{
		db:   p.DB,
		log:  p.Log.Named("tier.service"),
		repo: p.Repo,
	}
}

func (s *service) List(ctx context.Context) ([]domain.SubscriptionTier, error) {
	return s.repo.List(ctx, s.db)
}

func (s *service) GetByName(ctx context.Context, name domain.Name) (domain.SubscriptionTier, error) {
	tier, err := s.repo.FindByName(ctx, s.db, name)
	if err != nil {
		return domain.SubscriptionTier{}, err
	}
	if tier == nil {
		return domain.SubscriptionTier{}, domain.ErrTierNotFound
	}
	return *tier, nil
}
