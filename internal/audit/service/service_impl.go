package service

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/audit/domain"
	"github.com/GaitanS/Bricli-sub000/internal/clock"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Node  *snowflake.Node
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	node  *snowflake.Node
}

func NewService(p ServiceParam) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		clock: p.Clock,
		repo:  p.Repo,
		node:  p.Node,
	}
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry domain.Entry) error {
	if tx == nil {
		tx = s.db
	}

	var metadata datatypes.JSON
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = datatypes.JSON(raw)
	}

	row := domain.SubscriptionAuditLog{
		ID:          s.node.Generate(),
		CraftsmanID: entry.CraftsmanID,
		EventType:   entry.EventType,
		OldTier:     entry.OldTier,
		NewTier:     entry.NewTier,
		Metadata:    metadata,
		CreatedAt:   s.clock.Now(ctx),
	}
	if err := s.repo.Insert(ctx, tx, &row); err != nil {
		return err
	}

	s.log.Info("audit recorded",
		zap.Int64("craftsman_id", int64(entry.CraftsmanID)),
		zap.String("event_type", entry.EventType),
		zap.String("old_tier", entry.OldTier),
		zap.String("new_tier", entry.NewTier))
	return nil
}

func (s *service) History(ctx context.Context, craftsmanID snowflake.ID, limit int) ([]domain.SubscriptionAuditLog, error) {
	return s.repo.ListByCraftsmanID(ctx, s.db, craftsmanID, limit)
}
