package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Provider paymentdomain.ProviderClient
	Node     *snowflake.Node
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	provider paymentdomain.ProviderClient
	node     *snowflake.Node
}

func NewService(p ServiceParam) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("craftsman.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		provider: p.Provider,
		node:     p.Node,
	}
}

func (s *service) GetByID(ctx context.Context, id snowflake.ID) (domain.Craftsman, error) {
	craftsman, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Craftsman{}, err
	}
	if craftsman == nil {
		return domain.Craftsman{}, domain.ErrCraftsmanNotFound
	}
	return *craftsman, nil
}

func (s *service) RequireFiscalProfile(ctx context.Context, craftsmanID snowflake.ID) (domain.FiscalProfile, error) {
	profile, err := s.repo.FindFiscalProfile(ctx, s.db, craftsmanID)
	if err != nil {
		return domain.FiscalProfile{}, err
	}
	if profile == nil {
		return domain.FiscalProfile{}, &domain.MissingFiscalDataError{
			Fields: []string{"personhood", "address_line", "city", "county"},
		}
	}
	if err := domain.ValidateFiscalProfile(profile); err != nil {
		return domain.FiscalProfile{}, err
	}
	return *profile, nil
}

func (s *service) UpsertFiscalProfile(ctx context.Context, profile domain.FiscalProfile) (domain.FiscalProfile, error) {
	if err := domain.ValidateFiscalProfile(&profile); err != nil {
		return domain.FiscalProfile{}, err
	}

	now := s.clock.Now(ctx)
	existing, err := s.repo.FindFiscalProfile(ctx, s.db, profile.CraftsmanID)
	if err != nil {
		return domain.FiscalProfile{}, err
	}
	if existing == nil {
		profile.ID = s.node.Generate()
		profile.CreatedAt = now
	} else {
		profile.ID = existing.ID
		profile.CreatedAt = existing.CreatedAt
	}
	profile.UpdatedAt = now
	if profile.Country == "" {
		profile.Country = "RO"
	}

	if err := s.repo.SaveFiscalProfile(ctx, s.db, &profile); err != nil {
		return domain.FiscalProfile{}, err
	}
	return profile, nil
}

func (s *service) Suspend(ctx context.Context, craftsmanID snowflake.ID, reason string) error {
	craftsman, err := s.repo.FindByID(ctx, s.db, craftsmanID)
	if err != nil {
		return err
	}
	if craftsman == nil {
		return domain.ErrCraftsmanNotFound
	}
	if craftsman.Suspended() {
		return nil
	}

	now := s.clock.Now(ctx)
	craftsman.SuspendedAt = &now
	if err := s.repo.Update(ctx, s.db, craftsman); err != nil {
		return err
	}

	s.log.Warn("craftsman suspended",
		zap.Int64("craftsman_id", int64(craftsmanID)),
		zap.String("reason", reason))
	return nil
}

func (s *service) SyncBillingEmail(ctx context.Context, craftsmanID snowflake.ID) error {
	craftsman, err := s.repo.FindByID(ctx, s.db, craftsmanID)
	if err != nil {
		return err
	}
	if craftsman == nil {
		return domain.ErrCraftsmanNotFound
	}
	if craftsman.StripeCustomerID == nil {
		return nil
	}
	return s.provider.UpdateCustomerEmail(ctx, *craftsman.StripeCustomerID, craftsman.Email)
}
