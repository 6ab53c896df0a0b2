package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/GaitanS/Bricli-sub000/internal/audit/domain"
	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	"github.com/GaitanS/Bricli-sub000/internal/mailer"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
	"github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	cfg   config.BillingConfig

	repo          domain.Repository
	tierRepo      tierdomain.Repository
	craftsmanRepo craftsmandomain.Repository
	craftsmanSvc  craftsmandomain.Service
	provider      paymentdomain.ProviderClient
	auditSvc      auditdomain.Service
	mailer        mailer.Mailer
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config

	Repo          domain.Repository
	TierRepo      tierdomain.Repository
	CraftsmanRepo craftsmandomain.Repository
	CraftsmanSvc  craftsmandomain.Service
	Provider      paymentdomain.ProviderClient
	AuditSvc      auditdomain.Service
	Mailer        mailer.Mailer
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("subscription.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		cfg:           p.Cfg.Billing,
		repo:          p.Repo,
		tierRepo:      p.TierRepo,
		craftsmanRepo: p.CraftsmanRepo,
		craftsmanSvc:  p.CraftsmanSvc,
		provider:      p.Provider,
		auditSvc:      p.AuditSvc,
		mailer:        p.Mailer,
	}
}

// Get implements domain.Service. A craftsman without a subscription row gets
// the implicit free-tier record created on first read.
func (s *Service) Get(ctx context.Context, craftsmanID snowflake.ID) (domain.View, error) {
	sub, err := s.repo.FindByCraftsmanID(ctx, s.db, craftsmanID)
	if err != nil {
		return domain.View{}, err
	}
	if sub == nil {
		sub, err = s.createFreeSubscription(ctx, craftsmanID)
		if err != nil {
			return domain.View{}, err
		}
	}

	tier, err := s.tierRepo.FindByID(ctx, s.db, sub.TierID)
	if err != nil {
		return domain.View{}, err
	}
	if tier == nil {
		return domain.View{}, tierdomain.ErrTierNotFound
	}
	return domain.View{Subscription: *sub, Tier: *tier}, nil
}

// Upgrade implements domain.Service. The fiscal profile is validated before
// any provider call so an incomplete profile never leaves a half-created
// external subscription behind.
func (s *Service) Upgrade(ctx context.Context, req domain.UpgradeRequest) (domain.View, error) {
	tier, err := s.tierRepo.FindByName(ctx, s.db, req.TierName)
	if err != nil {
		return domain.View{}, err
	}
	if tier == nil {
		return domain.View{}, tierdomain.ErrTierNotFound
	}
	if !tier.Paid() {
		return domain.View{}, domain.ErrNotPaidTier
	}

	if _, err := s.craftsmanSvc.RequireFiscalProfile(ctx, req.CraftsmanID); err != nil {
		return domain.View{}, err
	}

	craftsman, err := s.craftsmanRepo.FindByID(ctx, s.db, req.CraftsmanID)
	if err != nil {
		return domain.View{}, err
	}
	if craftsman == nil {
		return domain.View{}, craftsmandomain.ErrCraftsmanNotFound
	}
	if craftsman.Suspended() {
		return domain.View{}, craftsmandomain.ErrCraftsmanSuspended
	}

	existing, err := s.repo.FindByCraftsmanID(ctx, s.db, req.CraftsmanID)
	if err != nil {
		return domain.View{}, err
	}
	if existing != nil && existing.Status == domain.StatusActive && existing.TierID == tier.ID {
		return domain.View{}, domain.ErrAlreadyOnTier
	}

	customerID, err := s.ensureCustomer(ctx, craftsman)
	if err != nil {
		return domain.View{}, err
	}

	if req.PaymentMethodID != "" {
		if err := s.provider.AttachPaymentMethod(ctx, customerID, req.PaymentMethodID); err != nil {
			return domain.View{}, err
		}
	}

	// Replace any running provider subscription before creating the new
	// one; unused time on the old tier comes back as a prorated credit.
	if existing != nil && existing.StripeSubscriptionID != nil {
		if err := s.provider.CancelSubscription(ctx, *existing.StripeSubscriptionID, false); err != nil {
			s.log.Warn("cancel previous provider subscription",
				zap.String("stripe_subscription_id", *existing.StripeSubscriptionID),
				zap.Error(err))
		}
	}

	providerSub, err := s.provider.CreateSubscription(ctx, customerID, tier.StripePriceID, req.CraftsmanID.String())
	if err != nil {
		return domain.View{}, err
	}

	now := s.clock.Now(ctx)
	var saved domain.CraftsmanSubscription
	err = s.db.Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByCraftsmanIDForUpdate(ctx, tx, req.CraftsmanID)
		if err != nil {
			return err
		}

		oldTier := string(tierdomain.NameFree)
		isNew := sub == nil
		if isNew {
			sub = &domain.CraftsmanSubscription{
				ID:          s.genID.Generate(),
				CraftsmanID: req.CraftsmanID,
				CreatedAt:   now,
			}
		} else {
			if prev, err := s.tierRepo.FindByID(ctx, tx, sub.TierID); err == nil && prev != nil {
				oldTier = string(prev.Name)
			}
		}

		sub.TierID = tier.ID
		sub.Status = domain.StatusActive
		sub.ResetPeriod(providerSub.CurrentPeriodStart, providerSub.CurrentPeriodEnd)
		sub.GracePeriodEnd = nil
		sub.CanceledAt = nil
		sub.CancelAtPeriodEnd = false
		sub.StripeSubscriptionID = &providerSub.ID
		sub.WithdrawalRightWaived = req.WaiveWithdrawal
		if req.WaiveWithdrawal {
			sub.WithdrawalDeadline = nil
		} else {
			deadline := now.AddDate(0, 0, s.cfg.WithdrawalDays)
			sub.WithdrawalDeadline = &deadline
		}
		sub.UpdatedAt = now

		if isNew {
			if err := s.repo.Insert(ctx, tx, sub); err != nil {
				return err
			}
		} else if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		saved = *sub
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			CraftsmanID: req.CraftsmanID,
			EventType:   auditdomain.EventUpgraded,
			OldTier:     oldTier,
			NewTier:     string(tier.Name),
			Metadata: map[string]any{
				"stripe_subscription_id": providerSub.ID,
				"withdrawal_waived":      req.WaiveWithdrawal,
			},
		})
	})
	if err != nil {
		return domain.View{}, err
	}

	if err := s.mailer.SendUpgradeConfirmation(ctx, craftsman.Email, craftsman.DisplayName,
		string(tier.Name), tier.PriceAmount, tier.Currency); err != nil {
		s.log.Warn("upgrade confirmation email", zap.Error(err))
	}

	return domain.View{Subscription: saved, Tier: *tier}, nil
}

// Cancel implements domain.Service.
func (s *Service) Cancel(ctx context.Context, craftsmanID snowflake.ID, immediate bool) error {
	sub, err := s.repo.FindByCraftsmanID(ctx, s.db, craftsmanID)
	if err != nil {
		return err
	}
	if sub == nil || sub.StripeSubscriptionID == nil {
		return domain.ErrNoPaidSubscription
	}
	if sub.Status == domain.StatusCanceled || sub.Status == domain.StatusRefunded {
		return domain.ErrInvalidStatus
	}

	if err := s.provider.CancelSubscription(ctx, *sub.StripeSubscriptionID, !immediate); err != nil {
		return err
	}

	now := s.clock.Now(ctx)
	craftsman, err := s.craftsmanRepo.FindByID(ctx, s.db, craftsmanID)
	if err != nil {
		return err
	}

	var tierName string
	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindByCraftsmanIDForUpdate(ctx, tx, craftsmanID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrSubscriptionNotFound
		}

		if tier, err := s.tierRepo.FindByID(ctx, tx, locked.TierID); err == nil && tier != nil {
			tierName = string(tier.Name)
		}

		locked.Status = domain.StatusCanceled
		locked.CanceledAt = &now
		locked.CancelAtPeriodEnd = !immediate
		newTier := tierName
		if immediate {
			// Benefits stop now, not at the period boundary, and the
			// record drops to the free tier without waiting for the
			// provider's deletion webhook.
			free, err := s.freeTier(ctx, tx)
			if err != nil {
				return err
			}
			locked.TierID = free.ID
			locked.StripeSubscriptionID = nil
			locked.CurrentPeriodEnd = now
			newTier = string(free.Name)
		}
		locked.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}

		*sub = *locked
		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			CraftsmanID: craftsmanID,
			EventType:   auditdomain.EventCanceled,
			OldTier:     tierName,
			NewTier:     newTier,
			Metadata:    map[string]any{"immediate": immediate},
		})
	})
	if err != nil {
		return err
	}

	if craftsman != nil {
		effective := sub.CurrentPeriodEnd
		if err := s.mailer.SendCancellation(ctx, craftsman.Email, craftsman.DisplayName, effective); err != nil {
			s.log.Warn("cancellation email", zap.Error(err))
		}
	}
	return nil
}

// Refund implements domain.Service. The window check runs before any
// provider call; an expired window costs nothing externally.
func (s *Service) Refund(ctx context.Context, craftsmanID snowflake.ID) error {
	sub, err := s.repo.FindByCraftsmanID(ctx, s.db, craftsmanID)
	if err != nil {
		return err
	}
	if sub == nil || sub.StripeSubscriptionID == nil {
		return domain.ErrNoPaidSubscription
	}
	if sub.Status == domain.StatusRefunded {
		return domain.ErrInvalidStatus
	}

	now := s.clock.Now(ctx)
	if !sub.WithdrawalOpen(now) {
		return domain.ErrRefundNotAllowed
	}

	craftsman, err := s.craftsmanRepo.FindByID(ctx, s.db, craftsmanID)
	if err != nil {
		return err
	}
	if craftsman == nil || craftsman.StripeCustomerID == nil {
		return domain.ErrNoPaidSubscription
	}

	charge, err := s.provider.LatestCharge(ctx, *craftsman.StripeCustomerID)
	if err != nil {
		return err
	}
	if _, err := s.provider.CreateRefund(ctx, charge.ID); err != nil {
		return err
	}
	if err := s.provider.CancelSubscription(ctx, *sub.StripeSubscriptionID, false); err != nil {
		s.log.Warn("cancel provider subscription after refund",
			zap.String("stripe_subscription_id", *sub.StripeSubscriptionID),
			zap.Error(err))
	}

	var tierName string
	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindByCraftsmanIDForUpdate(ctx, tx, craftsmanID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrSubscriptionNotFound
		}

		if tier, err := s.tierRepo.FindByID(ctx, tx, locked.TierID); err == nil && tier != nil {
			tierName = string(tier.Name)
		}

		free, err := s.freeTier(ctx, tx)
		if err != nil {
			return err
		}

		locked.TierID = free.ID
		locked.Status = domain.StatusRefunded
		locked.StripeSubscriptionID = nil
		locked.WithdrawalDeadline = nil
		locked.CanceledAt = &now
		locked.CurrentPeriodEnd = now
		locked.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, locked); err != nil {
			return err
		}

		return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
			CraftsmanID: craftsmanID,
			EventType:   auditdomain.EventRefunded,
			OldTier:     tierName,
			NewTier:     string(tierdomain.NameFree),
			Metadata: map[string]any{
				"charge_id": charge.ID,
				"amount":    charge.Amount,
			},
		})
	})
	if err != nil {
		return err
	}

	if err := s.mailer.SendRefundConfirmation(ctx, craftsman.Email, craftsman.DisplayName,
		charge.Amount, charge.Currency); err != nil {
		s.log.Warn("refund confirmation email", zap.Error(err))
	}
	return nil
}

// CanRequestRefund implements domain.Service.
func (s *Service) CanRequestRefund(ctx context.Context, craftsmanID snowflake.ID) (bool, error) {
	sub, err := s.repo.FindByCraftsmanID(ctx, s.db, craftsmanID)
	if err != nil {
		return false, err
	}
	if sub == nil || sub.StripeSubscriptionID == nil || sub.Status == domain.StatusRefunded {
		return false, nil
	}
	return sub.WithdrawalOpen(s.clock.Now(ctx)), nil
}

func (s *Service) ensureCustomer(ctx context.Context, craftsman *craftsmandomain.Craftsman) (string, error) {
	if craftsman.StripeCustomerID != nil && *craftsman.StripeCustomerID != "" {
		return *craftsman.StripeCustomerID, nil
	}

	customerID, err := s.provider.CreateCustomer(ctx, craftsman.Email, craftsman.DisplayName, craftsman.ID.String())
	if err != nil {
		return "", err
	}

	craftsman.StripeCustomerID = &customerID
	craftsman.UpdatedAt = s.clock.Now(ctx)
	if err := s.craftsmanRepo.Update(ctx, s.db, craftsman); err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *Service) freeTier(ctx context.Context, db *gorm.DB) (*tierdomain.SubscriptionTier, error) {
	free, err := s.tierRepo.FindByName(ctx, db, tierdomain.NameFree)
	if err != nil {
		return nil, err
	}
	if free == nil {
		return nil, tierdomain.ErrTierNotFound
	}
	return free, nil
}

func (s *Service) createFreeSubscription(ctx context.Context, craftsmanID snowflake.ID) (*domain.CraftsmanSubscription, error) {
	free, err := s.freeTier(ctx, s.db)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	sub := &domain.CraftsmanSubscription{
		ID:                 s.genID.Generate(),
		CraftsmanID:        craftsmanID,
		TierID:             free.ID,
		Status:             domain.StatusActive,
		CurrentPeriodStart: monthStart(now),
		CurrentPeriodEnd:   monthStart(now).AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// monthStart anchors free-tier quota periods on calendar months.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
