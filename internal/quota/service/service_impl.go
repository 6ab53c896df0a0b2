package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/clock"
	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	"github.com/GaitanS/Bricli-sub000/internal/mailer"
	"github.com/GaitanS/Bricli-sub000/internal/observability"
	"github.com/GaitanS/Bricli-sub000/internal/quota/domain"
	subscriptiondomain "github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	metrics *observability.Metrics

	repo             domain.Repository
	subscriptionSvc  subscriptiondomain.Service
	subscriptionRepo subscriptiondomain.Repository
	tierRepo         tierdomain.Repository
	craftsmanRepo    craftsmandomain.Repository
	mailer           mailer.Mailer
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *observability.Metrics

	Repo             domain.Repository
	SubscriptionSvc  subscriptiondomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	TierRepo         tierdomain.Repository
	CraftsmanRepo    craftsmandomain.Repository
	Mailer           mailer.Mailer
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("quota.service"),
		genID:            p.GenID,
		clock:            p.Clock,
		metrics:          p.Metrics,
		repo:             p.Repo,
		subscriptionSvc:  p.SubscriptionSvc,
		subscriptionRepo: p.SubscriptionRepo,
		tierRepo:         p.TierRepo,
		craftsmanRepo:    p.CraftsmanRepo,
		mailer:           p.Mailer,
	}
}

// CanReceiveLead implements domain.Service.
func (s *Service) CanReceiveLead(ctx context.Context, craftsmanID snowflake.ID) (domain.Decision, error) {
	craftsman, err := s.craftsmanRepo.FindByID(ctx, s.db, craftsmanID)
	if err != nil {
		return domain.Decision{}, err
	}
	if craftsman == nil {
		return domain.Decision{}, craftsmandomain.ErrCraftsmanNotFound
	}

	view, err := s.subscriptionSvc.Get(ctx, craftsmanID)
	if err != nil {
		return domain.Decision{}, err
	}

	decision := s.decide(ctx, craftsman, &view.Subscription, &view.Tier)
	if !decision.Allowed {
		s.metrics.QuotaDenials.WithLabelValues(decision.Reason).Inc()
	}
	return decision, nil
}

// ProcessShortlist implements domain.Service. The whole check-insert-
// increment sequence runs under the subscription row lock so two orders
// shortlisting the same craftsman concurrently cannot overshoot the limit.
func (s *Service) ProcessShortlist(ctx context.Context, orderID, craftsmanID snowflake.ID) (domain.Shortlist, error) {
	craftsman, err := s.craftsmanRepo.FindByID(ctx, s.db, craftsmanID)
	if err != nil {
		return domain.Shortlist{}, err
	}
	if craftsman == nil {
		return domain.Shortlist{}, craftsmandomain.ErrCraftsmanNotFound
	}

	// Ensures the implicit free-tier row exists before we try to lock it.
	if _, err := s.subscriptionSvc.Get(ctx, craftsmanID); err != nil {
		return domain.Shortlist{}, err
	}

	var (
		result        domain.Shortlist
		nearLimitMail bool
		limitMail     bool
		tier          *tierdomain.SubscriptionTier
		periodEnd     time.Time
		usedAfter     int
	)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionRepo.FindByCraftsmanIDForUpdate(ctx, tx, craftsmanID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		tier, err = s.tierRepo.FindByID(ctx, tx, sub.TierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return tierdomain.ErrTierNotFound
		}

		now := s.clock.Now(ctx)
		if sub.Status == subscriptiondomain.StatusActive && sub.PeriodElapsed(now) {
			if tier.Paid() {
				// The renewal webhook is late; advance the anniversary
				// period so the usage counter resets together with the
				// period it belongs to. The webhook's bounds overwrite
				// these when it lands.
				start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
				for !end.After(now) {
					start, end = end, end.AddDate(0, 1, 0)
				}
				sub.ResetPeriod(start, end)
			} else {
				// Free-tier periods are calendar months with no webhook
				// to roll them.
				start := monthStart(now)
				sub.ResetPeriod(start, start.AddDate(0, 1, 0))
			}
		}

		decision := s.decide(ctx, craftsman, sub, tier)
		if !decision.Allowed {
			s.metrics.QuotaDenials.WithLabelValues(decision.Reason).Inc()
			return &domain.InsufficientQuotaError{Reason: decision.Reason}
		}

		existing, err := s.repo.FindByOrderAndCraftsman(ctx, tx, orderID, craftsmanID)
		if err != nil {
			return err
		}
		if existing != nil {
			// Redelivered shortlist: no increment, no notifications.
			result = *existing
			return s.subscriptionRepo.Update(ctx, tx, sub)
		}

		row := domain.Shortlist{
			ID:          s.genID.Generate(),
			OrderID:     orderID,
			CraftsmanID: craftsmanID,
			CreatedAt:   now,
		}
		if err := s.repo.Insert(ctx, tx, &row); err != nil {
			return err
		}
		result = row

		sub.LeadsUsedThisMonth++
		usedAfter = sub.LeadsUsedThisMonth
		periodEnd = sub.CurrentPeriodEnd

		if tier.MonthlyLeadLimit != nil {
			limit := *tier.MonthlyLeadLimit
			if usedAfter == limit-1 && sub.NearLimitNotifiedAt == nil {
				sub.NearLimitNotifiedAt = &now
				nearLimitMail = true
			}
			if usedAfter == limit && sub.LimitNotifiedAt == nil {
				sub.LimitNotifiedAt = &now
				limitMail = true
			}
		}

		sub.UpdatedAt = now
		return s.subscriptionRepo.Update(ctx, tx, sub)
	})
	if err != nil {
		return domain.Shortlist{}, err
	}

	if nearLimitMail && tier.MonthlyLeadLimit != nil {
		if err := s.mailer.SendNearLimit(ctx, craftsman.Email, craftsman.DisplayName,
			usedAfter, *tier.MonthlyLeadLimit); err != nil {
			s.log.Warn("near-limit email", zap.Error(err))
		}
	}
	if limitMail {
		if err := s.mailer.SendLimitReached(ctx, craftsman.Email, craftsman.DisplayName, periodEnd); err != nil {
			s.log.Warn("limit-reached email", zap.Error(err))
		}
	}

	return result, nil
}

// decide applies the eligibility rules in order; the first match wins.
func (s *Service) decide(ctx context.Context, craftsman *craftsmandomain.Craftsman, sub *subscriptiondomain.CraftsmanSubscription, tier *tierdomain.SubscriptionTier) domain.Decision {
	now := s.clock.Now(ctx)

	if craftsman.Suspended() {
		return domain.Deny(domain.ReasonSuspended)
	}

	switch sub.Status {
	case subscriptiondomain.StatusRefunded:
		return domain.Deny(domain.ReasonRefunded)
	case subscriptiondomain.StatusCanceled:
		if sub.PeriodElapsed(now) {
			return domain.Deny(domain.ReasonExpired)
		}
	case subscriptiondomain.StatusPastDue:
		if sub.InGrace(now) {
			return domain.Allow()
		}
		return domain.Deny(domain.ReasonPaymentFailed)
	}

	if tier.MonthlyLeadLimit != nil {
		used := sub.LeadsUsedThisMonth
		// An elapsed active period counts as fresh until the rollover
		// lands.
		if sub.Status == subscriptiondomain.StatusActive && sub.PeriodElapsed(now) {
			used = 0
		}
		if used >= *tier.MonthlyLeadLimit {
			return domain.Deny(domain.ReasonLimitReached)
		}
	}
	return domain.Allow()
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
