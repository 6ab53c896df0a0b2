package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	invoicedomain "github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

// Scheduler runs the periodic background passes: fiscal invoice retries
// and billing event ledger retention.
type Scheduler struct {
	log   *zap.Logger
	db    *gorm.DB
	clock clock.Clock
	cfg   config.Config

	invoiceSvc invoicedomain.Service
	eventRepo  paymentdomain.Repository
}

type SchedulerParam struct {
	fx.In

	Log   *zap.Logger
	DB    *gorm.DB
	Clock clock.Clock
	Cfg   config.Config

	InvoiceSvc invoicedomain.Service
	EventRepo  paymentdomain.Repository
}

func NewScheduler(p SchedulerParam) *Scheduler {
	return &Scheduler{
		log:        p.Log.Named("scheduler"),
		db:         p.DB,
		clock:      p.Clock,
		cfg:        p.Cfg,
		invoiceSvc: p.InvoiceSvc,
		eventRepo:  p.EventRepo,
	}
}

// RunOnce executes a single pass of every job. Job failures are logged
// and do not stop the remaining jobs.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if err := s.RetryPendingInvoicesJob(ctx); err != nil {
		s.log.Error("invoice retry pass failed", zap.Error(err))
	}
	if err := s.CleanupBillingEventsJob(ctx); err != nil {
		s.log.Error("billing event cleanup failed", zap.Error(err))
	}
}

func (s *Scheduler) RetryPendingInvoicesJob(ctx context.Context) error {
	return s.invoiceSvc.RetryPending(ctx)
}

// CleanupBillingEventsJob deletes processed billing events older than the
// retention window. The ledger only needs to cover the provider's webhook
// redelivery horizon.
func (s *Scheduler) CleanupBillingEventsJob(ctx context.Context) error {
	retentionDays := s.cfg.Scheduler.EventRetentionDays
	if retentionDays <= 0 {
		return nil
	}

	cutoff := s.clock.Now(ctx).AddDate(0, 0, -retentionDays)
	deleted, err := s.eventRepo.DeleteProcessedBefore(ctx, s.db, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.log.Info("billing events pruned",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return nil
}
