package migration

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/GaitanS/Bricli-sub000/internal/audit/domain"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	invoicedomain "github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
	quotadomain "github.com/GaitanS/Bricli-sub000/internal/quota/domain"
	subscriptiondomain "github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

// models lists every persisted type, in dependency order.
func models() []any {
	return []any{
		&tierdomain.SubscriptionTier{},
		&craftsmandomain.Craftsman{},
		&craftsmandomain.FiscalProfile{},
		&subscriptiondomain.CraftsmanSubscription{},
		&auditdomain.SubscriptionAuditLog{},
		&paymentdomain.BillingEventRecord{},
		&invoicedomain.Invoice{},
		&invoicedomain.PendingInvoice{},
		&quotadomain.Shortlist{},
	}
}

// RunMigrations brings the schema up to date. An advisory lock keeps
// concurrently started instances from migrating at the same time.
func RunMigrations(db *gorm.DB, dialect string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	unlock, err := acquireAdvisoryLock(ctx, sqlDB, dialect)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			log.Warn("release migration lock", zap.Error(err))
		}
	}()

	log.Info("running schema migration", zap.String("dialect", dialect))
	return db.WithContext(ctx).AutoMigrate(models()...)
}

var Module = fx.Module("migrations",
	fx.Invoke(func(db *gorm.DB, cfg config.Config, log *zap.Logger) error {
		return RunMigrations(db, cfg.DB.Dialect, log.Named("migration"))
	}),
)
