package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/audit"
	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	"github.com/GaitanS/Bricli-sub000/internal/craftsman"
	"github.com/GaitanS/Bricli-sub000/internal/invoice"
	"github.com/GaitanS/Bricli-sub000/internal/mailer"
	"github.com/GaitanS/Bricli-sub000/internal/migration"
	"github.com/GaitanS/Bricli-sub000/internal/observability"
	"github.com/GaitanS/Bricli-sub000/internal/payment"
	"github.com/GaitanS/Bricli-sub000/internal/quota"
	"github.com/GaitanS/Bricli-sub000/internal/redis"
	"github.com/GaitanS/Bricli-sub000/internal/scheduler"
	"github.com/GaitanS/Bricli-sub000/internal/seed"
	"github.com/GaitanS/Bricli-sub000/internal/server"
	"github.com/GaitanS/Bricli-sub000/internal/subscription"
	"github.com/GaitanS/Bricli-sub000/internal/tier"
	"github.com/GaitanS/Bricli-sub000/pkg/db"
	"github.com/GaitanS/Bricli-sub000/pkg/id"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "bricli",
		Short:   "Bricli subscription and billing service",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newSeedCmd(), newServeCmd(), newSchedulerCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations and seed the tier catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the tier catalog without running migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				id.Module,
				db.Module,
				fx.Invoke(runSeed),
			)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			_ = app.Stop(context.Background())
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run background jobs: invoice retries and ledger retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			runScheduler()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then the API server and scheduler together",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runMonolith()
			return nil
		},
	}
}

// featureModules is the service graph shared by every long-running mode.
func featureModules() fx.Option {
	return fx.Options(
		tier.Module,
		craftsman.Module,
		mailer.Module,
		audit.Module,
		subscription.Module,
		invoice.Module,
		quota.Module,
		payment.Module,
	)
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		id.Module,
		db.Module,
		migration.Module,
		fx.Invoke(runSeed),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runSeed(conn *gorm.DB, cfg config.Config) error {
	if err := seed.EnsureTiers(conn); err != nil {
		return err
	}
	if cfg.Env == "development" {
		return seed.EnsureDevCraftsman(conn)
	}
	return nil
}

func runServe() {
	app := fx.New(
		config.Module,
		observability.Module,
		id.Module,
		db.Module,
		clock.Module,
		redis.Module,
		featureModules(),
		server.Module,
	)
	app.Run()
}

func runScheduler() {
	app := fx.New(
		config.Module,
		observability.Module,
		id.Module,
		db.Module,
		clock.Module,
		redis.Module,
		featureModules(),
		scheduler.Module,
	)
	app.Run()
}

func runMonolith() {
	app := fx.New(
		config.Module,
		observability.Module,
		id.Module,
		db.Module,
		clock.Module,
		redis.Module,
		featureModules(),
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
