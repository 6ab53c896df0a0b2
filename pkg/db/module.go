package db

import (
	"fmt"
	"time"

	"github.com/GaitanS/Bricli-sub000/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(Open),
)

func Open(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB.Dialect {
	case "mysql":
		dialector = mysql.Open(cfg.DB.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DB.DSN)
	default:
		return nil, fmt.Errorf("unsupported db dialect %q", cfg.DB.Dialect)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := gdb.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          "bricli",
		RefreshInterval: 15,
	})); err != nil {
		log.Warn("gorm prometheus plugin", zap.Error(err))
	}
	if err := gdb.Use(otelgorm.NewPlugin(otelgorm.WithDBName("bricli"))); err != nil {
		log.Warn("gorm otel plugin", zap.Error(err))
	}

	log.Info("database connected", zap.String("dialect", cfg.DB.Dialect))
	return gdb, nil
}
