package tier

import (
	"github.com/GaitanS/Bricli-sub000/internal/tier/repository"
	"github.com/GaitanS/Bricli-sub000/internal/tier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tier.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
