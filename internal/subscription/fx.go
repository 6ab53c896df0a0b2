package subscription

import (
	"github.com/GaitanS/Bricli-sub000/internal/subscription/repository"
	"github.com/GaitanS/Bricli-sub000/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
