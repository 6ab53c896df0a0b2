package craftsman

import (
	"github.com/GaitanS/Bricli-sub000/internal/craftsman/repository"
	"github.com/GaitanS/Bricli-sub000/internal/craftsman/service"
	"go.uber.org/fx"
)

var Module = fx.Module("craftsman.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
