package invoice

import (
	"go.uber.org/fx"

	"github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
	"github.com/GaitanS/Bricli-sub000/internal/invoice/repository"
	"github.com/GaitanS/Bricli-sub000/internal/invoice/service"
	"github.com/GaitanS/Bricli-sub000/internal/invoice/smartbill"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(smartbill.NewClient),
	fx.Provide(func(c *smartbill.Client) domain.FiscalClient { return c }),
	fx.Provide(service.NewService),
)
