package payment

import (
	"go.uber.org/fx"

	"github.com/GaitanS/Bricli-sub000/internal/payment/domain"
	"github.com/GaitanS/Bricli-sub000/internal/payment/repository"
	"github.com/GaitanS/Bricli-sub000/internal/payment/service"
	"github.com/GaitanS/Bricli-sub000/internal/payment/stripe"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.NewClient),
	fx.Provide(func(c *stripe.Client) domain.ProviderClient { return c }),
	fx.Provide(func(c *stripe.Client) domain.WebhookAdapter { return c }),
	fx.Provide(service.NewProcessor),
)
