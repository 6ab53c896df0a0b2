package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

type Server struct {
	log *zap.Logger
	db  *gorm.DB

	webhookAdapter paymentdomain.WebhookAdapter
	processor      paymentdomain.Processor

	tierSvc         tierdomain.Service
	craftsmanSvc    craftsmandomain.Service
	subscriptionSvc subscriptiondomain.Service
	quotaSvc        quotadomain.Service
	invoiceSvc      invoicedomain.Service
	auditSvc        auditdomain.Service
}

type ServerParam struct {
	fx.In

	Log *zap.Logger
	DB  *gorm.DB

	WebhookAdapter paymentdomain.WebhookAdapter
	Processor      paymentdomain.Processor

	TierSvc         tierdomain.Service
	CraftsmanSvc    craftsmandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	QuotaSvc        quotadomain.Service
	InvoiceSvc      invoicedomain.Service
	AuditSvc        auditdomain.Service
}

func NewServer(p ServerParam) *Server {
	return &Server{
		log:             p.Log.Named("server"),
		db:              p.DB,
		webhookAdapter:  p.WebhookAdapter,
		processor:       p.Processor,
		tierSvc:         p.TierSvc,
		craftsmanSvc:    p.CraftsmanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		quotaSvc:        p.QuotaSvc,
		invoiceSvc:      p.InvoiceSvc,
		auditSvc:        p.AuditSvc,
	}
}

func (s *Server) Routes(cfg config.Config, registry *prometheus.Registry) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())

	engine.GET("/healthz", s.Healthz)
	engine.GET("/readyz", s.Readyz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	engine.POST("/webhooks/stripe", s.HandleStripeWebhook)

	v1 := engine.Group("/v1")
	{
		v1.GET("/tiers", s.ListTiers)

		craftsmen := v1.Group("/craftsmen/:craftsman_id")
		{
			craftsmen.GET("/subscription", s.GetSubscription)
			craftsmen.POST("/subscription/upgrade", s.UpgradeSubscription)
			craftsmen.POST("/subscription/cancel", s.CancelSubscription)
			craftsmen.POST("/subscription/refund", s.RefundSubscription)
			craftsmen.GET("/subscription/refund-eligibility", s.GetRefundEligibility)
			craftsmen.GET("/lead-eligibility", s.GetLeadEligibility)
			craftsmen.GET("/invoices", s.ListInvoices)
			craftsmen.GET("/subscription/history", s.GetSubscriptionHistory)
			craftsmen.PUT("/fiscal-profile", s.UpsertFiscalProfile)
		}

		v1.POST("/orders/:order_id/shortlist/:craftsman_id", s.ProcessShortlist)
	}

	return engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// Module wires the HTTP server into the fx lifecycle.
var Module = fx.Module("server",
	fx.Provide(NewServer),
	fx.Invoke(registerHooks),
)

type hooksParam struct {
	fx.In

	LC       fx.Lifecycle
	Log      *zap.Logger
	Cfg      config.Config
	Server   *Server
	Registry *prometheus.Registry
}

func registerHooks(p hooksParam) {
	httpServer := &http.Server{
		Addr:              p.Cfg.HTTPAddr,
		Handler:           p.Server.Routes(p.Cfg, p.Registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Log.Info("http server listening", zap.String("addr", p.Cfg.HTTPAddr))
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Log.Error("http server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})
}
