package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/GaitanS/Bricli-sub000/internal/audit/domain"
	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	invoicedomain "github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
	"github.com/GaitanS/Bricli-sub000/internal/mailer"
	"github.com/GaitanS/Bricli-sub000/internal/observability"
	"github.com/GaitanS/Bricli-sub000/internal/payment/domain"
	subscriptiondomain "github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

const dedupKeyTTL = 24 * time.Hour

// Processor drives the subscription state machine from canonical billing
// events. Every event passes the idempotency gate before any side effect:
// a redis fast path, then an insert into the billing event ledger whose
// unique index is the final guard.
type Processor struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.BillingConfig
	metrics *observability.Metrics
	tracer  trace.Tracer
	rdb     *redis.Client

	repo             domain.Repository
	subscriptionRepo subscriptiondomain.Repository
	tierRepo         tierdomain.Repository
	craftsmanRepo    craftsmandomain.Repository
	craftsmanSvc     craftsmandomain.Service
	auditSvc         auditdomain.Service
	invoiceSvc       invoicedomain.Service
	mailer           mailer.Mailer
}

type ProcessorParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	Redis   *redis.Client

	Repo             domain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	TierRepo         tierdomain.Repository
	CraftsmanRepo    craftsmandomain.Repository
	CraftsmanSvc     craftsmandomain.Service
	AuditSvc         auditdomain.Service
	InvoiceSvc       invoicedomain.Service
	Mailer           mailer.Mailer
}

func NewProcessor(p ProcessorParam) domain.Processor {
	return &Processor{
		db:               p.DB,
		log:              p.Log.Named("payment.processor"),
		genID:            p.GenID,
		clock:            p.Clock,
		cfg:              p.Cfg.Billing,
		metrics:          p.Metrics,
		tracer:           p.Tracer,
		rdb:              p.Redis,
		repo:             p.Repo,
		subscriptionRepo: p.SubscriptionRepo,
		tierRepo:         p.TierRepo,
		craftsmanRepo:    p.CraftsmanRepo,
		craftsmanSvc:     p.CraftsmanSvc,
		auditSvc:         p.AuditSvc,
		invoiceSvc:       p.InvoiceSvc,
		mailer:           p.Mailer,
	}
}

// deferred actions collected inside the transaction and run after commit.
type followUp struct {
	invoiceReq    *invoicedomain.CreateRequest
	email         func(ctx context.Context) error
	operatorAlert *string
}

// ProcessEvent implements domain.Processor.
func (p *Processor) ProcessEvent(ctx context.Context, event *domain.Event) error {
	if !supportedEventType(event.Type) {
		p.log.Info("billing event type ignored",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("type", event.Type))
		p.metrics.WebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "payment.process_event",
		trace.WithAttributes(
			attribute.String("billing.event_type", event.Type),
			attribute.String("billing.provider_event_id", event.ProviderEventID),
		))
	defer span.End()

	acquired, err := p.acquireDedupKey(ctx, event.ProviderEventID)
	if err == nil && !acquired {
		p.metrics.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
		return domain.ErrEventAlreadyProcessed
	}

	existing, err := p.repo.FindByProviderEventID(ctx, p.db, event.ProviderEventID)
	if err != nil {
		return err
	}
	if existing != nil {
		p.metrics.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
		return domain.ErrEventAlreadyProcessed
	}

	craftsman, err := p.resolveCraftsman(ctx, event)
	if err != nil {
		p.releaseDedupKey(ctx, event.ProviderEventID)
		p.metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}

	var follow followUp
	now := p.clock.Now(ctx)
	err = p.db.Transaction(func(tx *gorm.DB) error {
		payload := event.RawPayload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		craftsmanID := craftsman.ID
		record := domain.BillingEventRecord{
			ID:              p.genID.Generate(),
			ProviderEventID: event.ProviderEventID,
			EventType:       event.Type,
			Status:          domain.EventStatusSuccess,
			CraftsmanID:     &craftsmanID,
			Payload:         datatypes.JSON(payload),
			ReceivedAt:      now,
			ProcessedAt:     &now,
		}
		if err := p.repo.Insert(ctx, tx, &record); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrEventAlreadyProcessed
			}
			return err
		}

		switch event.Type {
		case domain.EventTypePaymentSucceeded:
			return p.handlePaymentSucceeded(ctx, tx, event, craftsman, now, &follow)
		case domain.EventTypePaymentFailed:
			return p.handlePaymentFailed(ctx, tx, event, craftsman, now, &follow)
		case domain.EventTypeSubscriptionDeleted:
			return p.handleSubscriptionDeleted(ctx, tx, event, craftsman, now, &follow)
		case domain.EventTypeSubscriptionUpdated:
			return p.handleSubscriptionUpdated(ctx, tx, event, craftsman, now)
		case domain.EventTypeDisputeCreated:
			return p.handleDisputeCreated(ctx, tx, event, craftsman, now, &follow)
		default:
			return nil
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrEventAlreadyProcessed) {
			p.metrics.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
			return err
		}
		// The ledger row rolled back with the transaction; free the fast
		// path so the provider's redelivery can retry.
		p.releaseDedupKey(ctx, event.ProviderEventID)
		p.metrics.WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}

	p.runFollowUps(ctx, event, &follow)
	p.metrics.WebhookEvents.WithLabelValues(event.Type, "success").Inc()
	return nil
}

func (p *Processor) handlePaymentSucceeded(ctx context.Context, tx *gorm.DB, event *domain.Event, craftsman *craftsmandomain.Craftsman, now time.Time, follow *followUp) error {
	sub, tier, err := p.lockSubscription(ctx, tx, craftsman.ID)
	if err != nil {
		return err
	}

	// A refunded record only leaves that state through a brand-new paid
	// upgrade; a late renewal notice must not reactivate it.
	if sub.Status == subscriptiondomain.StatusRefunded {
		p.log.Warn("renewal event for refunded subscription",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Int64("craftsman_id", int64(craftsman.ID)))
		return nil
	}

	sub.Status = subscriptiondomain.StatusActive
	sub.GracePeriodEnd = nil
	sub.ResetPeriod(event.PeriodStart, event.PeriodEnd)
	sub.UpdatedAt = now
	if err := p.subscriptionRepo.Update(ctx, tx, sub); err != nil {
		return err
	}

	if event.StripeInvoiceID != "" && event.AmountTotal > 0 {
		follow.invoiceReq = &invoicedomain.CreateRequest{
			CraftsmanID:     craftsman.ID,
			StripeInvoiceID: event.StripeInvoiceID,
			AmountTotal:     event.AmountTotal,
			Currency:        event.Currency,
		}
	}

	return p.auditSvc.Record(ctx, tx, auditdomain.Entry{
		CraftsmanID: craftsman.ID,
		EventType:   auditdomain.EventRenewed,
		OldTier:     string(tier.Name),
		NewTier:     string(tier.Name),
		Metadata: map[string]any{
			"provider_event_id": event.ProviderEventID,
			"stripe_invoice_id": event.StripeInvoiceID,
			"amount_total":      event.AmountTotal,
			"period_end":        event.PeriodEnd,
		},
	})
}

func (p *Processor) handlePaymentFailed(ctx context.Context, tx *gorm.DB, event *domain.Event, craftsman *craftsmandomain.Craftsman, now time.Time, follow *followUp) error {
	sub, tier, err := p.lockSubscription(ctx, tx, craftsman.ID)
	if err != nil {
		return err
	}

	// The grace window starts on the first failure of the episode; later
	// failure notices never extend it.
	firstFailure := sub.GracePeriodEnd == nil
	sub.Status = subscriptiondomain.StatusPastDue
	if firstFailure {
		graceEnd := now.AddDate(0, 0, p.cfg.GracePeriodDays)
		sub.GracePeriodEnd = &graceEnd
	}
	sub.UpdatedAt = now
	if err := p.subscriptionRepo.Update(ctx, tx, sub); err != nil {
		return err
	}

	graceEnd := *sub.GracePeriodEnd
	email, name := craftsman.Email, craftsman.DisplayName
	follow.email = func(ctx context.Context) error {
		return p.mailer.SendPaymentFailed(ctx, email, name, graceEnd, !firstFailure)
	}

	return p.auditSvc.Record(ctx, tx, auditdomain.Entry{
		CraftsmanID: craftsman.ID,
		EventType:   auditdomain.EventPaymentFailed,
		OldTier:     string(tier.Name),
		NewTier:     string(tier.Name),
		Metadata: map[string]any{
			"provider_event_id": event.ProviderEventID,
			"first_failure":     firstFailure,
			"grace_period_end":  graceEnd,
		},
	})
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, tx *gorm.DB, event *domain.Event, craftsman *craftsmandomain.Craftsman, now time.Time, follow *followUp) error {
	sub, tier, err := p.lockSubscription(ctx, tx, craftsman.ID)
	if err != nil {
		return err
	}

	freeTier, err := p.tierRepo.FindByName(ctx, tx, tierdomain.NameFree)
	if err != nil {
		return err
	}
	if freeTier == nil {
		return tierdomain.ErrTierNotFound
	}

	// The refund flow cancels the provider subscription itself; when the
	// deletion notice lands afterwards the record stays refunded.
	wasRefunded := sub.Status == subscriptiondomain.StatusRefunded

	sub.TierID = freeTier.ID
	if !wasRefunded {
		sub.Status = subscriptiondomain.StatusCanceled
		sub.CurrentPeriodEnd = now
	}
	sub.StripeSubscriptionID = nil
	sub.GracePeriodEnd = nil
	sub.WithdrawalDeadline = nil
	sub.UpdatedAt = now
	if err := p.subscriptionRepo.Update(ctx, tx, sub); err != nil {
		return err
	}

	if !wasRefunded {
		email, name := craftsman.Email, craftsman.DisplayName
		follow.email = func(ctx context.Context) error {
			return p.mailer.SendCancellation(ctx, email, name, now)
		}
	}

	return p.auditSvc.Record(ctx, tx, auditdomain.Entry{
		CraftsmanID: craftsman.ID,
		EventType:   auditdomain.EventDowngradedToFree,
		OldTier:     string(tier.Name),
		NewTier:     string(tierdomain.NameFree),
		Metadata: map[string]any{
			"provider_event_id":      event.ProviderEventID,
			"stripe_subscription_id": event.StripeSubscriptionID,
		},
	})
}

func (p *Processor) handleSubscriptionUpdated(ctx context.Context, tx *gorm.DB, event *domain.Event, craftsman *craftsmandomain.Craftsman, now time.Time) error {
	sub, tier, err := p.lockSubscription(ctx, tx, craftsman.ID)
	if err != nil {
		return err
	}

	if sub.Status == subscriptiondomain.StatusRefunded {
		p.log.Warn("status sync for refunded subscription",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Int64("craftsman_id", int64(craftsman.ID)))
		return nil
	}

	oldStatus := sub.Status
	if !event.PeriodStart.IsZero() && !event.PeriodEnd.IsZero() {
		sub.CurrentPeriodStart = event.PeriodStart
		sub.CurrentPeriodEnd = event.PeriodEnd
	}
	sub.Status = mapExternalStatus(event.ExternalStatus)
	sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
	sub.UpdatedAt = now
	if err := p.subscriptionRepo.Update(ctx, tx, sub); err != nil {
		return err
	}

	return p.auditSvc.Record(ctx, tx, auditdomain.Entry{
		CraftsmanID: craftsman.ID,
		EventType:   auditdomain.EventStatusSynced,
		OldTier:     string(tier.Name),
		NewTier:     string(tier.Name),
		Metadata: map[string]any{
			"provider_event_id": event.ProviderEventID,
			"external_status":   event.ExternalStatus,
			"old_status":        string(oldStatus),
			"new_status":        string(sub.Status),
		},
	})
}

func (p *Processor) handleDisputeCreated(ctx context.Context, tx *gorm.DB, event *domain.Event, craftsman *craftsmandomain.Craftsman, now time.Time, follow *followUp) error {
	if !craftsman.Suspended() {
		craftsman.SuspendedAt = &now
		craftsman.UpdatedAt = now
		if err := p.craftsmanRepo.Update(ctx, tx, craftsman); err != nil {
			return err
		}
	}

	alert := fmt.Sprintf(
		"Chargeback deschis pentru meșterul %d (%s).\nCharge: %s\nSumă: %d %s\nMotiv: %s\nContul a fost suspendat; este necesară intervenție manuală.",
		int64(craftsman.ID), craftsman.Email,
		event.StripeChargeID, event.AmountTotal, event.Currency, event.DisputeReason)
	follow.operatorAlert = &alert

	var oldTier string
	if _, tier, err := p.lockSubscription(ctx, tx, craftsman.ID); err == nil {
		oldTier = string(tier.Name)
	}

	return p.auditSvc.Record(ctx, tx, auditdomain.Entry{
		CraftsmanID: craftsman.ID,
		EventType:   auditdomain.EventDisputeOpened,
		OldTier:     oldTier,
		NewTier:     oldTier,
		Metadata: map[string]any{
			"provider_event_id": event.ProviderEventID,
			"stripe_charge_id":  event.StripeChargeID,
			"dispute_reason":    event.DisputeReason,
			"amount":            event.AmountTotal,
		},
	})
}

func (p *Processor) runFollowUps(ctx context.Context, event *domain.Event, follow *followUp) {
	if follow.invoiceReq != nil {
		// Invoice failures are queued for retry inside the service and
		// never surface to the provider.
		if err := p.invoiceSvc.Create(ctx, *follow.invoiceReq); err != nil {
			p.log.Error("invoice create after payment",
				zap.String("stripe_invoice_id", follow.invoiceReq.StripeInvoiceID),
				zap.Error(err))
		}
	}
	if follow.email != nil {
		if err := follow.email(ctx); err != nil {
			p.log.Warn("event email", zap.String("event_type", event.Type), zap.Error(err))
		}
	}
	if follow.operatorAlert != nil {
		if err := p.mailer.SendOperatorAlert(ctx, "Chargeback deschis", *follow.operatorAlert); err != nil {
			p.log.Error("operator alert", zap.Error(err))
		}
	}
}

func supportedEventType(eventType string) bool {
	switch eventType {
	case domain.EventTypePaymentSucceeded,
		domain.EventTypePaymentFailed,
		domain.EventTypeSubscriptionDeleted,
		domain.EventTypeSubscriptionUpdated,
		domain.EventTypeDisputeCreated:
		return true
	}
	return false
}

func (p *Processor) resolveCraftsman(ctx context.Context, event *domain.Event) (*craftsmandomain.Craftsman, error) {
	if event.StripeCustomerID == "" {
		return nil, domain.ErrUnknownCustomer
	}
	craftsman, err := p.craftsmanRepo.FindByStripeCustomerID(ctx, p.db, event.StripeCustomerID)
	if err != nil {
		return nil, err
	}
	if craftsman == nil {
		return nil, domain.ErrUnknownCustomer
	}
	return craftsman, nil
}

func (p *Processor) lockSubscription(ctx context.Context, tx *gorm.DB, craftsmanID snowflake.ID) (*subscriptiondomain.CraftsmanSubscription, *tierdomain.SubscriptionTier, error) {
	sub, err := p.subscriptionRepo.FindByCraftsmanIDForUpdate(ctx, tx, craftsmanID)
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	tier, err := p.tierRepo.FindByID(ctx, tx, sub.TierID)
	if err != nil {
		return nil, nil, err
	}
	if tier == nil {
		return nil, nil, tierdomain.ErrTierNotFound
	}
	return sub, tier, nil
}

// acquireDedupKey is the redis fast path. It fails open: with no redis
// configured or redis down, the DB unique index still guarantees
// at-most-once effect.
func (p *Processor) acquireDedupKey(ctx context.Context, providerEventID string) (bool, error) {
	if p.rdb == nil {
		return true, nil
	}
	ok, err := p.rdb.SetNX(ctx, dedupKey(providerEventID), 1, dedupKeyTTL).Result()
	if err != nil {
		p.log.Warn("webhook dedup fast path unavailable", zap.Error(err))
		return true, err
	}
	return ok, nil
}

func (p *Processor) releaseDedupKey(ctx context.Context, providerEventID string) {
	if p.rdb == nil {
		return
	}
	if err := p.rdb.Del(ctx, dedupKey(providerEventID)).Err(); err != nil {
		p.log.Warn("webhook dedup key release", zap.Error(err))
	}
}

func dedupKey(providerEventID string) string {
	return "bricli:webhook:" + providerEventID
}

func mapExternalStatus(external string) subscriptiondomain.Status {
	switch external {
	case "past_due", "unpaid":
		return subscriptiondomain.StatusPastDue
	case "canceled":
		return subscriptiondomain.StatusCanceled
	default:
		// Unrecognized provider statuses default to active instead of
		// failing the event.
		return subscriptiondomain.StatusActive
	}
}
