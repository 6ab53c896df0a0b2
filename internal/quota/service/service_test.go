package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/GaitanS/Bricli-sub000/internal/audit/domain"
	auditrepository "github.com/GaitanS/Bricli-sub000/internal/audit/repository"
	auditservice "github.com/GaitanS/Bricli-sub000/internal/audit/service"
	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	craftsmanrepository "github.com/GaitanS/Bricli-sub000/internal/craftsman/repository"
	craftsmanservice "github.com/GaitanS/Bricli-sub000/internal/craftsman/service"
	"github.com/GaitanS/Bricli-sub000/internal/mailer"
	"github.com/GaitanS/Bricli-sub000/internal/observability"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
	"github.com/GaitanS/Bricli-sub000/internal/quota/domain"
	"github.com/GaitanS/Bricli-sub000/internal/quota/repository"
	subscriptiondomain "github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	subscriptionrepository "github.com/GaitanS/Bricli-sub000/internal/subscription/repository"
	subscriptionservice "github.com/GaitanS/Bricli-sub000/internal/subscription/service"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
	tierrepository "github.com/GaitanS/Bricli-sub000/internal/tier/repository"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type noopProvider struct{ paymentdomain.ProviderClient }

type captureMailer struct {
	mailer.Nop

	nearLimit int
	limit     int
}

func (c *captureMailer) SendNearLimit(ctx context.Context, to, name string, used, limit int) error {
	c.nearLimit++
	return nil
}

func (c *captureMailer) SendLimitReached(ctx context.Context, to, name string, periodEnd time.Time) error {
	c.limit++
	return nil
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	node     *snowflake.Node
	mails    *captureMailer
	freeTier tierdomain.SubscriptionTier
	proTier  tierdomain.SubscriptionTier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tierdomain.SubscriptionTier{},
		&craftsmandomain.Craftsman{},
		&craftsmandomain.FiscalProfile{},
		&subscriptiondomain.CraftsmanSubscription{},
		&auditdomain.SubscriptionAuditLog{},
		&domain.Shortlist{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fixed := clock.Fixed{T: testNow}
	log := zap.NewNop()
	mails := &captureMailer{}

	limit := 5
	freeTier := tierdomain.SubscriptionTier{
		ID: node.Generate(), Name: tierdomain.NameFree, Currency: "RON",
		MonthlyLeadLimit: &limit, MaxPortfolioImages: 5,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	proTier := tierdomain.SubscriptionTier{
		ID: node.Generate(), Name: tierdomain.NamePro, PriceAmount: 9900, Currency: "RON",
		MaxPortfolioImages: 50, StripePriceID: "price_pro",
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, db.Create(&freeTier).Error)
	require.NoError(t, db.Create(&proTier).Error)

	auditSvc := auditservice.NewService(auditservice.ServiceParam{
		DB: db, Log: log, Clock: fixed, Repo: auditrepository.Provide(), Node: node,
	})
	craftsmanSvc := craftsmanservice.NewService(craftsmanservice.ServiceParam{
		DB: db, Log: log, Clock: fixed, Repo: craftsmanrepository.Provide(),
		Provider: noopProvider{}, Node: node,
	})
	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fixed,
		Cfg: config.Config{Billing: config.BillingConfig{
			Currency: "RON", TaxRate: 0.19, GracePeriodDays: 7, WithdrawalDays: 14, InvoiceMaxRetries: 10,
		}},
		Repo:          subscriptionrepository.Provide(),
		TierRepo:      tierrepository.Provide(),
		CraftsmanRepo: craftsmanrepository.Provide(),
		CraftsmanSvc:  craftsmanSvc,
		Provider:      noopProvider{},
		AuditSvc:      auditSvc,
		Mailer:        mailer.Nop{},
	})

	svc := NewService(ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fixed,
		Metrics:          observability.NewMetrics(observability.NewRegistry()),
		Repo:             repository.Provide(),
		SubscriptionSvc:  subscriptionSvc,
		SubscriptionRepo: subscriptionrepository.Provide(),
		TierRepo:         tierrepository.Provide(),
		CraftsmanRepo:    craftsmanrepository.Provide(),
		Mailer:           mails,
	}).(*Service)

	return &fixture{svc: svc, db: db, node: node, mails: mails, freeTier: freeTier, proTier: proTier}
}

func (f *fixture) seedCraftsman(t *testing.T) craftsmandomain.Craftsman {
	t.Helper()
	craftsman := craftsmandomain.Craftsman{
		ID: f.node.Generate(), Email: "ion@example.ro", PasswordHash: "x",
		DisplayName: "Ion Popescu", Slug: "ion-popescu-" + f.node.Generate().String(),
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, f.db.Create(&craftsman).Error)
	return craftsman
}

func (f *fixture) seedSubscription(t *testing.T, craftsmanID snowflake.ID, tierID snowflake.ID, mutate func(*subscriptiondomain.CraftsmanSubscription)) {
	t.Helper()
	sub := subscriptiondomain.CraftsmanSubscription{
		ID: f.node.Generate(), CraftsmanID: craftsmanID, TierID: tierID,
		Status:             subscriptiondomain.StatusActive,
		CurrentPeriodStart: testNow.AddDate(0, 0, -10),
		CurrentPeriodEnd:   testNow.AddDate(0, 0, 20),
		CreatedAt:          testNow, UpdatedAt: testNow,
	}
	if mutate != nil {
		mutate(&sub)
	}
	require.NoError(t, f.db.Create(&sub).Error)
}

func TestFreeTierAllowsUnderLimit(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestShortlistCountsAndDeniesAtLimit(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)

	for i := 0; i < 5; i++ {
		_, err := f.svc.ProcessShortlist(context.Background(), f.node.Generate(), craftsman.ID)
		require.NoError(t, err)
	}

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonLimitReached, decision.Reason)

	_, err = f.svc.ProcessShortlist(context.Background(), f.node.Generate(), craftsman.ID)
	var denial *domain.InsufficientQuotaError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, domain.ReasonLimitReached, denial.Reason)
}

func TestNotificationsFireOncePerPeriod(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)

	for i := 0; i < 5; i++ {
		_, err := f.svc.ProcessShortlist(context.Background(), f.node.Generate(), craftsman.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.mails.nearLimit, "near-limit fires once, at limit-1")
	assert.Equal(t, 1, f.mails.limit, "limit-reached fires once, at the limit")

	// Denied calls never re-fire notifications.
	_, _ = f.svc.ProcessShortlist(context.Background(), f.node.Generate(), craftsman.ID)
	assert.Equal(t, 1, f.mails.nearLimit)
	assert.Equal(t, 1, f.mails.limit)
}

func TestShortlistIdempotentPerOrder(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	orderID := f.node.Generate()

	first, err := f.svc.ProcessShortlist(context.Background(), orderID, craftsman.ID)
	require.NoError(t, err)
	second, err := f.svc.ProcessShortlist(context.Background(), orderID, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	sub, err := subscriptionrepository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.LeadsUsedThisMonth, "redelivery must not double-count")
}

func TestUnlimitedTierNeverDenies(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	f.seedSubscription(t, craftsman.ID, f.proTier.ID, nil)

	for i := 0; i < 8; i++ {
		_, err := f.svc.ProcessShortlist(context.Background(), f.node.Generate(), craftsman.ID)
		require.NoError(t, err)
	}

	sub, err := subscriptionrepository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, sub.LeadsUsedThisMonth, "unlimited tiers still count usage")
	assert.Zero(t, f.mails.nearLimit)
	assert.Zero(t, f.mails.limit)
}

func TestRefundedDenied(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	f.seedSubscription(t, craftsman.ID, f.proTier.ID, func(sub *subscriptiondomain.CraftsmanSubscription) {
		sub.Status = subscriptiondomain.StatusRefunded
	})

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonRefunded, decision.Reason)
}

func TestCanceledKeepsBenefitsUntilPeriodEnd(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	f.seedSubscription(t, craftsman.ID, f.proTier.ID, func(sub *subscriptiondomain.CraftsmanSubscription) {
		sub.Status = subscriptiondomain.StatusCanceled
		canceled := testNow.AddDate(0, 0, -2)
		sub.CanceledAt = &canceled
	})

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCanceledElapsedDenied(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	f.seedSubscription(t, craftsman.ID, f.proTier.ID, func(sub *subscriptiondomain.CraftsmanSubscription) {
		sub.Status = subscriptiondomain.StatusCanceled
		sub.CurrentPeriodEnd = testNow.AddDate(0, 0, -1)
	})

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonExpired, decision.Reason)
}

func TestPastDueAllowedInGrace(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	f.seedSubscription(t, craftsman.ID, f.proTier.ID, func(sub *subscriptiondomain.CraftsmanSubscription) {
		sub.Status = subscriptiondomain.StatusPastDue
		graceEnd := testNow.AddDate(0, 0, 3)
		sub.GracePeriodEnd = &graceEnd
	})

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestPastDueDeniedAfterGrace(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	f.seedSubscription(t, craftsman.ID, f.proTier.ID, func(sub *subscriptiondomain.CraftsmanSubscription) {
		sub.Status = subscriptiondomain.StatusPastDue
		graceEnd := testNow.AddDate(0, 0, -1)
		sub.GracePeriodEnd = &graceEnd
	})

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonPaymentFailed, decision.Reason)
}

func TestSuspendedDenied(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	suspended := testNow.AddDate(0, 0, -1)
	require.NoError(t, f.db.Model(&craftsmandomain.Craftsman{}).
		Where("id = ?", craftsman.ID).Update("suspended_at", suspended).Error)

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, domain.ReasonSuspended, decision.Reason)
}

func TestFreePeriodRollsOverOnElapse(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)
	f.seedSubscription(t, craftsman.ID, f.freeTier.ID, func(sub *subscriptiondomain.CraftsmanSubscription) {
		// Last month, fully used up.
		sub.CurrentPeriodStart = testNow.AddDate(0, -1, 0)
		sub.CurrentPeriodEnd = testNow.AddDate(0, 0, -9)
		sub.LeadsUsedThisMonth = 5
		notified := testNow.AddDate(0, 0, -15)
		sub.NearLimitNotifiedAt = &notified
		sub.LimitNotifiedAt = &notified
	})

	decision, err := f.svc.CanReceiveLead(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "an elapsed period counts as fresh")

	_, err = f.svc.ProcessShortlist(context.Background(), f.node.Generate(), craftsman.ID)
	require.NoError(t, err)

	sub, err := subscriptionrepository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.LeadsUsedThisMonth, "counter reset on rollover")
	assert.Nil(t, sub.NearLimitNotifiedAt, "notification flags cleared on rollover")
	assert.Nil(t, sub.LimitNotifiedAt)
}

func TestPaidPeriodRollsOverOnLateRenewal(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t)

	limit := 5
	plusTier := tierdomain.SubscriptionTier{
		ID: f.node.Generate(), Name: tierdomain.NamePlus, PriceAmount: 4900, Currency: "RON",
		MonthlyLeadLimit: &limit, StripePriceID: "price_plus",
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, f.db.Create(&plusTier).Error)

	f.seedSubscription(t, craftsman.ID, plusTier.ID, func(sub *subscriptiondomain.CraftsmanSubscription) {
		// Anniversary passed but the renewal webhook has not landed yet.
		sub.CurrentPeriodStart = testNow.AddDate(0, -1, -10)
		sub.CurrentPeriodEnd = testNow.AddDate(0, 0, -10)
		sub.LeadsUsedThisMonth = 5
		notified := testNow.AddDate(0, 0, -20)
		sub.NearLimitNotifiedAt = &notified
		sub.LimitNotifiedAt = &notified
	})

	_, err := f.svc.ProcessShortlist(context.Background(), f.node.Generate(), craftsman.ID)
	require.NoError(t, err)

	sub, err := subscriptionrepository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.LeadsUsedThisMonth, "the stored counter stays within the limit")
	assert.WithinDuration(t, testNow.AddDate(0, 0, -10), sub.CurrentPeriodStart, time.Second,
		"the period advances along the anniversary")
	assert.WithinDuration(t, testNow.AddDate(0, 1, -10), sub.CurrentPeriodEnd, time.Second)
	assert.Nil(t, sub.NearLimitNotifiedAt)
	assert.Nil(t, sub.LimitNotifiedAt)
}
