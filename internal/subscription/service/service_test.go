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
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
	"github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	"github.com/GaitanS/Bricli-sub000/internal/subscription/repository"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
	tierrepository "github.com/GaitanS/Bricli-sub000/internal/tier/repository"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	customers             int
	subscriptions         int
	cancels               int
	refunds               int
	lastCancelAtPeriodEnd bool

	createSubErr error
}

func (f *fakeProvider) CreateCustomer(ctx context.Context, email, name, craftsmanID string) (string, error) {
	f.customers++
	return "cus_test", nil
}

func (f *fakeProvider) UpdateCustomerEmail(ctx context.Context, customerID, email string) error {
	return nil
}

func (f *fakeProvider) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return nil
}

func (f *fakeProvider) CreateSubscription(ctx context.Context, customerID, priceID, craftsmanID string) (paymentdomain.ProviderSubscription, error) {
	if f.createSubErr != nil {
		return paymentdomain.ProviderSubscription{}, f.createSubErr
	}
	f.subscriptions++
	return paymentdomain.ProviderSubscription{
		ID:                 "sub_test",
		Status:             "active",
		CurrentPeriodStart: testNow,
		CurrentPeriodEnd:   testNow.AddDate(0, 1, 0),
	}, nil
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	f.cancels++
	f.lastCancelAtPeriodEnd = atPeriodEnd
	return nil
}

func (f *fakeProvider) LatestCharge(ctx context.Context, customerID string) (paymentdomain.ProviderCharge, error) {
	return paymentdomain.ProviderCharge{ID: "ch_test", Amount: 4900, Currency: "RON", Created: testNow}, nil
}

func (f *fakeProvider) CreateRefund(ctx context.Context, chargeID string) (string, error) {
	f.refunds++
	return "re_test", nil
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	provider *fakeProvider
	node     *snowflake.Node
	freeTier tierdomain.SubscriptionTier
	plusTier tierdomain.SubscriptionTier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tierdomain.SubscriptionTier{},
		&craftsmandomain.Craftsman{},
		&craftsmandomain.FiscalProfile{},
		&domain.CraftsmanSubscription{},
		&auditdomain.SubscriptionAuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fixed := clock.Fixed{T: testNow}
	log := zap.NewNop()
	provider := &fakeProvider{}

	limit := 5
	freeTier := tierdomain.SubscriptionTier{
		ID: node.Generate(), Name: tierdomain.NameFree, Currency: "RON",
		MonthlyLeadLimit: &limit, MaxPortfolioImages: 5,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	plusTier := tierdomain.SubscriptionTier{
		ID: node.Generate(), Name: tierdomain.NamePlus, PriceAmount: 4900, Currency: "RON",
		MaxPortfolioImages: 20, ProfileBadge: true, StripePriceID: "price_plus",
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, db.Create(&freeTier).Error)
	require.NoError(t, db.Create(&plusTier).Error)

	auditSvc := auditservice.NewService(auditservice.ServiceParam{
		DB: db, Log: log, Clock: fixed, Repo: auditrepository.Provide(), Node: node,
	})
	craftsmanSvc := craftsmanservice.NewService(craftsmanservice.ServiceParam{
		DB: db, Log: log, Clock: fixed, Repo: craftsmanrepository.Provide(),
		Provider: provider, Node: node,
	})

	cfg := config.Config{Billing: config.BillingConfig{
		Currency: "RON", TaxRate: 0.19, GracePeriodDays: 7, WithdrawalDays: 14, InvoiceMaxRetries: 10,
	}}

	svc := NewService(ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fixed, Cfg: cfg,
		Repo:          repository.Provide(),
		TierRepo:      tierrepository.Provide(),
		CraftsmanRepo: craftsmanrepository.Provide(),
		CraftsmanSvc:  craftsmanSvc,
		Provider:      provider,
		AuditSvc:      auditSvc,
		Mailer:        mailer.Nop{},
	}).(*Service)

	return &fixture{svc: svc, db: db, provider: provider, node: node, freeTier: freeTier, plusTier: plusTier}
}

func (f *fixture) seedCraftsman(t *testing.T, withFiscal bool) craftsmandomain.Craftsman {
	t.Helper()
	craftsman := craftsmandomain.Craftsman{
		ID: f.node.Generate(), Email: "ion@example.ro", PasswordHash: "x",
		DisplayName: "Ion Popescu", Slug: "ion-popescu",
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, f.db.Create(&craftsman).Error)

	if withFiscal {
		profile := craftsmandomain.FiscalProfile{
			ID: f.node.Generate(), CraftsmanID: craftsman.ID,
			Personhood: craftsmandomain.PersonhoodCompany,
			LegalName:  "Construct SRL", CUI: "RO12345678",
			AddressLine: "Bd. Eroilor 10", City: "Cluj-Napoca", County: "Cluj",
			PostalCode: "400001", Country: "RO",
			CreatedAt: testNow, UpdatedAt: testNow,
		}
		require.NoError(t, f.db.Create(&profile).Error)
	}
	return craftsman
}

func TestGetCreatesFreeSubscription(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, false)

	view, err := f.svc.Get(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.NameFree, view.Tier.Name)
	assert.Equal(t, domain.StatusActive, view.Subscription.Status)
	assert.Equal(t, 0, view.Subscription.LeadsUsedThisMonth)
}

func TestUpgradeRequiresFiscalProfile(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, false)

	_, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID: craftsman.ID,
		TierName:    tierdomain.NamePlus,
	})
	var missing *craftsmandomain.MissingFiscalDataError
	require.ErrorAs(t, err, &missing)
	assert.Zero(t, f.provider.customers, "no provider call before fiscal check passes")
	assert.Zero(t, f.provider.subscriptions)
}

func TestUpgradeActivatesSubscription(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)

	view, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID:     craftsman.ID,
		TierName:        tierdomain.NamePlus,
		PaymentMethodID: "pm_card",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, view.Subscription.Status)
	assert.Equal(t, tierdomain.NamePlus, view.Tier.Name)
	require.NotNil(t, view.Subscription.WithdrawalDeadline)
	assert.True(t, view.Subscription.WithdrawalDeadline.Equal(testNow.AddDate(0, 0, 14)))
	assert.Equal(t, 0, view.Subscription.LeadsUsedThisMonth)
	assert.Equal(t, 1, f.provider.customers)
	assert.Equal(t, 1, f.provider.subscriptions)

	var reloaded craftsmandomain.Craftsman
	require.NoError(t, f.db.First(&reloaded, "id = ?", craftsman.ID).Error)
	require.NotNil(t, reloaded.StripeCustomerID)

	var audits []auditdomain.SubscriptionAuditLog
	require.NoError(t, f.db.Find(&audits, "craftsman_id = ?", craftsman.ID).Error)
	require.Len(t, audits, 1)
	assert.Equal(t, auditdomain.EventUpgraded, audits[0].EventType)
	assert.Equal(t, "plus", audits[0].NewTier)
}

func TestUpgradeWithWaivedWithdrawal(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)

	view, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID:     craftsman.ID,
		TierName:        tierdomain.NamePlus,
		WaiveWithdrawal: true,
	})
	require.NoError(t, err)
	assert.True(t, view.Subscription.WithdrawalRightWaived)
	assert.Nil(t, view.Subscription.WithdrawalDeadline)

	allowed, err := f.svc.CanRequestRefund(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestUpgradeDeclinedCard(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)
	f.provider.createSubErr = paymentdomain.ErrPaymentDeclined

	_, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID: craftsman.ID,
		TierName:    tierdomain.NamePlus,
	})
	require.ErrorIs(t, err, paymentdomain.ErrPaymentDeclined)

	sub, err := repository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Nil(t, sub, "no subscription row on declined payment")
}

func TestCancelAtPeriodEndKeepsBenefits(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)

	view, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID: craftsman.ID, TierName: tierdomain.NamePlus,
	})
	require.NoError(t, err)
	periodEnd := view.Subscription.CurrentPeriodEnd

	require.NoError(t, f.svc.Cancel(context.Background(), craftsman.ID, false))

	sub, err := repository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.WithinDuration(t, periodEnd, sub.CurrentPeriodEnd, time.Second)
	assert.True(t, f.provider.lastCancelAtPeriodEnd)
}

func TestCancelImmediateCutsPeriod(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)

	_, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID: craftsman.ID, TierName: tierdomain.NamePlus,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), craftsman.ID, true))

	sub, err := repository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, sub.Status)
	assert.Equal(t, f.freeTier.ID, sub.TierID, "benefits stop now, not at the period boundary")
	assert.Nil(t, sub.StripeSubscriptionID)
	assert.WithinDuration(t, testNow, sub.CurrentPeriodEnd, time.Second)
	assert.False(t, f.provider.lastCancelAtPeriodEnd)
}

func TestCancelWithoutPaidSubscription(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)

	err := f.svc.Cancel(context.Background(), craftsman.ID, false)
	assert.ErrorIs(t, err, domain.ErrNoPaidSubscription)
}

func TestRefundWithinWindow(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)

	_, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID: craftsman.ID, TierName: tierdomain.NamePlus,
	})
	require.NoError(t, err)

	allowed, err := f.svc.CanRequestRefund(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.True(t, allowed)

	require.NoError(t, f.svc.Refund(context.Background(), craftsman.ID))
	assert.Equal(t, 1, f.provider.refunds)

	sub, err := repository.Provide().FindByCraftsmanID(context.Background(), f.db, craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, sub.Status)
	assert.Equal(t, f.freeTier.ID, sub.TierID, "the refund drops the record to the free tier")
	assert.Nil(t, sub.StripeSubscriptionID)
	assert.Nil(t, sub.WithdrawalDeadline)
	assert.WithinDuration(t, testNow, sub.CurrentPeriodEnd, time.Second)

	view, err := f.svc.Get(context.Background(), craftsman.ID)
	require.NoError(t, err)
	assert.Equal(t, tierdomain.NameFree, view.Tier.Name)

	var audits []auditdomain.SubscriptionAuditLog
	require.NoError(t, f.db.Order("created_at").Find(&audits, "craftsman_id = ?", craftsman.ID).Error)
	require.Len(t, audits, 2)
	assert.Equal(t, auditdomain.EventRefunded, audits[1].EventType)
}

func TestRefundOutsideWindowFailsFast(t *testing.T) {
	f := newFixture(t)
	craftsman := f.seedCraftsman(t, true)

	_, err := f.svc.Upgrade(context.Background(), domain.UpgradeRequest{
		CraftsmanID: craftsman.ID, TierName: tierdomain.NamePlus,
	})
	require.NoError(t, err)

	// Move the deadline behind the clock.
	expired := testNow.AddDate(0, 0, -1)
	require.NoError(t, f.db.Model(&domain.CraftsmanSubscription{}).
		Where("craftsman_id = ?", craftsman.ID).
		Update("withdrawal_deadline", expired).Error)

	err = f.svc.Refund(context.Background(), craftsman.ID)
	require.ErrorIs(t, err, domain.ErrRefundNotAllowed)
	assert.Zero(t, f.provider.refunds, "no provider call outside the window")
}
