package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	craftsmanrepository "github.com/GaitanS/Bricli-sub000/internal/craftsman/repository"
	craftsmanservice "github.com/GaitanS/Bricli-sub000/internal/craftsman/service"
	"github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
	"github.com/GaitanS/Bricli-sub000/internal/invoice/repository"
	"github.com/GaitanS/Bricli-sub000/internal/mailer"
	"github.com/GaitanS/Bricli-sub000/internal/observability"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeFiscalClient struct {
	issueErr error
	issued   int
	pdfErr   error
}

func (f *fakeFiscalClient) IssueInvoice(ctx context.Context, req domain.IssueRequest) (domain.FiscalInvoice, error) {
	if f.issueErr != nil {
		return domain.FiscalInvoice{}, f.issueErr
	}
	f.issued++
	return domain.FiscalInvoice{Series: "BRIC", Number: "0042"}, nil
}

func (f *fakeFiscalClient) FetchPDF(ctx context.Context, series, number string) ([]byte, error) {
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return []byte("%PDF-1.4 test"), nil
}

type captureMailer struct {
	mailer.Nop

	invoices       int
	operatorAlerts int
	alertErr       error
}

func (c *captureMailer) SendInvoice(ctx context.Context, to, name, number string, total int64, currency string, pdf []byte) error {
	c.invoices++
	return nil
}

func (c *captureMailer) SendOperatorAlert(ctx context.Context, subject, body string) error {
	if c.alertErr != nil {
		return c.alertErr
	}
	c.operatorAlerts++
	return nil
}

type noopProvider struct{ paymentdomain.ProviderClient }

type fixture struct {
	svc       *Service
	db        *gorm.DB
	fiscal    *fakeFiscalClient
	mails     *captureMailer
	node      *snowflake.Node
	craftsman craftsmandomain.Craftsman
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&craftsmandomain.Craftsman{},
		&craftsmandomain.FiscalProfile{},
		&domain.Invoice{},
		&domain.PendingInvoice{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fixed := clock.Fixed{T: testNow}
	log := zap.NewNop()
	fiscal := &fakeFiscalClient{}
	mails := &captureMailer{}

	craftsmanSvc := craftsmanservice.NewService(craftsmanservice.ServiceParam{
		DB: db, Log: log, Clock: fixed, Repo: craftsmanrepository.Provide(),
		Provider: noopProvider{}, Node: node,
	})

	cfg := config.Config{Billing: config.BillingConfig{
		Currency: "RON", TaxRate: 0.19, InvoiceMaxRetries: 10,
	}}

	svc := NewService(ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fixed, Cfg: cfg,
		Metrics:      observability.NewMetrics(observability.NewRegistry()),
		Repo:         repository.Provide(),
		FiscalClient: fiscal,
		CraftsmanSvc: craftsmanSvc,
		Mailer:       mails,
	}).(*Service)

	craftsman := craftsmandomain.Craftsman{
		ID: node.Generate(), Email: "ion@example.ro", PasswordHash: "x",
		DisplayName: "Ion Popescu", Slug: "ion-popescu",
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, db.Create(&craftsman).Error)
	profile := craftsmandomain.FiscalProfile{
		ID: node.Generate(), CraftsmanID: craftsman.ID,
		Personhood: craftsmandomain.PersonhoodCompany,
		LegalName:  "Construct SRL", CUI: "RO12345678",
		AddressLine: "Bd. Eroilor 10", City: "Cluj-Napoca", County: "Cluj",
		PostalCode: "400001", Country: "RO",
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(t, db.Create(&profile).Error)

	return &fixture{svc: svc, db: db, fiscal: fiscal, mails: mails, node: node, craftsman: craftsman}
}

func (f *fixture) createReq() domain.CreateRequest {
	return domain.CreateRequest{
		CraftsmanID:     f.craftsman.ID,
		StripeInvoiceID: "in_test_1",
		AmountTotal:     4900,
		Currency:        "RON",
	}
}

func TestCreatePersistsInvoiceWithTaxSplit(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Create(context.Background(), f.createReq()))

	var invoice domain.Invoice
	require.NoError(t, f.db.First(&invoice, "stripe_invoice_id = ?", "in_test_1").Error)
	assert.Equal(t, int64(4900), invoice.TotalAmount)
	assert.Equal(t, int64(4118), invoice.BaseAmount)
	assert.Equal(t, int64(782), invoice.TaxAmount)
	assert.Equal(t, invoice.TotalAmount, invoice.BaseAmount+invoice.TaxAmount)
	assert.Equal(t, "Construct SRL", invoice.ClientName)
	assert.Equal(t, "RO12345678", invoice.ClientFiscalCode)
	assert.Equal(t, "BRIC", invoice.Series)
	assert.Equal(t, "0042", invoice.Number)
	assert.NotNil(t, invoice.EmailSentAt)
	assert.Equal(t, 1, f.mails.invoices)
}

func TestCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Create(context.Background(), f.createReq()))
	require.NoError(t, f.svc.Create(context.Background(), f.createReq()))

	assert.Equal(t, 1, f.fiscal.issued, "second call must not re-issue")

	var count int64
	require.NoError(t, f.db.Model(&domain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateFailureQueuesPending(t *testing.T) {
	f := newFixture(t)
	f.fiscal.issueErr = domain.ErrFiscalAPI

	require.NoError(t, f.svc.Create(context.Background(), f.createReq()),
		"fiscal failure must not propagate to the caller")

	var pending domain.PendingInvoice
	require.NoError(t, f.db.First(&pending, "stripe_invoice_id = ?", "in_test_1").Error)
	assert.Equal(t, 0, pending.RetryCount)
	assert.Contains(t, pending.LastError, "fiscal_api_error")

	var count int64
	require.NoError(t, f.db.Model(&domain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRetryPendingIssuesAndClears(t *testing.T) {
	f := newFixture(t)
	f.fiscal.issueErr = domain.ErrFiscalAPI
	require.NoError(t, f.svc.Create(context.Background(), f.createReq()))

	f.fiscal.issueErr = nil
	require.NoError(t, f.svc.RetryPending(context.Background()))

	var pendingCount int64
	require.NoError(t, f.db.Model(&domain.PendingInvoice{}).Count(&pendingCount).Error)
	assert.Zero(t, pendingCount)

	var invoice domain.Invoice
	require.NoError(t, f.db.First(&invoice, "stripe_invoice_id = ?", "in_test_1").Error)
	assert.Equal(t, int64(4900), invoice.TotalAmount)
}

func TestRetryPendingEscalatesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.fiscal.issueErr = errors.New("smartbill down")
	require.NoError(t, f.svc.Create(context.Background(), f.createReq()))

	// Exhaust the retry budget and keep going past it.
	for i := 0; i < 13; i++ {
		require.NoError(t, f.svc.RetryPending(context.Background()))
	}

	assert.Equal(t, 1, f.mails.operatorAlerts, "operator alert must fire exactly once")

	var pending domain.PendingInvoice
	require.NoError(t, f.db.First(&pending, "stripe_invoice_id = ?", "in_test_1").Error)
	assert.Equal(t, 10, pending.RetryCount, "attempts stop once the budget is spent")
	require.NotNil(t, pending.EscalatedAt)
}

func TestRetryPendingRetriesFailedEscalation(t *testing.T) {
	f := newFixture(t)
	f.fiscal.issueErr = errors.New("smartbill down")
	require.NoError(t, f.svc.Create(context.Background(), f.createReq()))

	// The alert channel is down when the retry budget runs out.
	f.mails.alertErr = errors.New("smtp down")
	for i := 0; i < 10; i++ {
		require.NoError(t, f.svc.RetryPending(context.Background()))
	}

	var pending domain.PendingInvoice
	require.NoError(t, f.db.First(&pending, "stripe_invoice_id = ?", "in_test_1").Error)
	assert.Nil(t, pending.EscalatedAt, "a failed alert stays eligible for another attempt")
	assert.Zero(t, f.mails.operatorAlerts)

	f.mails.alertErr = nil
	require.NoError(t, f.svc.RetryPending(context.Background()))

	require.NoError(t, f.db.First(&pending, "stripe_invoice_id = ?", "in_test_1").Error)
	require.NotNil(t, pending.EscalatedAt)
	assert.Equal(t, 1, f.mails.operatorAlerts)
	assert.Equal(t, 10, pending.RetryCount)
	assert.Zero(t, f.fiscal.issued, "exhausted rows never re-issue the invoice")
}

func TestRetryPendingDiscardsWhenInvoiceExists(t *testing.T) {
	f := newFixture(t)
	f.fiscal.issueErr = domain.ErrFiscalAPI
	require.NoError(t, f.svc.Create(context.Background(), f.createReq()))

	// Manual issue happened out of band.
	manual := domain.Invoice{
		ID: f.node.Generate(), CraftsmanID: f.craftsman.ID,
		StripeInvoiceID: "in_test_1", Series: "BRIC", Number: "0099",
		TotalAmount: 4900, BaseAmount: 4118, TaxAmount: 782, Currency: "RON",
		ClientName: "Construct SRL", ClientFiscalCode: "RO12345678",
		ClientAddress: "Bd. Eroilor 10", IssuedAt: testNow, CreatedAt: testNow,
	}
	require.NoError(t, f.db.Create(&manual).Error)

	require.NoError(t, f.svc.RetryPending(context.Background()))

	var pendingCount int64
	require.NoError(t, f.db.Model(&domain.PendingInvoice{}).Count(&pendingCount).Error)
	assert.Zero(t, pendingCount)
	assert.Zero(t, f.fiscal.issued, "no re-issue when the invoice already exists")
}
