package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/clock"
	"github.com/GaitanS/Bricli-sub000/internal/config"
	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	"github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
	"github.com/GaitanS/Bricli-sub000/internal/mailer"
	"github.com/GaitanS/Bricli-sub000/internal/observability"
)

const productName = "Abonament Bricli"

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.BillingConfig
	metrics *observability.Metrics

	repo         domain.Repository
	fiscalClient domain.FiscalClient
	craftsmanSvc craftsmandomain.Service
	mailer       mailer.Mailer
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Metrics *observability.Metrics

	Repo         domain.Repository
	FiscalClient domain.FiscalClient
	CraftsmanSvc craftsmandomain.Service
	Mailer       mailer.Mailer
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg.Billing,
		metrics:      p.Metrics,
		repo:         p.Repo,
		fiscalClient: p.FiscalClient,
		craftsmanSvc: p.CraftsmanSvc,
		mailer:       p.Mailer,
	}
}

// Create implements domain.Service. A fiscal API failure is absorbed into a
// pending entry: the caller (the webhook processor) must never fail the
// whole event because invoicing is down.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) error {
	existing, err := s.repo.FindByStripeInvoiceID(ctx, s.db, req.StripeInvoiceID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if err := s.issue(ctx, req); err != nil {
		s.log.Warn("fiscal invoice issue failed, queued for retry",
			zap.String("stripe_invoice_id", req.StripeInvoiceID),
			zap.Error(err))
		return s.recordFailure(ctx, req, err)
	}
	return nil
}

// RetryPending implements domain.Service.
func (s *Service) RetryPending(ctx context.Context) error {
	rows, err := s.repo.ListPending(ctx, s.db, 100)
	if err != nil {
		return err
	}

	for _, pending := range rows {
		if err := s.retryOne(ctx, pending); err != nil {
			s.log.Warn("pending invoice retry",
				zap.String("stripe_invoice_id", pending.StripeInvoiceID),
				zap.Int("retry_count", pending.RetryCount),
				zap.Error(err))
		}
	}
	return nil
}

func (s *Service) ListByCraftsmanID(ctx context.Context, craftsmanID snowflake.ID) ([]domain.Invoice, error) {
	return s.repo.ListByCraftsmanID(ctx, s.db, craftsmanID)
}

func (s *Service) retryOne(ctx context.Context, pending domain.PendingInvoice) error {
	// Exhausted rows wait for manual operator action, but the escalation
	// itself keeps being retried until the alert actually goes out.
	if pending.RetryCount >= s.cfg.InvoiceMaxRetries {
		if pending.EscalatedAt != nil {
			return nil
		}
		if err := s.escalate(ctx, &pending); err != nil {
			return err
		}
		return s.repo.UpdatePending(ctx, s.db, &pending)
	}

	// Another path may have issued the invoice in the meantime.
	existing, err := s.repo.FindByStripeInvoiceID(ctx, s.db, pending.StripeInvoiceID)
	if err != nil {
		return err
	}
	if existing != nil {
		return s.repo.DeletePending(ctx, s.db, pending.ID)
	}

	s.metrics.InvoiceRetries.Inc()
	req := domain.CreateRequest{
		CraftsmanID:     pending.CraftsmanID,
		StripeInvoiceID: pending.StripeInvoiceID,
		AmountTotal:     pending.AmountTotal,
		Currency:        pending.Currency,
	}
	issueErr := s.issue(ctx, req)
	if issueErr == nil {
		return s.repo.DeletePending(ctx, s.db, pending.ID)
	}

	now := s.clock.Now(ctx)
	pending.RetryCount++
	pending.LastError = issueErr.Error()
	pending.UpdatedAt = now

	if pending.RetryCount >= s.cfg.InvoiceMaxRetries && pending.EscalatedAt == nil {
		if err := s.escalate(ctx, &pending); err != nil {
			s.log.Error("operator escalation email", zap.Error(err))
		}
	}

	if err := s.repo.UpdatePending(ctx, s.db, &pending); err != nil {
		return err
	}
	return issueErr
}

// escalate alerts the operator about an exhausted pending invoice.
// EscalatedAt is only set once the alert was actually delivered.
func (s *Service) escalate(ctx context.Context, pending *domain.PendingInvoice) error {
	subject := "Factură fiscală blocată după epuizarea reîncercărilor"
	body := fmt.Sprintf(
		"Factura pentru plata %s (craftsman %d, %d %s) a eșuat de %d ori.\nUltima eroare: %s\nEste necesară emiterea manuală.",
		pending.StripeInvoiceID, int64(pending.CraftsmanID),
		pending.AmountTotal, pending.Currency,
		pending.RetryCount, pending.LastError)
	if err := s.mailer.SendOperatorAlert(ctx, subject, body); err != nil {
		return err
	}
	now := s.clock.Now(ctx)
	pending.EscalatedAt = &now
	return nil
}

// issue does one full issue attempt: snapshot, fiscal API call, persist,
// email with PDF.
func (s *Service) issue(ctx context.Context, req domain.CreateRequest) error {
	craftsman, err := s.craftsmanSvc.GetByID(ctx, req.CraftsmanID)
	if err != nil {
		return err
	}
	profile, err := s.craftsmanSvc.RequireFiscalProfile(ctx, req.CraftsmanID)
	if err != nil {
		return err
	}

	base, tax := domain.CalculateTax(req.AmountTotal, s.cfg.TaxRate)
	now := s.clock.Now(ctx)

	clientName := profile.InvoiceName(craftsman.DisplayName)
	fiscal, err := s.fiscalClient.IssueInvoice(ctx, domain.IssueRequest{
		ClientName:       clientName,
		ClientFiscalCode: profile.FiscalCode(),
		ClientAddress:    profile.PostalAddress(),
		ProductName:      productName,
		BaseAmount:       base,
		TaxAmount:        tax,
		TotalAmount:      req.AmountTotal,
		Currency:         req.Currency,
		IssueDate:        now,
	})
	if err != nil {
		return err
	}

	invoice := domain.Invoice{
		ID:               s.genID.Generate(),
		CraftsmanID:      req.CraftsmanID,
		StripeInvoiceID:  req.StripeInvoiceID,
		Series:           fiscal.Series,
		Number:           fiscal.Number,
		TotalAmount:      req.AmountTotal,
		BaseAmount:       base,
		TaxAmount:        tax,
		Currency:         req.Currency,
		ClientName:       clientName,
		ClientFiscalCode: profile.FiscalCode(),
		ClientAddress:    profile.PostalAddress(),
		IssuedAt:         now,
		CreatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, &invoice); err != nil {
		return err
	}
	s.metrics.InvoicesIssued.Inc()
	s.log.Info("fiscal invoice issued",
		zap.String("stripe_invoice_id", req.StripeInvoiceID),
		zap.String("series", fiscal.Series),
		zap.String("number", fiscal.Number))

	s.emailInvoice(ctx, &invoice, craftsman)
	return nil
}

// emailInvoice is best-effort: the invoice is already persisted and the PDF
// stays retrievable from the fiscal API.
func (s *Service) emailInvoice(ctx context.Context, invoice *domain.Invoice, craftsman craftsmandomain.Craftsman) {
	pdf, err := s.fiscalClient.FetchPDF(ctx, invoice.Series, invoice.Number)
	if err != nil {
		s.log.Warn("invoice pdf fetch", zap.Error(err))
		return
	}

	number := invoice.Series + "-" + invoice.Number
	if err := s.mailer.SendInvoice(ctx, craftsman.Email, craftsman.DisplayName,
		number, invoice.TotalAmount, invoice.Currency, pdf); err != nil {
		s.log.Warn("invoice email", zap.Error(err))
		return
	}

	now := s.clock.Now(ctx)
	invoice.EmailSentAt = &now
	if err := s.repo.Update(ctx, s.db, invoice); err != nil {
		s.log.Warn("mark invoice emailed", zap.Error(err))
	}
}

func (s *Service) recordFailure(ctx context.Context, req domain.CreateRequest, cause error) error {
	existing, err := s.repo.FindPendingByStripeInvoiceID(ctx, s.db, req.StripeInvoiceID)
	if err != nil {
		return err
	}

	now := s.clock.Now(ctx)
	if existing != nil {
		existing.LastError = cause.Error()
		existing.UpdatedAt = now
		return s.repo.UpdatePending(ctx, s.db, existing)
	}

	return s.repo.InsertPending(ctx, s.db, &domain.PendingInvoice{
		ID:              s.genID.Generate(),
		CraftsmanID:     req.CraftsmanID,
		StripeInvoiceID: req.StripeInvoiceID,
		AmountTotal:     req.AmountTotal,
		Currency:        req.Currency,
		RetryCount:      0,
		LastError:       cause.Error(),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}
