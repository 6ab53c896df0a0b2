package domain

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Invoice is an issued fiscal invoice. The client fields are a snapshot of
// the fiscal profile at issue time and never follow later profile edits.
type Invoice struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	CraftsmanID snowflake.ID `json:"craftsman_id" gorm:"not null;index"`
	// One fiscal invoice per provider invoice, enforced by the index.
	StripeInvoiceID string `json:"stripe_invoice_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	Series          string `json:"series" gorm:"type:varchar(16);not null;uniqueIndex:idx_invoices_series_number"`
	Number          string `json:"number" gorm:"type:varchar(32);not null;uniqueIndex:idx_invoices_series_number"`

	TotalAmount int64  `json:"total_amount" gorm:"not null"` // minor units, TVA inclus
	BaseAmount  int64  `json:"base_amount" gorm:"not null"`
	TaxAmount   int64  `json:"tax_amount" gorm:"not null"`
	Currency    string `json:"currency" gorm:"type:varchar(3);not null"`

	ClientName       string `json:"client_name" gorm:"type:varchar(255);not null"`
	ClientFiscalCode string `json:"client_fiscal_code" gorm:"type:varchar(16);not null"`
	ClientAddress    string `json:"client_address" gorm:"type:varchar(512);not null"`

	IssuedAt    time.Time  `json:"issued_at" gorm:"not null"`
	EmailSentAt *time.Time `json:"email_sent_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// PendingInvoice is the retry log for fiscal API failures. One row per
// provider invoice; deleted once the Invoice exists.
type PendingInvoice struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	CraftsmanID     snowflake.ID `json:"craftsman_id" gorm:"not null;index"`
	StripeInvoiceID string       `json:"stripe_invoice_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	AmountTotal     int64        `json:"amount_total" gorm:"not null"`
	Currency        string       `json:"currency" gorm:"type:varchar(3);not null"`
	RetryCount      int          `json:"retry_count" gorm:"not null;default:0"`
	LastError       string       `json:"last_error" gorm:"type:text"`
	// EscalatedAt marks that the operator alert went out; it is set once
	// and never cleared, so the alert cannot repeat.
	EscalatedAt *time.Time `json:"escalated_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null"`
}

func (PendingInvoice) TableName() string { return "pending_invoices" }

// CalculateTax splits a TVA-inclusive total into base and tax in minor
// units. The base is rounded, the tax is the remainder, so the three always
// sum exactly.
func CalculateTax(total int64, rate float64) (base int64, tax int64) {
	base = int64(math.Round(float64(total) / (1 + rate)))
	tax = total - base
	return base, tax
}

// CreateRequest carries everything needed to issue one fiscal invoice.
type CreateRequest struct {
	CraftsmanID     snowflake.ID
	StripeInvoiceID string
	AmountTotal     int64
	Currency        string
}

// FiscalInvoice is what the fiscal API returns on a successful issue.
type FiscalInvoice struct {
	Series string
	Number string
}

// FiscalClient is the outbound fiscal API surface; the SmartBill
// implementation lives in invoice/smartbill.
type FiscalClient interface {
	IssueInvoice(ctx context.Context, req IssueRequest) (FiscalInvoice, error)
	FetchPDF(ctx context.Context, series, number string) ([]byte, error)
}

// IssueRequest is the fiscal API payload: amounts in minor units, client
// snapshot already resolved.
type IssueRequest struct {
	ClientName       string
	ClientFiscalCode string
	ClientAddress    string
	ProductName      string
	BaseAmount       int64
	TaxAmount        int64
	TotalAmount      int64
	Currency         string
	IssueDate        time.Time
}

type Repository interface {
	FindByStripeInvoiceID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*Invoice, error)
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ListByCraftsmanID(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) ([]Invoice, error)

	FindPendingByStripeInvoiceID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*PendingInvoice, error)
	InsertPending(ctx context.Context, db *gorm.DB, pending *PendingInvoice) error
	UpdatePending(ctx context.Context, db *gorm.DB, pending *PendingInvoice) error
	DeletePending(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListPending(ctx context.Context, db *gorm.DB, limit int) ([]PendingInvoice, error)
}

type Service interface {
	// Create issues the fiscal invoice for one paid provider invoice.
	// Idempotent per StripeInvoiceID; a fiscal API failure leaves a
	// pending entry behind instead of returning an error.
	Create(ctx context.Context, req CreateRequest) error
	// RetryPending replays failed issues, escalating to the operator
	// exactly once when a row exhausts its retries.
	RetryPending(ctx context.Context) error
	ListByCraftsmanID(ctx context.Context, craftsmanID snowflake.ID) ([]Invoice, error)
}
