package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Personhood controls which fiscal fields are mandatory for invoicing:
// individuals identify with the national personal code (CNP), sole traders
// and companies with a tax id (CUI) and legal name.
type Personhood string

const (
	PersonhoodIndividual Personhood = "individual"
	PersonhoodSoleTrader Personhood = "sole_trader"
	PersonhoodCompany    Personhood = "company"
)

var (
	ErrCraftsmanNotFound  = errors.New("craftsman_not_found")
	ErrCraftsmanSuspended = errors.New("craftsman_suspended")
	ErrInvalidPersonhood  = errors.New("invalid_personhood")
)

// MissingFiscalDataError is returned when the fiscal profile is absent or
// incomplete; Fields names what the craftsman still has to fill in.
type MissingFiscalDataError struct {
	Fields []string
}

func (e *MissingFiscalDataError) Error() string {
	if len(e.Fields) == 0 {
		return "missing_fiscal_data"
	}
	return fmt.Sprintf("missing_fiscal_data: %s", strings.Join(e.Fields, ", "))
}

type Craftsman struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	Email            string       `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash     string       `json:"-" gorm:"type:varchar(255);not null"`
	DisplayName      string       `json:"display_name" gorm:"type:varchar(255);not null"`
	Slug             string       `json:"slug" gorm:"type:varchar(255);not null;uniqueIndex"`
	County           string       `json:"county" gorm:"type:varchar(64)"`
	City             string       `json:"city" gorm:"type:varchar(128)"`
	StripeCustomerID *string      `json:"-" gorm:"type:varchar(255);index"`
	SuspendedAt      *time.Time   `json:"suspended_at"`
	CreatedAt        time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time    `json:"updated_at" gorm:"not null"`
}

func (Craftsman) TableName() string { return "craftsmen" }

func (c *Craftsman) Suspended() bool { return c.SuspendedAt != nil }

// FiscalProfile holds the legal identity needed for a compliant Romanian
// invoice. One per craftsman; snapshotted onto invoices at issue time.
type FiscalProfile struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	CraftsmanID snowflake.ID `json:"craftsman_id" gorm:"not null;uniqueIndex"`
	Personhood  Personhood   `json:"personhood" gorm:"type:varchar(16);not null"`
	LegalName   string       `json:"legal_name" gorm:"type:varchar(255)"`
	CNP         string       `json:"-" gorm:"type:varchar(13)"`
	CUI         string       `json:"cui" gorm:"type:varchar(16)"`
	AddressLine string       `json:"address_line" gorm:"type:varchar(255)"`
	City        string       `json:"city" gorm:"type:varchar(128)"`
	County      string       `json:"county" gorm:"type:varchar(64)"`
	PostalCode  string       `json:"postal_code" gorm:"type:varchar(16)"`
	Country     string       `json:"country" gorm:"type:varchar(2);not null;default:'RO'"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (FiscalProfile) TableName() string { return "craftsman_fiscal_profiles" }

// FiscalCode returns the identifier that goes on the invoice.
func (p *FiscalProfile) FiscalCode() string {
	if p.Personhood == PersonhoodIndividual {
		return p.CNP
	}
	return p.CUI
}

// InvoiceName returns the client name that goes on the invoice.
func (p *FiscalProfile) InvoiceName(fallback string) string {
	if strings.TrimSpace(p.LegalName) != "" {
		return p.LegalName
	}
	return fallback
}

// PostalAddress renders the snapshot address line for the invoice.
func (p *FiscalProfile) PostalAddress() string {
	parts := make([]string, 0, 4)
	for _, part := range []string{p.AddressLine, p.City, p.County, p.PostalCode} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	return strings.Join(parts, ", ")
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Craftsman, error)
	FindByStripeCustomerID(ctx context.Context, db *gorm.DB, stripeCustomerID string) (*Craftsman, error)
	Insert(ctx context.Context, db *gorm.DB, craftsman *Craftsman) error
	Update(ctx context.Context, db *gorm.DB, craftsman *Craftsman) error
	FindFiscalProfile(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) (*FiscalProfile, error)
	SaveFiscalProfile(ctx context.Context, db *gorm.DB, profile *FiscalProfile) error
}

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Craftsman, error)
	// RequireFiscalProfile loads the profile and validates completeness,
	// returning *MissingFiscalDataError before any external call is made.
	RequireFiscalProfile(ctx context.Context, craftsmanID snowflake.ID) (FiscalProfile, error)
	UpsertFiscalProfile(ctx context.Context, profile FiscalProfile) (FiscalProfile, error)
	// Suspend deactivates the account; lifting a suspension is a manual
	// operator action, never automated.
	Suspend(ctx context.Context, craftsmanID snowflake.ID, reason string) error
	// SyncBillingEmail pushes a changed account email to the external
	// billing customer. Called explicitly by the account-update flow.
	SyncBillingEmail(ctx context.Context, craftsmanID snowflake.ID) error
}
