package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) FindByStripeInvoiceID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Where("stripe_invoice_id = ?", stripeInvoiceID).First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Save(invoice).Error
}

func (r *repository) ListByCraftsmanID(ctx context.Context, db *gorm.DB, craftsmanID snowflake.ID) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Where("craftsman_id = ?", craftsmanID).
		Order("issued_at DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) FindPendingByStripeInvoiceID(ctx context.Context, db *gorm.DB, stripeInvoiceID string) (*domain.PendingInvoice, error) {
	var pending domain.PendingInvoice
	err := db.WithContext(ctx).Where("stripe_invoice_id = ?", stripeInvoiceID).First(&pending).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pending, nil
}

func (r *repository) InsertPending(ctx context.Context, db *gorm.DB, pending *domain.PendingInvoice) error {
	return db.WithContext(ctx).Create(pending).Error
}

func (r *repository) UpdatePending(ctx context.Context, db *gorm.DB, pending *domain.PendingInvoice) error {
	return db.WithContext(ctx).Save(pending).Error
}

func (r *repository) DeletePending(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Delete(&domain.PendingInvoice{}, "id = ?", id).Error
}

func (r *repository) ListPending(ctx context.Context, db *gorm.DB, limit int) ([]domain.PendingInvoice, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.PendingInvoice
	err := db.WithContext(ctx).Order("created_at ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
