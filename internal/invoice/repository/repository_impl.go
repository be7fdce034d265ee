package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/pkg/db/option"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(invoice).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Preload("FromCompany").
		Preload("ToCompany").
		Where("id = ?", id).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListInvoiceFilter, page pagination.Pagination) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).Model(&domain.Invoice{})
	if filter.ToCompanyID != nil {
		stmt = stmt.Where("to_company_id = ?", *filter.ToCompanyID)
	}
	if filter.ScheduledStatus != "" {
		stmt = stmt.Where("scheduled_status = ?", filter.ScheduledStatus)
	}
	if filter.IsTemplate != nil {
		stmt = stmt.Where("is_template = ?", *filter.IsTemplate)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	stmt = option.WithPreload("FromCompany", "ToCompany").Apply(stmt)

	err := stmt.
		Order("created_at desc, id desc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.Invoice{}).Error
}

func (r *repo) LatestInvoiceNumber(ctx context.Context, db *gorm.DB, toCompanyID snowflake.ID) (*int, error) {
	var numbers []int
	err := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("to_company_id = ? AND is_template = ?", toCompanyID, false).
		Order("invoice_number desc").
		Limit(1).
		Pluck("invoice_number", &numbers).Error
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, nil
	}
	return &numbers[0], nil
}

func (r *repo) FindDue(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	stmt := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("scheduled_status = ?", string(domain.ScheduledStatusPending)).
		Where("scheduled_send_at <= ?", now).
		Where("invoice_pdf_key IS NOT NULL").
		Where("id > ?", afterID)
	stmt = option.WithLimit(limit).Apply(stmt)

	err := stmt.
		Order("id asc").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
