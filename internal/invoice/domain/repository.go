package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListInvoiceFilter struct {
	ToCompanyID     *snowflake.ID
	ScheduledStatus string
	IsTemplate      *bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	// FindByID returns (nil, nil) when the invoice does not exist.
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListInvoiceFilter, page pagination.Pagination) ([]*Invoice, error)
	UpdateFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	LatestInvoiceNumber(ctx context.Context, db *gorm.DB, toCompanyID snowflake.ID) (*int, error)
	// FindDue selects pending invoices due at now that have an invoice PDF, ordered by id after afterID.
	FindDue(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]*Invoice, error)
}
