package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/documentstore"
	"github.com/smallbiznis/invoicedesk/internal/invoice/delivery"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Store   documentstore.Store
	Builder *delivery.Builder
	Sender  delivery.Sender
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository

	store   documentstore.Store
	builder *delivery.Builder
	sender  delivery.Sender
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		store:   p.Store,
		builder: p.Builder,
		sender:  p.Sender,
		metrics: p.Metrics,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := domain.ListInvoiceFilter{
		ScheduledStatus: strings.TrimSpace(req.ScheduledStatus),
		IsTemplate:      req.IsTemplate,
	}
	if raw := strings.TrimSpace(req.ToCompanyID); raw != "" {
		companyID, err := parseCompanyID(raw)
		if err != nil {
			return domain.ListInvoiceResponse{}, err
		}
		filter.ToCompanyID = &companyID
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(invoice *domain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	invoices := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	return domain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) Create(ctx context.Context, input domain.InvoiceInput) (domain.Invoice, error) {
	if input.InvoiceNumber == nil || input.Date == nil ||
		input.Subtotal == nil || input.TaxRate == nil ||
		input.TaxAmount == nil || input.Total == nil {
		return domain.Invoice{}, domain.ErrMissingRequiredFields
	}

	date, err := parseDate(*input.Date)
	if err != nil {
		return domain.Invoice{}, err
	}
	fromCompanyID, err := parseOptionalCompanyID(input.FromCompanyID)
	if err != nil {
		return domain.Invoice{}, err
	}
	toCompanyID, err := parseOptionalCompanyID(input.ToCompanyID)
	if err != nil {
		return domain.Invoice{}, err
	}

	now := s.clock.Now()
	invoice := domain.Invoice{
		ID:            s.genID.Generate(),
		InvoiceNumber: *input.InvoiceNumber,
		Date:          date,
		Subtotal:      *input.Subtotal,
		TaxRate:       *input.TaxRate,
		TaxAmount:     *input.TaxAmount,
		Total:         *input.Total,
		Items:         normalizeItems(input.Items),
		IsTemplate:    boolValue(input.IsTemplate),
		TemplateName:  optionalText(input.TemplateName),
		Name:          optionalText(input.Name),
		Description:   optionalText(input.Description),
		Sent:          boolValue(input.Sent),
		HasASDocument: boolValue(input.HasASDocument),
		FromCompanyID: fromCompanyID,
		ToCompanyID:   toCompanyID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Insert(ctx, s.db, &invoice); err != nil {
		return domain.Invoice{}, err
	}

	s.log.Info("invoice.created",
		zap.String("invoice_id", invoice.ID.String()),
		zap.Int("invoice_number", invoice.InvoiceNumber),
	)
	return s.reload(ctx, invoice.ID)
}

func (s *Service) Update(ctx context.Context, id string, input domain.InvoiceInput) (domain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if _, err := s.load(ctx, invoiceID); err != nil {
		return domain.Invoice{}, err
	}

	fields := map[string]any{}
	if input.InvoiceNumber != nil {
		fields["invoice_number"] = *input.InvoiceNumber
	}
	if input.Date != nil {
		date, err := parseDate(*input.Date)
		if err != nil {
			return domain.Invoice{}, err
		}
		fields["date"] = date
	}
	setDecimal(fields, "subtotal", input.Subtotal)
	setDecimal(fields, "tax_rate", input.TaxRate)
	setDecimal(fields, "tax_amount", input.TaxAmount)
	setDecimal(fields, "total", input.Total)
	if input.Items != nil {
		fields["items"] = normalizeItems(input.Items)
	}
	if input.IsTemplate != nil {
		fields["is_template"] = *input.IsTemplate
	}
	if input.TemplateName != nil {
		fields["template_name"] = optionalText(input.TemplateName)
	}
	if input.Name != nil {
		fields["name"] = optionalText(input.Name)
	}
	if input.Description != nil {
		fields["description"] = optionalText(input.Description)
	}
	if input.Sent != nil {
		fields["sent"] = *input.Sent
	}
	if input.HasASDocument != nil {
		fields["has_as_document"] = *input.HasASDocument
	}
	if input.FromCompanyID != nil {
		companyID, err := parseOptionalCompanyID(input.FromCompanyID)
		if err != nil {
			return domain.Invoice{}, err
		}
		fields["from_company_id"] = companyID
	}
	if input.ToCompanyID != nil {
		companyID, err := parseOptionalCompanyID(input.ToCompanyID)
		if err != nil {
			return domain.Invoice{}, err
		}
		fields["to_company_id"] = companyID
	}
	fields["updated_at"] = s.clock.Now()

	if err := s.repo.UpdateFields(ctx, s.db, invoiceID, fields); err != nil {
		return domain.Invoice{}, err
	}
	return s.reload(ctx, invoiceID)
}

// Delete removes the invoice row after a best-effort cleanup of its stored documents.
func (s *Service) Delete(ctx context.Context, id string) error {
	invoiceID, err := parseID(id)
	if err != nil {
		return err
	}
	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return err
	}

	s.deleteStoredDocuments(ctx, invoice)

	if err := s.repo.Delete(ctx, s.db, invoiceID); err != nil {
		return err
	}
	s.log.Info("invoice.deleted", zap.String("invoice_id", invoiceID.String()))
	return nil
}

func (s *Service) MarkSent(ctx context.Context, id string) (domain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if _, err := s.load(ctx, invoiceID); err != nil {
		return domain.Invoice{}, err
	}

	if err := s.repo.UpdateFields(ctx, s.db, invoiceID, map[string]any{
		"sent":       true,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return domain.Invoice{}, err
	}
	return s.reload(ctx, invoiceID)
}

// LatestInvoiceNumber ignores templates. A company with no invoices yields nil.
func (s *Service) LatestInvoiceNumber(ctx context.Context, toCompanyID string) (*int, error) {
	companyID, err := parseCompanyID(toCompanyID)
	if err != nil {
		return nil, err
	}
	return s.repo.LatestInvoiceNumber(ctx, s.db, companyID)
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrNotFound
	}
	return invoice, nil
}

func (s *Service) reload(ctx context.Context, id snowflake.ID) (domain.Invoice, error) {
	invoice, err := s.load(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) deleteStoredDocuments(ctx context.Context, invoice *domain.Invoice) {
	for _, key := range []*string{invoice.InvoicePDFKey, invoice.ASPDFKey} {
		if key == nil || strings.TrimSpace(*key) == "" {
			continue
		}
		if err := s.store.Delete(ctx, *key); err != nil && !errors.Is(err, documentstore.ErrNotFound) {
			s.log.Warn("invoice.documents.delete_failed",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("key", *key),
				zap.Error(err),
			)
		}
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func parseCompanyID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidCompanyID
	}
	return id, nil
}

func parseOptionalCompanyID(value *string) (*snowflake.ID, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	id, err := parseCompanyID(*value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// parseDate accepts a calendar date or an RFC3339 timestamp and returns UTC.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, domain.ErrInvalidDate
}

func setDecimal(fields map[string]any, column string, value *decimal.Decimal) {
	if value != nil {
		fields[column] = *value
	}
}

func optionalText(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func boolValue(value *bool) bool {
	return value != nil && *value
}

func normalizeItems(raw datatypes.JSON) *datatypes.JSON {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return &raw
}
