package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"gorm.io/datatypes"
)

type ListInvoiceRequest struct {
	PageToken       string
	PageSize        int
	ToCompanyID     string
	ScheduledStatus string
	IsTemplate      *bool
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// InvoiceInput is shared by create and update. Nil fields are left untouched on update.
type InvoiceInput struct {
	InvoiceNumber *int             `json:"invoiceNumber"`
	Date          *string          `json:"date"`
	Subtotal      *decimal.Decimal `json:"subtotal"`
	TaxRate       *decimal.Decimal `json:"taxRate"`
	TaxAmount     *decimal.Decimal `json:"taxAmount"`
	Total         *decimal.Decimal `json:"total"`
	Items         datatypes.JSON   `json:"items"`
	IsTemplate    *bool            `json:"isTemplate"`
	TemplateName  *string          `json:"templateName"`
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Sent          *bool            `json:"sent"`
	HasASDocument *bool            `json:"hasASDocument"`
	FromCompanyID *string          `json:"fromCompanyId"`
	ToCompanyID   *string          `json:"toCompanyId"`
}

// EmailRequest is the payload accepted by send-now and schedule-send.
// Pointer fields distinguish an absent field from an empty one.
type EmailRequest struct {
	FromEmail *string             `json:"fromEmail"`
	ToEmails  *mailer.AddressList `json:"toEmails"`
	CcEmails  *mailer.AddressList `json:"ccEmails"`
	BccEmails *mailer.AddressList `json:"bccEmails"`
	Subject   *string             `json:"subject"`
	Content   *string             `json:"content"`
}

// Payload requires all six fields. cc and bcc may be present but empty.
func (r EmailRequest) Payload() (EmailPayload, error) {
	if r.FromEmail == nil || strings.TrimSpace(*r.FromEmail) == "" ||
		r.ToEmails == nil ||
		r.CcEmails == nil ||
		r.BccEmails == nil ||
		r.Subject == nil || strings.TrimSpace(*r.Subject) == "" ||
		r.Content == nil || strings.TrimSpace(*r.Content) == "" {
		return EmailPayload{}, ErrInvalidPayload
	}
	return EmailPayload{
		FromEmail: strings.TrimSpace(*r.FromEmail),
		ToEmails:  *r.ToEmails,
		CcEmails:  *r.CcEmails,
		BccEmails: *r.BccEmails,
		Subject:   *r.Subject,
		Content:   *r.Content,
	}, nil
}

type ScheduleSendRequest struct {
	InvoiceID       string `json:"-"`
	ScheduledSendAt string `json:"scheduledSendAt"`
	EmailRequest
}

// DocumentFile is an uploaded file as received from the client.
type DocumentFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

type UploadDocumentsRequest struct {
	InvoiceID  string
	InvoicePDF *DocumentFile
	ASPDF      *DocumentFile
}

// Document is a stored PDF ready to stream back.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

type SendEmailResult struct {
	MessageID string  `json:"messageId"`
	Invoice   Invoice `json:"invoice"`
}

type Service interface {
	List(context.Context, ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	Create(context.Context, InvoiceInput) (Invoice, error)
	Update(ctx context.Context, id string, input InvoiceInput) (Invoice, error)
	Delete(ctx context.Context, id string) error
	MarkSent(ctx context.Context, id string) (Invoice, error)
	LatestInvoiceNumber(ctx context.Context, toCompanyID string) (*int, error)

	ScheduleSend(context.Context, ScheduleSendRequest) (Invoice, error)
	CancelSchedule(ctx context.Context, id string) (Invoice, error)
	UploadDocuments(context.Context, UploadDocumentsRequest) (Invoice, error)
	GetDocument(ctx context.Context, id string, docType string) (Document, error)
	DeleteDocuments(ctx context.Context, id string) (Invoice, error)
	SendInvoiceEmail(ctx context.Context, id string, req EmailRequest) (SendEmailResult, error)
}

var (
	ErrInvalidID             = errors.New("invalid_invoice_id")
	ErrInvalidCompanyID      = errors.New("invalid_company_id")
	ErrMissingRequiredFields = errors.New("missing_required_fields")
	ErrInvalidDate           = errors.New("invalid_date")
	ErrInvalidPayload        = errors.New("invalid_email_payload")
	ErrInvalidSendAt         = errors.New("invalid_scheduled_send_at")
	ErrNotFound              = errors.New("invoice_not_found")
	ErrTemplateInvoice       = errors.New("template_invoice")
	ErrNoDocuments           = errors.New("no_stored_documents")
	ErrNoPendingSchedule     = errors.New("no_pending_schedule")
	ErrNoFiles               = errors.New("no_files")
	ErrNotPDF                = errors.New("not_pdf")
	ErrInvalidDocumentType   = errors.New("invalid_document_type")
	ErrDocumentNotFound      = errors.New("document_not_found")
	ErrInconsistentSchedule  = errors.New("inconsistent_schedule")
)
