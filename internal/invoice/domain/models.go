// Package domain contains persistence models for invoices and their delivery schedule.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	companydomain "github.com/smallbiznis/invoicedesk/internal/company/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"gorm.io/datatypes"
)

// ScheduledStatus is the persisted column behind ScheduleState.
type ScheduledStatus string

const (
	ScheduledStatusPending   ScheduledStatus = "pending"
	ScheduledStatusSent      ScheduledStatus = "sent"
	ScheduledStatusCancelled ScheduledStatus = "cancelled"
	ScheduledStatusFailed    ScheduledStatus = "failed"
)

// Invoice is an invoice record plus its document linkage and scheduling working set.
type Invoice struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceNumber int             `gorm:"not null;index" json:"invoiceNumber"`
	Date          time.Time       `gorm:"not null" json:"date"`
	Subtotal      decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"subtotal"`
	TaxRate       decimal.Decimal `gorm:"type:numeric(7,4);not null;default:0" json:"taxRate"`
	TaxAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"taxAmount"`
	Total         decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"total"`
	Items         *datatypes.JSON `json:"items,omitempty"`
	IsTemplate    bool            `gorm:"not null;default:false" json:"isTemplate"`
	TemplateName  *string         `gorm:"type:text" json:"templateName"`
	Name          *string         `gorm:"type:text" json:"name"`
	Description   *string         `gorm:"type:text" json:"description"`
	Sent          bool            `gorm:"not null;default:false" json:"sent"`
	HasASDocument bool            `gorm:"column:has_as_document;not null;default:false" json:"hasASDocument"`

	FromCompanyID *snowflake.ID          `gorm:"index" json:"fromCompanyId"`
	ToCompanyID   *snowflake.ID          `gorm:"index" json:"toCompanyId"`
	FromCompany   *companydomain.Company `gorm:"foreignKey:FromCompanyID" json:"fromCompany,omitempty"`
	ToCompany     *companydomain.Company `gorm:"foreignKey:ToCompanyID" json:"toCompany,omitempty"`

	InvoicePDFKey        *string    `gorm:"column:invoice_pdf_key;type:text" json:"invoicePdfKey"`
	ASPDFKey             *string    `gorm:"column:as_pdf_key;type:text" json:"asPdfKey"`
	DocumentsGeneratedAt *time.Time `json:"documentsGeneratedAt"`

	ScheduledSendAt    *time.Time       `gorm:"index" json:"scheduledSendAt"`
	ScheduledStatus    *ScheduledStatus `gorm:"type:text;index" json:"scheduledStatus"`
	ScheduledEmailData *datatypes.JSON  `json:"scheduledEmailData"`
	ScheduledSentAt    *time.Time       `json:"scheduledSentAt"`
	ScheduledError     *string          `gorm:"type:text" json:"scheduledError"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// HasDocuments reports whether at least one document key is stored.
func (i *Invoice) HasDocuments() bool {
	return hasKey(i.InvoicePDFKey) || hasKey(i.ASPDFKey)
}

// DateString is the invoice date as YYYY-MM-DD, the form used for date substitution.
func (i *Invoice) DateString() string {
	if i.Date.IsZero() {
		return ""
	}
	return i.Date.UTC().Format("2006-01-02")
}

// FromLabel and ToLabel name the counterparties in document keys.
func (i *Invoice) FromLabel() string { return i.FromCompany.Label() }

func (i *Invoice) ToLabel() string { return i.ToCompany.Label() }

func hasKey(key *string) bool {
	return key != nil && strings.TrimSpace(*key) != ""
}

// EmailPayload is the snapshot stored in scheduled_email_data.
type EmailPayload struct {
	FromEmail string             `json:"fromEmail"`
	ToEmails  mailer.AddressList `json:"toEmails"`
	CcEmails  mailer.AddressList `json:"ccEmails"`
	BccEmails mailer.AddressList `json:"bccEmails"`
	Subject   string             `json:"subject"`
	Content   string             `json:"content"`
}

// Complete reports whether the fields required for dispatch are present.
// An empty recipient array counts as present.
func (p EmailPayload) Complete() bool {
	return strings.TrimSpace(p.FromEmail) != "" &&
		p.ToEmails != nil &&
		strings.TrimSpace(p.Subject) != "" &&
		strings.TrimSpace(p.Content) != ""
}

// EncodePayload serializes a payload snapshot for storage. Missing cc/bcc are stored as [].
func EncodePayload(p EmailPayload) (datatypes.JSON, error) {
	if p.CcEmails == nil {
		p.CcEmails = mailer.AddressList{}
	}
	if p.BccEmails == nil {
		p.BccEmails = mailer.AddressList{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodePayload reads a stored snapshot. A NULL column yields (nil, nil).
func DecodePayload(raw *datatypes.JSON) (*EmailPayload, error) {
	if raw == nil || len(*raw) == 0 || string(*raw) == "null" {
		return nil, nil
	}
	var p EmailPayload
	if err := json.Unmarshal(*raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
