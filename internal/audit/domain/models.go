package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeAPIKey ActorType = "api_key"
)

const (
	TargetInvoice       = "invoice"
	TargetEmailSender   = "email_sender"
	TargetAPIKey        = "api_key"
	TargetAuthorization = "authorization"
)

const (
	ActionInvoiceDocumentsUpload = "invoice.documents.upload"
	ActionInvoiceDocumentsDelete = "invoice.documents.delete"
	ActionInvoiceScheduleSend    = "invoice.schedule.create"
	ActionInvoiceScheduleCancel  = "invoice.schedule.cancel"
	ActionInvoiceScheduleSent    = "invoice.schedule.sent"
	ActionInvoiceScheduleFailed  = "invoice.schedule.failed"
	ActionInvoiceEmailSend       = "invoice.email.send"
	ActionInvoiceDelete          = "invoice.delete"
	ActionEmailSenderCreate      = "email_sender.create"
	ActionEmailSenderDelete      = "email_sender.delete"
	ActionAPIKeyCreate           = "api_key.create"
	ActionAPIKeyRevoke           = "api_key.revoke"
	ActionAuthorizationDenied    = "authorization.denied"
)

// AuditLog is one recorded state change.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"type:text;not null;index" json:"actorType"`
	ActorID    *string           `gorm:"type:text" json:"actorId,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"targetType"`
	TargetID   *string           `gorm:"type:text;index" json:"targetId,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"createdAt"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
