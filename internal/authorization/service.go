package authorization

import (
	"context"
	"errors"
)

const (
	ObjectInvoice     = "invoice"
	ObjectDocument    = "document"
	ObjectDelivery    = "delivery"
	ObjectEmailSender = "email_sender"
	ObjectCompany     = "company"
	ObjectAPIKey      = "api_key"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionView   = "view"
	ActionManage = "manage"
	ActionSend   = "send"
)

// Service decides whether an API key may perform action on object.
type Service interface {
	Authorize(ctx context.Context, keyID string, role string, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
