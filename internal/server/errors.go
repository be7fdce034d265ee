package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/invoicedesk/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/authorization"
	companydomain "github.com/smallbiznis/invoicedesk/internal/company/domain"
	"github.com/smallbiznis/invoicedesk/internal/documentstore"
	emailsenderdomain "github.com/smallbiznis/invoicedesk/internal/emailsender/domain"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
)

type errorResponse struct {
	Error string `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrFileTooLarge       = errors.New("file_too_large")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// RequestError carries a caller-facing message for a 400 response.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func (e *RequestError) Unwrap() error { return ErrInvalidRequest }

func badRequest(message string) error {
	return &RequestError{Message: message}
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, message := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: message})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

type errorRule struct {
	target  error
	status  int
	message string
}

// errorRules is checked in order; the first errors.Is match wins.
var errorRules = []errorRule{
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{apikeydomain.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{authorization.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{authorization.ErrInvalidObject, http.StatusForbidden, "Forbidden"},
	{authorization.ErrInvalidAction, http.StatusForbidden, "Forbidden"},
	{ErrRateLimited, http.StatusTooManyRequests, "Too many requests, please try again later"},
	{ErrFileTooLarge, http.StatusBadRequest, "File too large"},

	{invoicedomain.ErrInvalidID, http.StatusBadRequest, "Invalid invoice ID"},
	{invoicedomain.ErrInvalidCompanyID, http.StatusBadRequest, "Invalid company ID"},
	{invoicedomain.ErrMissingRequiredFields, http.StatusBadRequest, "Invoice number, date, subtotal, taxRate, taxAmount, and total are required"},
	{invoicedomain.ErrInvalidDate, http.StatusBadRequest, "Invalid date"},
	{invoicedomain.ErrInvalidPayload, http.StatusBadRequest, "fromEmail, toEmails, ccEmails, bccEmails, subject, and content are required"},
	{invoicedomain.ErrInvalidSendAt, http.StatusBadRequest, "scheduledSendAt must be a valid date in the future"},
	{invoicedomain.ErrTemplateInvoice, http.StatusBadRequest, "Template invoices cannot be sent or scheduled"},
	{invoicedomain.ErrNoDocuments, http.StatusBadRequest, "No stored documents for this invoice. Please generate and save documents first."},
	{invoicedomain.ErrNoPendingSchedule, http.StatusBadRequest, "No pending schedule to cancel"},
	{invoicedomain.ErrNoFiles, http.StatusBadRequest, "At least one PDF file (invoicePdf or asPdf) is required"},
	{invoicedomain.ErrNotPDF, http.StatusBadRequest, "Only PDF files are allowed"},
	{invoicedomain.ErrInvalidDocumentType, http.StatusBadRequest, "Invalid document type. Use 'invoice' or 'as'"},
	{invoicedomain.ErrDocumentNotFound, http.StatusNotFound, "Document not found"},
	{invoicedomain.ErrNotFound, http.StatusNotFound, "Invoice not found"},

	{mailer.ErrMissingFields, http.StatusBadRequest, "fromEmail, toEmails, subject, and content are required"},
	{mailer.ErrNoRecipients, http.StatusBadRequest, "At least one recipient email is required"},
	{mailer.ErrNotConfigured, http.StatusServiceUnavailable, "Email service is not configured"},
	{documentstore.ErrNotConfigured, http.StatusServiceUnavailable, "Document storage is not configured"},

	{emailsenderdomain.ErrInvalidID, http.StatusBadRequest, "Invalid email ID"},
	{emailsenderdomain.ErrEmailRequired, http.StatusBadRequest, "Email is required"},
	{emailsenderdomain.ErrInvalidEmail, http.StatusBadRequest, "Invalid email format"},
	{emailsenderdomain.ErrAlreadyExists, http.StatusConflict, "Email already exists"},
	{emailsenderdomain.ErrNotFound, http.StatusNotFound, "Email sender not found"},

	{companydomain.ErrInvalidID, http.StatusBadRequest, "Invalid company ID"},
	{companydomain.ErrInvalidName, http.StatusBadRequest, "Company name is required"},
	{companydomain.ErrInvalidEmail, http.StatusBadRequest, "Invalid email format"},
	{companydomain.ErrNotFound, http.StatusNotFound, "Company not found"},

	{apikeydomain.ErrInvalidName, http.StatusBadRequest, "API key name is required"},
	{apikeydomain.ErrInvalidRole, http.StatusBadRequest, "Invalid API key role"},
	{apikeydomain.ErrInvalidKeyID, http.StatusBadRequest, "Invalid API key ID"},
	{apikeydomain.ErrNotFound, http.StatusNotFound, "API key not found"},

	{auditdomain.ErrInvalidPageToken, http.StatusBadRequest, "Invalid page token"},
	{auditdomain.ErrInvalidTimeRange, http.StatusBadRequest, "startAt must be before endAt"},

	{ErrServiceUnavailable, http.StatusServiceUnavailable, "Service unavailable"},
}

func mapError(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, "Internal server error"
	}

	// Errors that already carry the caller-facing text.
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, reqErr.Message
	}
	var senderErr *mailer.SenderError
	if errors.As(err, &senderErr) {
		return http.StatusBadRequest, senderErr.Error()
	}
	var addrErr *mailer.AddressError
	if errors.As(err, &addrErr) {
		return http.StatusBadRequest, addrErr.Error()
	}
	var storeCfgErr *documentstore.ConfigError
	if errors.As(err, &storeCfgErr) {
		return http.StatusServiceUnavailable, storeCfgErr.Error()
	}
	var mailCfgErr *mailer.ConfigError
	if errors.As(err, &mailCfgErr) {
		return http.StatusServiceUnavailable, mailCfgErr.Error()
	}

	for _, rule := range errorRules {
		if errors.Is(err, rule.target) {
			return rule.status, rule.message
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

// classifyErrorForLog returns the error type and code fields of the request log.
func classifyErrorForLog(err error) (string, string) {
	status, _ := mapError(err)
	code := "internal_error"
	for target := err; target != nil; target = errors.Unwrap(target) {
		code = target.Error()
	}
	switch {
	case status == http.StatusUnauthorized:
		return "unauthorized", code
	case status == http.StatusForbidden:
		return "forbidden", code
	case status == http.StatusNotFound:
		return "not_found", code
	case status == http.StatusConflict:
		return "conflict", code
	case status == http.StatusTooManyRequests:
		return "rate_limited", code
	case status == http.StatusServiceUnavailable:
		return "service_unavailable", code
	case status < http.StatusInternalServerError:
		return "validation_error", code
	default:
		return "internal_error", "internal_error"
	}
}
