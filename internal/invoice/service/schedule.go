package service

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"go.uber.org/zap"
)

// ScheduleSend stores a pending schedule. Nothing is sent here; the sweep picks it up.
func (s *Service) ScheduleSend(ctx context.Context, req domain.ScheduleSendRequest) (domain.Invoice, error) {
	invoiceID, err := parseID(req.InvoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	payload, err := req.Payload()
	if err != nil {
		return domain.Invoice{}, err
	}
	sendAt, err := parseSendAt(req.ScheduledSendAt)
	if err != nil {
		return domain.Invoice{}, err
	}
	now := s.clock.Now()
	if !sendAt.After(now) {
		return domain.Invoice{}, domain.ErrInvalidSendAt
	}

	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.IsTemplate {
		return domain.Invoice{}, domain.ErrTemplateInvoice
	}
	if !invoice.HasDocuments() {
		return domain.Invoice{}, domain.ErrNoDocuments
	}

	data, err := domain.EncodePayload(payload)
	if err != nil {
		return domain.Invoice{}, err
	}

	if err := s.repo.UpdateFields(ctx, s.db, invoiceID, map[string]any{
		"scheduled_send_at":    sendAt,
		"scheduled_status":     string(domain.ScheduledStatusPending),
		"scheduled_email_data": data,
		"scheduled_sent_at":    nil,
		"scheduled_error":      nil,
		"updated_at":           now,
	}); err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordScheduleTransition(ctx, string(domain.ScheduledStatusPending))
	s.log.Info("invoice.schedule.pending",
		zap.String("invoice_id", invoiceID.String()),
		zap.Time("send_at", sendAt),
		zap.Int("to_count", len(payload.ToEmails)),
	)
	return s.reload(ctx, invoiceID)
}

// CancelSchedule only applies to a pending schedule. scheduled_error is left as is.
func (s *Service) CancelSchedule(ctx context.Context, id string) (domain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !invoice.IsPending() {
		return domain.Invoice{}, domain.ErrNoPendingSchedule
	}

	if err := s.repo.UpdateFields(ctx, s.db, invoiceID, map[string]any{
		"scheduled_status":     string(domain.ScheduledStatusCancelled),
		"scheduled_send_at":    nil,
		"scheduled_email_data": nil,
		"updated_at":           s.clock.Now(),
	}); err != nil {
		return domain.Invoice{}, err
	}

	s.metrics.RecordScheduleTransition(ctx, string(domain.ScheduledStatusCancelled))
	s.log.Info("invoice.schedule.cancelled", zap.String("invoice_id", invoiceID.String()))
	return s.reload(ctx, invoiceID)
}

// SendInvoiceEmail sends immediately, once, with the stored documents attached.
// It does not coordinate with a pending schedule for the same invoice.
func (s *Service) SendInvoiceEmail(ctx context.Context, id string, req domain.EmailRequest) (domain.SendEmailResult, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.SendEmailResult{}, err
	}
	payload, err := req.Payload()
	if err != nil {
		return domain.SendEmailResult{}, err
	}
	if err := validateAddresses(payload); err != nil {
		return domain.SendEmailResult{}, err
	}

	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return domain.SendEmailResult{}, err
	}
	if !invoice.HasDocuments() {
		return domain.SendEmailResult{}, domain.ErrNoDocuments
	}

	msg, err := s.builder.Build(ctx, invoice, payload)
	if err != nil {
		return domain.SendEmailResult{}, err
	}

	messageID, err := s.sender.Send(ctx, msg)
	if err != nil {
		s.metrics.RecordEmailDispatched(ctx, "immediate", "failed")
		s.log.Warn("invoice.email.failed",
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err),
		)
		return domain.SendEmailResult{}, err
	}
	s.metrics.RecordEmailDispatched(ctx, "immediate", "sent")

	if err := s.repo.UpdateFields(ctx, s.db, invoiceID, map[string]any{
		"sent":       true,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return domain.SendEmailResult{}, err
	}

	s.log.Info("invoice.email.sent",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("message_id", messageID),
		zap.Int("attachments", len(msg.Attachments)),
	)

	updated, err := s.reload(ctx, invoiceID)
	if err != nil {
		return domain.SendEmailResult{}, err
	}
	return domain.SendEmailResult{MessageID: messageID, Invoice: updated}, nil
}

// parseSendAt accepts RFC3339 or a calendar date, read as midnight UTC.
func parseSendAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, domain.ErrInvalidSendAt
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, domain.ErrInvalidSendAt
}

func validateAddresses(payload domain.EmailPayload) error {
	return mailer.Message{
		From: payload.FromEmail,
		To:   payload.ToEmails,
		Cc:   payload.CcEmails,
		Bcc:  payload.BccEmails,
	}.ValidateAddresses()
}
