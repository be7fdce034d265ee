// Package delivery turns an invoice and an email payload into a ready-to-send message.
// Immediate sends and the scheduled sweep both go through Builder so they render identically.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/invoicedesk/internal/datevars"
	"github.com/smallbiznis/invoicedesk/internal/documentstore"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
)

// Sender dispatches a prepared message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) (string, error)
}

type Builder struct {
	store documentstore.Store
}

func NewBuilder(store documentstore.Store) *Builder {
	return &Builder{store: store}
}

// Attachments fetches every stored document of the invoice, invoice PDF first.
func (b *Builder) Attachments(ctx context.Context, invoice *domain.Invoice) ([]mailer.Attachment, error) {
	var attachments []mailer.Attachment
	docs := []struct {
		key  *string
		kind documentstore.Kind
	}{
		{invoice.InvoicePDFKey, documentstore.KindInvoice},
		{invoice.ASPDFKey, documentstore.KindAS},
	}
	for _, doc := range docs {
		if doc.key == nil || strings.TrimSpace(*doc.key) == "" {
			continue
		}
		obj, err := b.store.Get(ctx, *doc.key)
		if err != nil {
			return nil, fmt.Errorf("fetch %s document: %w", doc.kind, err)
		}
		attachments = append(attachments, mailer.Attachment{
			Filename:    documentstore.FilenameFromKey(*doc.key, doc.kind),
			Content:     obj.Body,
			ContentType: documentstore.ContentTypePDF,
		})
	}
	return attachments, nil
}

// Build renders subject and content with the invoice date and attaches the stored documents.
func (b *Builder) Build(ctx context.Context, invoice *domain.Invoice, payload domain.EmailPayload) (mailer.Message, error) {
	attachments, err := b.Attachments(ctx, invoice)
	if err != nil {
		return mailer.Message{}, err
	}

	date := invoice.DateString()
	msg := mailer.Message{
		From:        mailer.NormalizeAddress(payload.FromEmail),
		To:          mailer.NormalizeAddresses(payload.ToEmails),
		Cc:          mailer.NormalizeAddresses(payload.CcEmails),
		Bcc:         mailer.NormalizeAddresses(payload.BccEmails),
		Subject:     datevars.Replace(payload.Subject, date),
		Content:     datevars.Replace(payload.Content, date),
		IsHTML:      false,
		Attachments: attachments,
	}
	if len(msg.Cc) == 0 {
		msg.Cc = nil
	}
	if len(msg.Bcc) == 0 {
		msg.Bcc = nil
	}
	return msg, nil
}
