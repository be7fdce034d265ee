package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/smallbiznis/invoicedesk/internal/documentstore"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"go.uber.org/zap"
)

// UploadDocuments stores whichever of the two PDFs were supplied. A document that
// was not resupplied keeps its previous key.
func (s *Service) UploadDocuments(ctx context.Context, req domain.UploadDocumentsRequest) (domain.Invoice, error) {
	invoiceID, err := parseID(req.InvoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if req.InvoicePDF == nil && req.ASPDF == nil {
		return domain.Invoice{}, domain.ErrNoFiles
	}
	for _, file := range []*domain.DocumentFile{req.InvoicePDF, req.ASPDF} {
		if file != nil && !isPDF(file) {
			return domain.Invoice{}, domain.ErrNotPDF
		}
	}

	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice.IsTemplate {
		return domain.Invoice{}, domain.ErrTemplateInvoice
	}

	uploads := []struct {
		file     *domain.DocumentFile
		kind     documentstore.Kind
		column   string
		previous *string
	}{
		{req.InvoicePDF, documentstore.KindInvoice, "invoice_pdf_key", invoice.InvoicePDFKey},
		{req.ASPDF, documentstore.KindAS, "as_pdf_key", invoice.ASPDFKey},
	}

	now := s.clock.Now()
	fields := map[string]any{}
	var replaced []string
	for _, upload := range uploads {
		if upload.file == nil {
			continue
		}
		key := documentstore.BuildKey(documentstore.KeyParams{
			InvoiceID:     invoice.ID.String(),
			Kind:          upload.kind,
			From:          invoice.FromLabel(),
			To:            invoice.ToLabel(),
			InvoiceNumber: invoice.InvoiceNumber,
			Date:          invoice.Date,
		})
		if err := s.store.Put(ctx, key, upload.file.Data, documentstore.ContentTypePDF); err != nil {
			return domain.Invoice{}, fmt.Errorf("store %s document: %w", upload.kind, err)
		}
		fields[upload.column] = key
		s.metrics.RecordDocumentStored(ctx, string(upload.kind))

		if upload.previous != nil && *upload.previous != "" && *upload.previous != key {
			replaced = append(replaced, *upload.previous)
		}
	}
	fields["documents_generated_at"] = now
	fields["updated_at"] = now

	if err := s.repo.UpdateFields(ctx, s.db, invoiceID, fields); err != nil {
		return domain.Invoice{}, err
	}

	// Replaced blobs go only once the row points at the new keys.
	for _, key := range replaced {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, documentstore.ErrNotFound) {
			s.log.Warn("invoice.documents.replace_cleanup_failed",
				zap.String("invoice_id", invoiceID.String()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}

	s.log.Info("invoice.documents.uploaded",
		zap.String("invoice_id", invoiceID.String()),
		zap.Bool("invoice_pdf", req.InvoicePDF != nil),
		zap.Bool("as_pdf", req.ASPDF != nil),
	)
	return s.reload(ctx, invoiceID)
}

func (s *Service) GetDocument(ctx context.Context, id string, docType string) (domain.Document, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Document{}, err
	}
	kind, ok := documentstore.ParseKind(docType)
	if !ok {
		return domain.Document{}, domain.ErrInvalidDocumentType
	}

	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return domain.Document{}, err
	}

	key := invoice.InvoicePDFKey
	if kind == documentstore.KindAS {
		key = invoice.ASPDFKey
	}
	if key == nil || strings.TrimSpace(*key) == "" {
		return domain.Document{}, domain.ErrDocumentNotFound
	}

	obj, err := s.store.Get(ctx, *key)
	if err != nil {
		if errors.Is(err, documentstore.ErrNotFound) {
			return domain.Document{}, domain.ErrDocumentNotFound
		}
		return domain.Document{}, err
	}

	return domain.Document{
		Filename:    documentstore.FilenameFromKey(*key, kind),
		ContentType: documentstore.ContentTypePDF,
		Data:        obj.Body,
	}, nil
}

// DeleteDocuments clears both keys even when the store could not delete a blob.
func (s *Service) DeleteDocuments(ctx context.Context, id string) (domain.Invoice, error) {
	invoiceID, err := parseID(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	invoice, err := s.load(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.deleteStoredDocuments(ctx, invoice)

	if err := s.repo.UpdateFields(ctx, s.db, invoiceID, map[string]any{
		"invoice_pdf_key":        nil,
		"as_pdf_key":             nil,
		"documents_generated_at": nil,
		"updated_at":             s.clock.Now(),
	}); err != nil {
		return domain.Invoice{}, err
	}

	s.log.Info("invoice.documents.deleted", zap.String("invoice_id", invoiceID.String()))
	return s.reload(ctx, invoiceID)
}

func isPDF(file *domain.DocumentFile) bool {
	contentType := strings.ToLower(strings.TrimSpace(file.ContentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == documentstore.ContentTypePDF {
		return true
	}
	return strings.EqualFold(path.Ext(file.Filename), ".pdf")
}
