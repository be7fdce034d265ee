package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

const (
	formFieldInvoicePDF = "invoicePdf"
	formFieldASPDF      = "asPdf"

	defaultMaxUploadBytes int64 = 10 << 20
	multipartOverhead     int64 = 1 << 20
)

func (s *Server) UploadInvoiceDocuments(c *gin.Context) {
	limit := s.maxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*limit+multipartOverhead)

	invoicePDF, err := readFormFile(c, formFieldInvoicePDF, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	asPDF, err := readFormFile(c, formFieldASPDF, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.UploadDocuments(c.Request.Context(), invoicedomain.UploadDocumentsRequest{
		InvoiceID:  c.Param("id"),
		InvoicePDF: invoicePDF,
		ASPDF:      asPDF,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionInvoiceDocumentsUpload, auditdomain.TargetInvoice, invoice.ID.String(), map[string]any{
		"invoicePdf": invoicePDF != nil,
		"asPdf":      asPDF != nil,
	})

	c.JSON(http.StatusOK, gin.H{
		"message": "Documents uploaded successfully",
		"invoice": invoice,
	})
}

func (s *Server) GetInvoiceDocument(c *gin.Context) {
	doc, err := s.invoiceSvc.GetDocument(c.Request.Context(), c.Param("id"), c.Param("type"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	c.Header("Content-Length", strconv.Itoa(len(doc.Data)))
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

func (s *Server) DeleteInvoiceDocuments(c *gin.Context) {
	invoice, err := s.invoiceSvc.DeleteDocuments(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionInvoiceDocumentsDelete, auditdomain.TargetInvoice, invoice.ID.String(), nil)

	c.JSON(http.StatusOK, gin.H{
		"message": "Documents deleted successfully",
		"invoice": invoice,
	})
}

func (s *Server) maxUploadBytes() int64 {
	if s.cfg.HTTP.MaxUploadBytes > 0 {
		return s.cfg.HTTP.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// readFormFile returns nil when the field is absent.
func readFormFile(c *gin.Context, field string, limit int64) (*invoicedomain.DocumentFile, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrFileTooLarge
		}
		return nil, badRequest("Invalid multipart form")
	}
	if header.Size > limit {
		return nil, ErrFileTooLarge
	}

	data, err := readMultipartFile(header)
	if err != nil {
		return nil, err
	}
	return &invoicedomain.DocumentFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
