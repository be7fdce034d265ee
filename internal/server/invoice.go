package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
)

func (s *Server) ListInvoices(c *gin.Context) {
	var query struct {
		pagination.Pagination
		ToCompanyID     string `form:"toCompanyId"`
		ScheduledStatus string `form:"scheduledStatus"`
		IsTemplate      string `form:"isTemplate"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, badRequest("Invalid query parameters"))
		return
	}

	isTemplate, err := parseOptionalBool(query.IsTemplate)
	if err != nil {
		AbortWithError(c, badRequest("isTemplate must be true or false"))
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		PageToken:       query.PageToken,
		PageSize:        query.PageSize,
		ToCompanyID:     strings.TrimSpace(query.ToCompanyID),
		ScheduledStatus: strings.TrimSpace(query.ScheduledStatus),
		IsTemplate:      isTemplate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Invoices retrieved successfully",
		"invoices":  resp.Invoices,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Invoice retrieved successfully",
		"invoice": invoice,
	})
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.InvoiceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest("Invalid request body"))
		return
	}

	invoice, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Invoice created successfully",
		"invoice": invoice,
	})
}

func (s *Server) UpdateInvoice(c *gin.Context) {
	var req invoicedomain.InvoiceInput
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest("Invalid request body"))
		return
	}

	invoice, err := s.invoiceSvc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Invoice updated successfully",
		"invoice": invoice,
	})
}

func (s *Server) DeleteInvoice(c *gin.Context) {
	if err := s.invoiceSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionInvoiceDelete, auditdomain.TargetInvoice, c.Param("id"), nil)

	c.JSON(http.StatusOK, gin.H{"message": "Invoice deleted successfully"})
}

func (s *Server) MarkInvoiceSent(c *gin.Context) {
	invoice, err := s.invoiceSvc.MarkSent(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Invoice marked as sent successfully",
		"invoice": invoice,
	})
}

func (s *Server) GetLatestInvoiceNumber(c *gin.Context) {
	latest, err := s.invoiceSvc.LatestInvoiceNumber(c.Request.Context(), c.Param("toCompanyId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":             "Latest invoice number retrieved successfully",
		"latestInvoiceNumber": latest,
	})
}
