package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
)

func (s *Server) ScheduleSend(c *gin.Context) {
	var req invoicedomain.ScheduleSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest("Invalid request body"))
		return
	}
	req.InvoiceID = c.Param("id")

	invoice, err := s.invoiceSvc.ScheduleSend(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionInvoiceScheduleSend, auditdomain.TargetInvoice, invoice.ID.String(), map[string]any{
		"scheduledSendAt": req.ScheduledSendAt,
	})

	c.JSON(http.StatusOK, gin.H{
		"message": "Invoice email scheduled successfully",
		"invoice": invoice,
	})
}

func (s *Server) CancelSchedule(c *gin.Context) {
	invoice, err := s.invoiceSvc.CancelSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionInvoiceScheduleCancel, auditdomain.TargetInvoice, invoice.ID.String(), nil)

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduled email cancelled successfully",
		"invoice": invoice,
	})
}

func (s *Server) SendInvoiceEmail(c *gin.Context) {
	var req invoicedomain.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest("Invalid request body"))
		return
	}

	result, err := s.invoiceSvc.SendInvoiceEmail(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionInvoiceEmailSend, auditdomain.TargetInvoice, result.Invoice.ID.String(), map[string]any{
		"messageId": result.MessageID,
	})

	c.JSON(http.StatusOK, gin.H{
		"message":   "Invoice email sent successfully",
		"messageId": result.MessageID,
		"invoice":   result.Invoice,
	})
}
