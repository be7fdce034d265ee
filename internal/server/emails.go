package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"github.com/smallbiznis/invoicedesk/internal/observability/logger"
	"go.uber.org/zap"
)

const maxTestAttachments = 10

type emailSenderRequest struct {
	Email string `json:"email"`
}

func (s *Server) ListEmailSenders(c *gin.Context) {
	senders, err := s.emailSenderSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Email senders retrieved successfully",
		"emails":  senders,
	})
}

func (s *Server) GetEmailSender(c *gin.Context) {
	sender, err := s.emailSenderSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Email sender retrieved successfully",
		"email":   sender,
	})
}

func (s *Server) CreateEmailSender(c *gin.Context) {
	var req emailSenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest("Invalid request body"))
		return
	}

	sender, err := s.emailSenderSvc.Create(c.Request.Context(), req.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionEmailSenderCreate, auditdomain.TargetEmailSender, sender.ID.String(), map[string]any{
		"email": sender.Email,
	})

	c.JSON(http.StatusCreated, gin.H{
		"message": "Email sender created successfully",
		"email":   sender,
	})
}

func (s *Server) UpdateEmailSender(c *gin.Context) {
	var req emailSenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest("Invalid request body"))
		return
	}

	sender, err := s.emailSenderSvc.Update(c.Request.Context(), c.Param("id"), req.Email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Email sender updated successfully",
		"email":   sender,
	})
}

func (s *Server) DeleteEmailSender(c *gin.Context) {
	if err := s.emailSenderSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionEmailSenderDelete, auditdomain.TargetEmailSender, c.Param("id"), nil)

	c.JSON(http.StatusOK, gin.H{"message": "Email sender deleted successfully"})
}

type testEmailRequest struct {
	FromEmail string              `json:"fromEmail"`
	ToEmails  *mailer.AddressList `json:"toEmails"`
	CcEmails  mailer.AddressList  `json:"ccEmails"`
	BccEmails mailer.AddressList  `json:"bccEmails"`
	Subject   string              `json:"subject"`
	Content   string              `json:"content"`

	attachments []mailer.Attachment
}

// SendTestEmail accepts multipart form fields with optional `attachments` files, or a JSON body.
func (s *Server) SendTestEmail(c *gin.Context) {
	req, err := s.bindTestEmail(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if strings.TrimSpace(req.FromEmail) == "" || req.ToEmails == nil ||
		strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Content) == "" {
		AbortWithError(c, mailer.ErrMissingFields)
		return
	}
	if len(*req.ToEmails) == 0 {
		AbortWithError(c, mailer.ErrNoRecipients)
		return
	}

	msg := mailer.Message{
		From:        req.FromEmail,
		To:          *req.ToEmails,
		Cc:          req.CcEmails,
		Bcc:         req.BccEmails,
		Subject:     req.Subject,
		Content:     req.Content,
		IsHTML:      false,
		Attachments: req.attachments,
	}
	if err := msg.ValidateAddresses(); err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	messageID, err := s.sender.Send(ctx, msg)
	if err != nil {
		s.obsMetrics.RecordEmailDispatched(ctx, "test", "failed")
		logger.FromContext(ctx).Warn("email.test.failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}
	s.obsMetrics.RecordEmailDispatched(ctx, "test", "sent")

	c.JSON(http.StatusOK, gin.H{
		"message":   "Test email sent successfully",
		"messageId": messageID,
	})
}

func (s *Server) bindTestEmail(c *gin.Context) (testEmailRequest, error) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req testEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return testEmailRequest{}, badRequest("Invalid request body")
		}
		return req, nil
	}

	limit := s.maxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxTestAttachments*limit+multipartOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		return testEmailRequest{}, badRequest("Invalid multipart form")
	}

	req := testEmailRequest{
		FromEmail: c.PostForm("fromEmail"),
		CcEmails:  mailer.ParseAddressList(c.PostForm("ccEmails")),
		BccEmails: mailer.ParseAddressList(c.PostForm("bccEmails")),
		Subject:   c.PostForm("subject"),
		Content:   c.PostForm("content"),
	}

	if raw := c.PostForm("toEmails"); strings.TrimSpace(raw) != "" {
		to := mailer.AddressList(mailer.ParseAddressList(raw))
		req.ToEmails = &to
	}

	files := form.File["attachments"]
	if len(files) > maxTestAttachments {
		return testEmailRequest{}, badRequest("At most 10 attachments are allowed")
	}
	for _, header := range files {
		if header.Size > limit {
			return testEmailRequest{}, ErrFileTooLarge
		}
		data, err := readMultipartFile(header)
		if err != nil {
			return testEmailRequest{}, err
		}
		req.attachments = append(req.attachments, mailer.Attachment{
			Filename:    header.Filename,
			Content:     data,
			ContentType: header.Header.Get("Content-Type"),
		})
	}
	return req, nil
}
