package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	apikeydomain "github.com/smallbiznis/invoicedesk/internal/apikey/domain"
)

type createAPIKeyRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "API keys retrieved successfully",
		"apiKeys": keys,
	})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, badRequest("Invalid request body"))
		return
	}

	secret, err := s.apiKeySvc.Create(c.Request.Context(), apikeydomain.CreateRequest{
		Name: strings.TrimSpace(req.Name),
		Role: strings.TrimSpace(req.Role),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionAPIKeyCreate, auditdomain.TargetAPIKey, secret.KeyID, map[string]any{
		"name": strings.TrimSpace(req.Name),
		"role": strings.TrimSpace(req.Role),
	})

	c.JSON(http.StatusCreated, gin.H{
		"message": "API key created successfully",
		"apiKey":  secret,
	})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	if err := s.apiKeySvc.Revoke(c.Request.Context(), c.Param("keyId")); err != nil {
		AbortWithError(c, err)
		return
	}
	s.recordAudit(c, auditdomain.ActionAPIKeyRevoke, auditdomain.TargetAPIKey, c.Param("keyId"), nil)

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked successfully"})
}
