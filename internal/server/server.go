package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/invoicedesk/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/authorization"
	companydomain "github.com/smallbiznis/invoicedesk/internal/company/domain"
	"github.com/smallbiznis/invoicedesk/internal/config"
	emailsenderdomain "github.com/smallbiznis/invoicedesk/internal/emailsender/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/delivery"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/observability"
	obsmiddleware "github.com/smallbiznis/invoicedesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/invoicedesk/internal/observability/tracing"
	"github.com/smallbiznis/invoicedesk/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(CORS(cfg.HTTP.CORSOrigins))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http.server.start", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	apiKeySvc      apikeydomain.Service
	companySvc     companydomain.Service
	emailSenderSvc emailsenderdomain.Service
	invoiceSvc     invoicedomain.Service
	sender         delivery.Sender
	sendLimiter    *ratelimit.SendLimiter
	obsMetrics     *obsmetrics.Metrics
	auditSvc       auditdomain.Service
	authzSvc       authorization.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	APIKeySvc      apikeydomain.Service
	CompanySvc     companydomain.Service
	EmailSenderSvc emailsenderdomain.Service
	InvoiceSvc     invoicedomain.Service
	Sender         delivery.Sender
	SendLimiter    *ratelimit.SendLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics    `optional:"true"`
	AuditSvc       auditdomain.Service    `optional:"true"`
	AuthzSvc       authorization.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		apiKeySvc:      p.APIKeySvc,
		companySvc:     p.CompanySvc,
		emailSenderSvc: p.EmailSenderSvc,
		invoiceSvc:     p.InvoiceSvc,
		sender:         p.Sender,
		sendLimiter:    p.SendLimiter,
		obsMetrics:     p.ObsMetrics,
		auditSvc:       p.AuditSvc,
		authzSvc:       p.AuthzSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.APIKeyRequired())

	// -------- Invoices --------
	api.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.ListInvoices)
	api.GET("/invoices/latest-number/:toCompanyId", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.GetLatestInvoiceNumber)
	api.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionView), s.GetInvoiceByID)
	api.POST("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionManage), s.CreateInvoice)
	api.PUT("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionManage), s.UpdateInvoice)
	api.DELETE("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionManage), s.DeleteInvoice)
	api.PATCH("/invoices/:id/sent", s.authorize(authorization.ObjectInvoice, authorization.ActionManage), s.MarkInvoiceSent)

	// -------- Documents --------
	api.POST("/invoices/:id/documents", s.authorize(authorization.ObjectDocument, authorization.ActionManage), s.UploadInvoiceDocuments)
	api.GET("/invoices/:id/documents/:type", s.authorize(authorization.ObjectDocument, authorization.ActionView), s.GetInvoiceDocument)
	api.DELETE("/invoices/:id/documents", s.authorize(authorization.ObjectDocument, authorization.ActionManage), s.DeleteInvoiceDocuments)

	// -------- Delivery --------
	api.POST("/invoices/:id/send-email", s.authorize(authorization.ObjectDelivery, authorization.ActionSend), s.SendRateLimit("send_email"), s.SendInvoiceEmail)
	api.POST("/invoices/:id/schedule-send", s.authorize(authorization.ObjectDelivery, authorization.ActionManage), s.ScheduleSend)
	api.PATCH("/invoices/:id/cancel-schedule", s.authorize(authorization.ObjectDelivery, authorization.ActionManage), s.CancelSchedule)

	// -------- Email senders --------
	api.GET("/emails", s.authorize(authorization.ObjectEmailSender, authorization.ActionView), s.ListEmailSenders)
	api.POST("/emails", s.authorize(authorization.ObjectEmailSender, authorization.ActionManage), s.CreateEmailSender)
	api.POST("/emails/test", s.authorize(authorization.ObjectEmailSender, authorization.ActionSend), s.SendRateLimit("test_email"), s.SendTestEmail)
	api.GET("/emails/:id", s.authorize(authorization.ObjectEmailSender, authorization.ActionView), s.GetEmailSender)
	api.PUT("/emails/:id", s.authorize(authorization.ObjectEmailSender, authorization.ActionManage), s.UpdateEmailSender)
	api.DELETE("/emails/:id", s.authorize(authorization.ObjectEmailSender, authorization.ActionManage), s.DeleteEmailSender)

	// -------- Companies --------
	api.GET("/companies", s.authorize(authorization.ObjectCompany, authorization.ActionView), s.ListCompanies)
	api.POST("/companies", s.authorize(authorization.ObjectCompany, authorization.ActionManage), s.CreateCompany)
	api.GET("/companies/:id", s.authorize(authorization.ObjectCompany, authorization.ActionView), s.GetCompanyByID)

	// -------- API keys --------
	api.GET("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionView), s.ListAPIKeys)
	api.POST("/api-keys", s.authorize(authorization.ObjectAPIKey, authorization.ActionManage), s.CreateAPIKey)
	api.POST("/api-keys/:keyId/revoke", s.authorize(authorization.ObjectAPIKey, authorization.ActionManage), s.RevokeAPIKey)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Not found"})
	})
}
