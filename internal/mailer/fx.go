package mailer

import (
	"strings"

	"github.com/smallbiznis/invoicedesk/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("mailer",
	fx.Provide(NewFromConfig),
	fx.Provide(NewDispatcher),
)

// NewFromConfig selects the provider named by EMAIL_PROVIDER.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	switch strings.ToLower(strings.TrimSpace(cfg.Email.Provider)) {
	case "smtp":
		if strings.TrimSpace(cfg.Email.SMTPHost) == "" {
			return unconfiguredProvider{reason: "SMTP is not configured. Please set SMTP_HOST in your environment."}
		}
		return NewSMTPProvider(SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
		})
	case "noop", "none":
		return NewNoOpProvider(log)
	default:
		if strings.TrimSpace(cfg.Email.ResendAPIKey) == "" {
			return unconfiguredProvider{reason: "Resend API key is required. Please set RESEND_API_KEY in your environment."}
		}
		return NewResendProvider(cfg.Email.ResendAPIKey)
	}
}
