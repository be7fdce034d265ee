package mailer

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Provider transmits a prepared message and returns the provider message id.
type Provider interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// NoOpProvider accepts every message without sending it.
type NoOpProvider struct {
	log *zap.Logger
}

func NewNoOpProvider(log *zap.Logger) *NoOpProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoOpProvider{log: log.Named("mailer.noop")}
}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) (string, error) {
	id := "noop-" + ulid.Make().String()
	p.log.Info("mailer.noop.discarded",
		zap.String("message_id", id),
		zap.Int("recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc)),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return id, nil
}

// unconfiguredProvider fails every send so the API can surface a 503.
type unconfiguredProvider struct {
	reason string
}

func (p unconfiguredProvider) Send(context.Context, Message) (string, error) {
	return "", &ConfigError{Reason: p.reason}
}

// ConfigError reports which settings are missing.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

func (e *ConfigError) Unwrap() error { return ErrNotConfigured }
