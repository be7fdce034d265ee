package mailer

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// SenderRegistry answers whether a from-address was registered by an operator.
type SenderRegistry interface {
	IsRegistered(ctx context.Context, email string) (bool, error)
}

// Dispatcher validates and normalizes a message before handing it to the provider.
type Dispatcher struct {
	provider Provider
	senders  SenderRegistry
	log      *zap.Logger
}

func NewDispatcher(provider Provider, senders SenderRegistry, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		provider: provider,
		senders:  senders,
		log:      log.Named("mailer"),
	}
}

// Send rejects unregistered senders and empty recipient lists, then dispatches once.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.From) == "" || strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Content) == "" {
		return "", ErrMissingFields
	}

	normalized := Message{
		From:        NormalizeAddress(msg.From),
		To:          NormalizeAddresses(msg.To),
		Cc:          NormalizeAddresses(msg.Cc),
		Bcc:         NormalizeAddresses(msg.Bcc),
		Subject:     msg.Subject,
		Content:     msg.Content,
		IsHTML:      msg.IsHTML,
		Attachments: normalizeAttachments(msg.Attachments),
	}
	if len(normalized.To) == 0 {
		return "", ErrNoRecipients
	}
	if len(normalized.Cc) == 0 {
		normalized.Cc = nil
	}
	if len(normalized.Bcc) == 0 {
		normalized.Bcc = nil
	}

	registered, err := d.senders.IsRegistered(ctx, normalized.From)
	if err != nil {
		return "", err
	}
	if !registered {
		d.log.Warn("mailer.sender.unregistered", zap.String("from", normalized.From))
		return "", &SenderError{Address: msg.From}
	}

	messageID, err := d.provider.Send(ctx, normalized)
	if err != nil {
		d.log.Error("mailer.send.failed",
			zap.Int("to_count", len(normalized.To)),
			zap.Int("attachments", len(normalized.Attachments)),
			zap.Error(err),
		)
		return "", err
	}

	d.log.Info("mailer.send.ok",
		zap.String("message_id", messageID),
		zap.Int("to_count", len(normalized.To)),
		zap.Int("attachments", len(normalized.Attachments)),
	)
	return messageID, nil
}

func normalizeAttachments(in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(in))
	for _, att := range in {
		if len(att.Content) == 0 {
			continue
		}
		if strings.TrimSpace(att.Filename) == "" {
			att.Filename = "attachment"
		}
		out = append(out, att)
	}
	return out
}
