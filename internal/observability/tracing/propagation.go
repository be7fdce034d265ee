package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"email":           {},
	"to":              {},
	"cc":              {},
	"bcc":             {},
	"authorization":   {},
	"api_key":         {},
	"http.url":        {},
	"http.user_agent": {},
}

// ExtractContext reads upstream trace headers into ctx.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectContext writes the active trace context into an outgoing carrier.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// SafeAttributes drops attributes that can carry recipient addresses or credentials.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error safe to attach to a span, with addresses masked.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(maskAddresses(err.Error()))
}

func maskAddresses(msg string) string {
	fields := strings.Fields(msg)
	for i, field := range fields {
		if strings.Contains(field, "@") {
			fields[i] = "[redacted]"
		}
	}
	return strings.Join(fields, " ")
}
