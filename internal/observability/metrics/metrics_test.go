package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("trigger", "scheduled"),
		attribute.String("invoice_id", "456"),
		attribute.String("outcome", "sent"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "trigger" && attrs[1].Key != "trigger" {
		t.Fatalf("expected trigger to be retained")
	}
	if attrs[0].Key != "outcome" && attrs[1].Key != "outcome" {
		t.Fatalf("expected outcome to be retained")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordEmailDispatched(context.Background(), "immediate", "sent")
	m.RecordDocumentStored(context.Background(), "invoice")
	m.RecordScheduleTransition(context.Background(), "pending")
	m.RecordRateLimitDenied(context.Background(), "send_email")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordEmailDispatched(context.Background(), "scheduled", "failed")
}
