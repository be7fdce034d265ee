package metricspush

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invoicedesk_scheduled_deliveries_total",
		Help: "test",
	}, []string{"outcome"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{Name: "invoicedesk_scheduler_due_invoices", Help: "test"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "invoicedesk_sweep_seconds", Help: "test"})
	registry.MustRegister(deliveries, backlog, duration)

	deliveries.WithLabelValues("sent").Add(3)
	backlog.Set(2)
	duration.Observe(1.5)
	return registry
}

func TestRemoteWritePushesCountersAndGauges(t *testing.T) {
	var (
		got     prompb.WriteRequest
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pusher := NewRemoteWritePusher(srv.URL, "secret")
	pusher.now = func() time.Time { return time.UnixMilli(1700000000000) }
	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))

	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))

	names := map[string]float64{}
	for _, ts := range got.Timeseries {
		require.Len(t, ts.Samples, 1)
		assert.EqualValues(t, 1700000000000, ts.Samples[0].Timestamp)
		for _, label := range ts.Labels {
			if label.Name == "__name__" {
				names[label.Value] = ts.Samples[0].Value
			}
		}
	}
	assert.Equal(t, map[string]float64{
		"invoicedesk_scheduled_deliveries_total": 3,
		"invoicedesk_scheduler_due_invoices":     2,
	}, names)
}

func TestRemoteWriteReportsRejectedPush(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), testRegistry(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestPushgatewayUsesJobAndGrouping(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	pusher := NewPushgatewayPusher(srv.URL, "invoicedesk", map[string]string{"environment": "test", "": "skipped"})
	require.NoError(t, pusher.Push(context.Background(), testRegistry(t)))

	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/invoicedesk"), path)
	assert.Contains(t, path, "/environment/test")
}

func TestNewSelectsExporter(t *testing.T) {
	log := zaptest.NewLogger(t)

	assert.Nil(t, New(config.Config{}, log))
	assert.Nil(t, New(config.Config{Push: config.MetricsPushConfig{Exporter: ExporterRemoteWrite}}, log))
	assert.Nil(t, New(config.Config{Push: config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}}, log))

	rw := New(config.Config{Push: config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "http://metrics.test/api/v1/write"}}, log)
	assert.IsType(t, &RemoteWritePusher{}, rw)

	pg := New(config.Config{AppName: "invoicedesk", Push: config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: "http://pushgateway.test"}}, log)
	assert.IsType(t, &PushgatewayPusher{}, pg)
}
