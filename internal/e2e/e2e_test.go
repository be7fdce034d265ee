package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/invoicedesk/internal/apikey"
	apikeydomain "github.com/smallbiznis/invoicedesk/internal/apikey/domain"
	"github.com/smallbiznis/invoicedesk/internal/audit"
	"github.com/smallbiznis/invoicedesk/internal/authorization"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	"github.com/smallbiznis/invoicedesk/internal/company"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/documentstore"
	"github.com/smallbiznis/invoicedesk/internal/emailsender"
	"github.com/smallbiznis/invoicedesk/internal/invoice"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"github.com/smallbiznis/invoicedesk/internal/migration"
	"github.com/smallbiznis/invoicedesk/internal/observability"
	"github.com/smallbiznis/invoicedesk/internal/ratelimit"
	"github.com/smallbiznis/invoicedesk/internal/scheduler"
	"github.com/smallbiznis/invoicedesk/internal/seed"
	"github.com/smallbiznis/invoicedesk/internal/server"
	"github.com/smallbiznis/invoicedesk/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var startedAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingProvider struct {
	mu       sync.Mutex
	messages []mailer.Message
}

func (p *recordingProvider) Send(_ context.Context, msg mailer.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("e2e-%d", len(p.messages)), nil
}

func (p *recordingProvider) sent() []mailer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mailer.Message(nil), p.messages...)
}

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	baseURL   string
	httpSrv   *httptest.Server
	scheduler *scheduler.Scheduler
	clock     *clock.FakeClock
	provider  *recordingProvider
	adminKey  string
	node      *snowflake.Node
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func startEnv() (*testEnv, error) {
	var (
		engine     *gin.Engine
		dbConn     *gorm.DB
		sched      *scheduler.Scheduler
		apiKeySvc  apikeydomain.Service
		node       *snowflake.Node
		fakeClock  = clock.NewFakeClock(startedAt)
		provider   = &recordingProvider{}
		snowflakes = func() (*snowflake.Node, error) { return snowflake.NewNode(1) }
	)

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(snowflakes),
		db.Module,
		clock.Module,
		migration.Module,

		ratelimit.Module,
		documentstore.Module,
		emailsender.Module,
		mailer.Module,
		company.Module,
		apikey.Module,
		invoice.Module,
		audit.Module,
		authorization.Module,
		server.Module,

		fx.Provide(scheduler.ProvideConfig, scheduler.New),
		fx.Decorate(func(clock.Clock) clock.Clock { return fakeClock }),
		fx.Decorate(func(mailer.Provider) mailer.Provider { return provider }),
		fx.Populate(&engine, &dbConn, &sched, &apiKeySvc, &node),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	if _, err := seed.EnsureDefaults(ctx, dbConn, node, seed.Options{
		CompanyName:  "Acme",
		EmailSenders: []string{"billing@acme.test"},
	}); err != nil {
		_ = app.Stop(context.Background())
		return nil, err
	}

	key, err := apiKeySvc.Create(ctx, apikeydomain.CreateRequest{Name: "e2e", Role: apikeydomain.RoleAdmin})
	if err != nil {
		_ = app.Stop(context.Background())
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)
	return &testEnv{
		app:       app,
		db:        dbConn,
		baseURL:   httpSrv.URL,
		httpSrv:   httpSrv,
		scheduler: sched,
		clock:     fakeClock,
		provider:  provider,
		adminKey:  key.APIKey,
		node:      node,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_PATH", "file:invoicedesk_e2e?mode=memory&cache=shared")
	setEnvIfEmpty("DATABASE_AUTO_MIGRATE", "true")
	setEnvIfEmpty("STORAGE_DRIVER", "memory")
	setEnvIfEmpty("EMAIL_PROVIDER", "noop")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func doJSON(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+env.adminKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, body
}

func createInvoice(t *testing.T, number int) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, "/api/invoices", map[string]any{
		"invoiceNumber": number,
		"date":          "2025-03-15",
		"subtotal":      "100.00",
		"taxRate":       "0.19",
		"taxAmount":     "19.00",
		"total":         "119.00",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invoice failed: %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Invoice struct {
			ID string `json:"id"`
		} `json:"invoice"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	return payload.Invoice.ID
}

func uploadDocuments(t *testing.T, id string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for field, name := range map[string]string{"invoicePdf": "invoice.pdf", "asPdf": "as.pdf"} {
		part, err := w.CreateFormFile(field, name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte("%PDF-1.4 " + name)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/api/invoices/"+id+"/documents", buf)
	if err != nil {
		t.Fatalf("build upload: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, body := send(t, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload documents failed: %d: %s", resp.StatusCode, string(body))
	}
}

func loadInvoice(t *testing.T, id string) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	if err := env.db.First(&inv, "id = ?", id).Error; err != nil {
		t.Fatalf("load invoice %s: %v", id, err)
	}
	return inv
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_ScheduledInvoiceIsSentByTheSweep(t *testing.T) {
	id := createInvoice(t, 101)
	uploadDocuments(t, id)

	sendAt := env.clock.Now().Add(90 * time.Minute).Format(time.RFC3339)
	resp, body := doJSON(t, http.MethodPost, "/api/invoices/"+id+"/schedule-send", map[string]any{
		"scheduledSendAt": sendAt,
		"fromEmail":       "Billing@Acme.test",
		"toEmails":        []string{"client@globex.test"},
		"ccEmails":        []string{},
		"bccEmails":       []string{},
		"subject":         "Invoice ${englishMonth} ${year}",
		"content":         "Issued ${date}.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule failed: %d: %s", resp.StatusCode, string(body))
	}

	before := len(env.provider.sent())
	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep before due: %v", err)
	}
	if got := len(env.provider.sent()); got != before {
		t.Fatalf("expected no delivery before the send time, got %d new", got-before)
	}
	if status := loadInvoice(t, id).ScheduledStatus; status == nil || *status != invoicedomain.ScheduledStatusPending {
		t.Fatalf("expected pending before the send time, got %v", status)
	}

	env.clock.Advance(2 * time.Hour)
	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep after due: %v", err)
	}

	messages := env.provider.sent()
	if len(messages) != before+1 {
		t.Fatalf("expected one delivery, got %d", len(messages)-before)
	}
	msg := messages[len(messages)-1]
	if msg.From != "billing@acme.test" {
		t.Fatalf("expected normalized sender, got %q", msg.From)
	}
	if msg.Subject != "Invoice March 2025" {
		t.Fatalf("expected date variables resolved, got %q", msg.Subject)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("expected invoice and AS attachments, got %d", len(msg.Attachments))
	}

	stored := loadInvoice(t, id)
	if stored.ScheduledStatus == nil || *stored.ScheduledStatus != invoicedomain.ScheduledStatusSent {
		t.Fatalf("expected sent status, got %v", stored.ScheduledStatus)
	}
	if !stored.Sent || stored.ScheduledSentAt == nil {
		t.Fatalf("expected invoice marked sent with a timestamp")
	}

	var actions []string
	if err := env.db.Model(&auditdomain.AuditLog{}).
		Where("target_id = ?", id).
		Order("action").
		Pluck("action", &actions).Error; err != nil {
		t.Fatalf("query audit log: %v", err)
	}
	want := []string{
		auditdomain.ActionInvoiceDocumentsUpload,
		auditdomain.ActionInvoiceScheduleSend,
		auditdomain.ActionInvoiceScheduleSent,
	}
	if strings.Join(actions, ",") != strings.Join(want, ",") {
		t.Fatalf("expected audit actions %v, got %v", want, actions)
	}

	resp, _ = doJSON(t, http.MethodPatch, "/api/invoices/"+id+"/cancel-schedule", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected cancel after send to be rejected, got %d", resp.StatusCode)
	}
}

func TestE2E_CancelledScheduleIsNotSent(t *testing.T) {
	id := createInvoice(t, 102)
	uploadDocuments(t, id)

	resp, body := doJSON(t, http.MethodPost, "/api/invoices/"+id+"/schedule-send", map[string]any{
		"scheduledSendAt": env.clock.Now().Add(30 * time.Minute).Format(time.RFC3339),
		"fromEmail":       "billing@acme.test",
		"toEmails":        []string{"client@globex.test"},
		"ccEmails":        []string{},
		"bccEmails":       []string{},
		"subject":         "Invoice",
		"content":         "Attached.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("schedule failed: %d: %s", resp.StatusCode, string(body))
	}

	resp, body = doJSON(t, http.MethodPatch, "/api/invoices/"+id+"/cancel-schedule", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel failed: %d: %s", resp.StatusCode, string(body))
	}

	before := len(env.provider.sent())
	env.clock.Advance(time.Hour)
	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := len(env.provider.sent()); got != before {
		t.Fatalf("cancelled invoice was delivered")
	}
	if status := loadInvoice(t, id).ScheduledStatus; status == nil || *status != invoicedomain.ScheduledStatusCancelled {
		t.Fatalf("expected cancelled status, got %v", status)
	}
}
