package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/smallbiznis/invoicedesk/internal/apikey/domain"
	apikeyrepo "github.com/smallbiznis/invoicedesk/internal/apikey/repository"
	apikeyservice "github.com/smallbiznis/invoicedesk/internal/apikey/service"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	auditrepo "github.com/smallbiznis/invoicedesk/internal/audit/repository"
	auditservice "github.com/smallbiznis/invoicedesk/internal/audit/service"
	"github.com/smallbiznis/invoicedesk/internal/authorization"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	companydomain "github.com/smallbiznis/invoicedesk/internal/company/domain"
	companyrepo "github.com/smallbiznis/invoicedesk/internal/company/repository"
	companyservice "github.com/smallbiznis/invoicedesk/internal/company/service"
	"github.com/smallbiznis/invoicedesk/internal/config"
	"github.com/smallbiznis/invoicedesk/internal/documentstore"
	emailsenderdomain "github.com/smallbiznis/invoicedesk/internal/emailsender/domain"
	emailsenderservice "github.com/smallbiznis/invoicedesk/internal/emailsender/service"
	"github.com/smallbiznis/invoicedesk/internal/invoice/delivery"
	invoicedomain "github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/invoicedesk/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/invoicedesk/internal/invoice/service"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"github.com/smallbiznis/invoicedesk/internal/observability"
	obsmetrics "github.com/smallbiznis/invoicedesk/internal/observability/metrics"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type recordingProvider struct {
	messages []mailer.Message
	err      error
}

func (p *recordingProvider) Send(_ context.Context, msg mailer.Message) (string, error) {
	p.messages = append(p.messages, msg)
	if p.err != nil {
		return "", p.err
	}
	return "provider-msg-1", nil
}

type testServer struct {
	engine    *gin.Engine
	db        *gorm.DB
	clk       *clock.FakeClock
	provider  *recordingProvider
	adminKey  string
	viewerKey string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&companydomain.Company{},
		&invoicedomain.Invoice{},
		&emailsenderdomain.EmailSender{},
		&apikeydomain.APIKey{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	apiKeySvc := apikeyservice.New(apikeyservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: apikeyrepo.Provide()})
	companySvc := companyservice.New(companyservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: companyrepo.Provide()})
	emailSenderSvc := emailsenderservice.New(emailsenderservice.Params{DB: db, Log: log, GenID: node, Clock: clk})
	auditSvc := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: auditrepo.Provide()})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer, AuditSvc: auditSvc})

	provider := &recordingProvider{}
	dispatcher := mailer.NewDispatcher(provider, emailSenderSvc, log)
	store := documentstore.NewLocalStore(afero.NewMemMapFs())
	invoiceSvc := invoiceservice.New(invoiceservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   clk,
		Repo:    invoicerepo.Provide(),
		Store:   store,
		Builder: delivery.NewBuilder(store),
		Sender:  dispatcher,
	})

	cfg := config.Config{HTTP: config.HTTPConfig{
		CORSOrigins:    []string{"https://app.example.test"},
		MaxUploadBytes: 1 << 20,
	}}
	engine := NewEngine(observability.Config{Environment: "test"}, cfg, obsmetrics.NewHTTPMetrics())
	NewServer(ServerParams{
		Gin:            engine,
		Cfg:            cfg,
		Log:            log,
		APIKeySvc:      apiKeySvc,
		CompanySvc:     companySvc,
		EmailSenderSvc: emailSenderSvc,
		InvoiceSvc:     invoiceSvc,
		Sender:         dispatcher,
		AuditSvc:       auditSvc,
		AuthzSvc:       authzSvc,
	})

	ctx := context.Background()
	admin, err := apiKeySvc.Create(ctx, apikeydomain.CreateRequest{Name: "ops", Role: apikeydomain.RoleAdmin})
	require.NoError(t, err)
	viewer, err := apiKeySvc.Create(ctx, apikeydomain.CreateRequest{Name: "reports", Role: apikeydomain.RoleViewer})
	require.NoError(t, err)

	return &testServer{
		engine:    engine,
		db:        db,
		clk:       clk,
		provider:  provider,
		adminKey:  admin.APIKey,
		viewerKey: viewer.APIKey,
	}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.send(req, key)
}

func (ts *testServer) send(req *http.Request, key string) *httptest.ResponseRecorder {
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) createInvoice(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/invoices", ts.adminKey, `{
		"invoiceNumber": 42,
		"date": "2025-03-15",
		"subtotal": "100.00",
		"taxRate": "0.19",
		"taxAmount": "19.00",
		"total": "119.00"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Invoice created successfully", body["message"])
	invoice := body["invoice"].(map[string]any)
	return invoice["id"].(string)
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for name, value := range fields {
		require.NoError(t, w.WriteField(name, value))
	}
	for field, filename := range files {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4 " + filename))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func (ts *testServer) uploadInvoicePDF(t *testing.T, id string) {
	t.Helper()
	body, contentType := multipartBody(t, nil, map[string]string{formFieldInvoicePDF: "invoice.pdf"})
	req := httptest.NewRequest(http.MethodPost, "/api/invoices/"+id+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := ts.send(req, ts.adminKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (ts *testServer) registerSender(t *testing.T, email string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/emails", ts.adminKey, map[string]string{"email": email})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAPIRequiresBearerKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/invoices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodGet, "/api/invoices", "idk_unknown", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/invoices", ts.adminKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Invoices retrieved successfully", decodeBody(t, rec)["message"])
}

func TestViewerKeyIsReadOnly(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/emails", ts.viewerKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/emails", ts.viewerKey, map[string]string{"email": "billing@acme.test"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", decodeBody(t, rec)["error"])
}

func TestInvoiceLookupErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/invoices/not-a-number", ts.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid invoice ID", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodGet, "/api/invoices/1234567", ts.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Invoice not found", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/invoices", ts.adminKey, `{"invoiceNumber": 1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invoice number, date, subtotal, taxRate, taxAmount, and total are required", decodeBody(t, rec)["error"])
}

func TestLatestInvoiceNumberWithoutInvoices(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/invoices/latest-number/987654", ts.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Latest invoice number retrieved successfully", body["message"])
	assert.Nil(t, body["latestInvoiceNumber"])
}

func TestDocumentUploadStreamAndDelete(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)

	ts.uploadInvoicePDF(t, id)

	rec := ts.do(t, http.MethodGet, "/api/invoices/"+id+"/documents/invoice", ts.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, documentstore.ContentTypePDF, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline;")
	assert.Equal(t, "%PDF-1.4 invoice.pdf", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/invoices/"+id+"/documents/as", ts.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Document not found", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodGet, "/api/invoices/"+id+"/documents/receipt", ts.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid document type. Use 'invoice' or 'as'", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodDelete, "/api/invoices/"+id+"/documents", ts.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	invoice := decodeBody(t, rec)["invoice"].(map[string]any)
	assert.Nil(t, invoice["invoicePdfKey"])

	rec = ts.do(t, http.MethodGet, "/api/invoices/"+id+"/documents/invoice", ts.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentUploadRequiresAFile(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)

	body, contentType := multipartBody(t, map[string]string{"note": "x"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/invoices/"+id+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := ts.send(req, ts.adminKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "At least one PDF file (invoicePdf or asPdf) is required", decodeBody(t, rec)["error"])
}

func TestDocumentUploadRejectsOversizedFile(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(formFieldInvoicePDF, "big.pdf")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("a"), (1<<20)+1))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/invoices/"+id+"/documents", buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := ts.send(req, ts.adminKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "File too large", decodeBody(t, rec)["error"])
}

const scheduleBody = `{
	"scheduledSendAt": "2025-03-02T10:00:00Z",
	"fromEmail": "billing@acme.test",
	"toEmails": ["client@example.test"],
	"ccEmails": [],
	"bccEmails": [],
	"subject": "Invoice ${englishMonth}",
	"content": "Attached."
}`

func TestScheduleSendNeedsDocuments(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+id+"/schedule-send", ts.adminKey, scheduleBody)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No stored documents for this invoice. Please generate and save documents first.", decodeBody(t, rec)["error"])
}

func TestScheduleSendRejectsIncompletePayload(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)
	ts.uploadInvoicePDF(t, id)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+id+"/schedule-send", ts.adminKey, `{
		"scheduledSendAt": "2025-03-02T10:00:00Z",
		"fromEmail": "billing@acme.test",
		"toEmails": ["client@example.test"],
		"subject": "Invoice",
		"content": "Attached."
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fromEmail, toEmails, ccEmails, bccEmails, subject, and content are required", decodeBody(t, rec)["error"])
}

func TestScheduleThenCancelTwice(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)
	ts.uploadInvoicePDF(t, id)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+id+"/schedule-send", ts.adminKey, scheduleBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	invoice := decodeBody(t, rec)["invoice"].(map[string]any)
	assert.Equal(t, "pending", invoice["scheduledStatus"])

	rec = ts.do(t, http.MethodPatch, "/api/invoices/"+id+"/cancel-schedule", ts.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	invoice = decodeBody(t, rec)["invoice"].(map[string]any)
	assert.Equal(t, "cancelled", invoice["scheduledStatus"])

	rec = ts.do(t, http.MethodPatch, "/api/invoices/"+id+"/cancel-schedule", ts.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No pending schedule to cancel", decodeBody(t, rec)["error"])
}

func TestScheduleActionsAreAudited(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)
	ts.uploadInvoicePDF(t, id)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+id+"/schedule-send", ts.adminKey, scheduleBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPatch, "/api/invoices/"+id+"/cancel-schedule", ts.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/audit-logs?targetType=invoice&targetId="+id, ts.viewerKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/audit-logs?targetType=invoice&targetId="+id, ts.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	logs := decodeBody(t, rec)["auditLogs"].([]any)

	actions := make([]string, 0, len(logs))
	for _, raw := range logs {
		entry := raw.(map[string]any)
		assert.Equal(t, "api_key", entry["actorType"])
		actions = append(actions, entry["action"].(string))
	}
	assert.ElementsMatch(t, []string{
		auditdomain.ActionInvoiceDocumentsUpload,
		auditdomain.ActionInvoiceScheduleSend,
		auditdomain.ActionInvoiceScheduleCancel,
	}, actions)

	rec = ts.do(t, http.MethodGet, "/api/audit-logs?page_token=bogus", ts.adminKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid page token", decodeBody(t, rec)["error"])
}

func TestSendInvoiceEmailNow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)
	ts.uploadInvoicePDF(t, id)
	ts.registerSender(t, "billing@acme.test")

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+id+"/send-email", ts.adminKey, `{
		"fromEmail": "Billing@Acme.test",
		"toEmails": "client@example.test",
		"ccEmails": "",
		"bccEmails": [],
		"subject": "Invoice ${englishMonth} ${year}",
		"content": "Issued ${date}"
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "provider-msg-1", body["messageId"])
	assert.Equal(t, true, body["invoice"].(map[string]any)["sent"])

	require.Len(t, ts.provider.messages, 1)
	msg := ts.provider.messages[0]
	assert.Equal(t, "billing@acme.test", msg.From)
	assert.Equal(t, []string{"client@example.test"}, msg.To)
	assert.Equal(t, "Invoice March 2025", msg.Subject)
	assert.Len(t, msg.Attachments, 1)
}

func TestSendInvoiceEmailUnregisteredSender(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createInvoice(t)
	ts.uploadInvoicePDF(t, id)

	rec := ts.do(t, http.MethodPost, "/api/invoices/"+id+"/send-email", ts.adminKey, `{
		"fromEmail": "nobody@acme.test",
		"toEmails": ["client@example.test"],
		"ccEmails": [],
		"bccEmails": [],
		"subject": "Invoice",
		"content": "Attached."
	}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email sender nobody@acme.test not found in database. Please add it first.", decodeBody(t, rec)["error"])
	assert.Empty(t, ts.provider.messages)
}

func TestEmailSenderCRUD(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/emails", ts.adminKey, map[string]string{"email": "billing@acme.test"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)["email"].(map[string]any)
	id := created["id"].(string)

	rec = ts.do(t, http.MethodPost, "/api/emails", ts.adminKey, map[string]string{"email": "BILLING@acme.test"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email already exists", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/emails", ts.adminKey, map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid email format", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPut, "/api/emails/"+id, ts.adminKey, map[string]string{"email": "invoices@acme.test"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "invoices@acme.test", decodeBody(t, rec)["email"].(map[string]any)["email"])

	rec = ts.do(t, http.MethodDelete, "/api/emails/"+id, ts.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Email sender deleted successfully", decodeBody(t, rec)["message"])

	rec = ts.do(t, http.MethodGet, "/api/emails/"+id, ts.adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Email sender not found", decodeBody(t, rec)["error"])
}

func TestSendTestEmailMultipart(t *testing.T) {
	ts := newTestServer(t)
	ts.registerSender(t, "billing@acme.test")

	body, contentType := multipartBody(t, map[string]string{
		"fromEmail": "billing@acme.test",
		"toEmails":  `["One@Example.test", "two@example.test"]`,
		"subject":   "Hello",
		"content":   "Test body",
	}, map[string]string{"attachments": "sample.pdf"})
	req := httptest.NewRequest(http.MethodPost, "/api/emails/test", body)
	req.Header.Set("Content-Type", contentType)
	rec := ts.send(req, ts.adminKey)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody(t, rec)
	assert.Equal(t, "Test email sent successfully", resp["message"])
	assert.Equal(t, "provider-msg-1", resp["messageId"])

	require.Len(t, ts.provider.messages, 1)
	msg := ts.provider.messages[0]
	assert.Equal(t, []string{"one@example.test", "two@example.test"}, msg.To)
	assert.Nil(t, msg.Cc)
	assert.False(t, msg.IsHTML)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "sample.pdf", msg.Attachments[0].Filename)
}

func TestSendTestEmailValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/emails/test", ts.adminKey, `{"fromEmail": "billing@acme.test", "subject": "x", "content": "y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fromEmail, toEmails, subject, and content are required", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/emails/test", ts.adminKey, `{"fromEmail": "billing@acme.test", "toEmails": "", "subject": "x", "content": "y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "At least one recipient email is required", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/emails/test", ts.adminKey, `{"fromEmail": "billing@acme.test", "toEmails": ["ok@example.test", "broken"], "subject": "x", "content": "y"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid email format in toEmails: broken", decodeBody(t, rec)["error"])
}

func TestSendTestEmailProviderFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.registerSender(t, "billing@acme.test")
	ts.provider.err = errors.New("provider unavailable")

	rec := ts.do(t, http.MethodPost, "/api/emails/test", ts.adminKey, `{"fromEmail": "billing@acme.test", "toEmails": ["a@example.test"], "subject": "x", "content": "y"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeBody(t, rec)["error"])
}

func TestCompanyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/companies", ts.adminKey, map[string]string{"name": "Acme SpA", "displayName": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	company := decodeBody(t, rec)["company"].(map[string]any)

	rec = ts.do(t, http.MethodGet, "/api/companies/"+company["id"].(string), ts.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Company retrieved successfully", decodeBody(t, rec)["message"])

	rec = ts.do(t, http.MethodGet, "/api/companies", ts.viewerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["companies"], 1)

	rec = ts.do(t, http.MethodPost, "/api/companies", ts.adminKey, map[string]string{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Company name is required", decodeBody(t, rec)["error"])
}

func TestAPIKeyEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/api-keys", ts.adminKey, map[string]string{"name": "ci", "role": "viewer"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	secret := decodeBody(t, rec)["apiKey"].(map[string]any)
	raw := secret["apiKey"].(string)
	keyID := secret["keyId"].(string)

	rec = ts.do(t, http.MethodGet, "/api/invoices", raw, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/api-keys/"+keyID+"/revoke", ts.adminKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/invoices", raw, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/api-keys", ts.adminKey, map[string]string{"name": "x", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid API key role", decodeBody(t, rec)["error"])
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/invoices", nil)
	req.Header.Set("Origin", "https://app.example.test")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := ts.send(req, "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.test")
	rec = ts.send(req, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeBody(t, rec)["error"])
}

func TestMapErrorPrefersCarriedMessages(t *testing.T) {
	status, msg := mapError(&mailer.AddressError{Field: "ccEmails", Address: "bad"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid email format in ccEmails: bad", msg)

	status, msg = mapError(badRequest("Invalid request body"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid request body", msg)

	status, _ = mapError(mailer.ErrNotConfigured)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	kind, code := classifyErrorForLog(invoicedomain.ErrNotFound)
	assert.Equal(t, "not_found", kind)
	assert.Equal(t, "invoice_not_found", code)
}
