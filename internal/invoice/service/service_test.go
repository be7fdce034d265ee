package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	companydomain "github.com/smallbiznis/invoicedesk/internal/company/domain"
	"github.com/smallbiznis/invoicedesk/internal/documentstore"
	"github.com/smallbiznis/invoicedesk/internal/invoice/delivery"
	"github.com/smallbiznis/invoicedesk/internal/invoice/domain"
	"github.com/smallbiznis/invoicedesk/internal/invoice/repository"
	"github.com/smallbiznis/invoicedesk/internal/mailer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type recordingSender struct {
	messages []mailer.Message
	err      error
}

func (r *recordingSender) Send(_ context.Context, msg mailer.Message) (string, error) {
	r.messages = append(r.messages, msg)
	if r.err != nil {
		return "", r.err
	}
	return "msg-1", nil
}

type fixture struct {
	svc    domain.Service
	db     *gorm.DB
	clk    *clock.FakeClock
	node   *snowflake.Node
	store  documentstore.Store
	sender *recordingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&companydomain.Company{}, &domain.Invoice{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	store := documentstore.NewLocalStore(afero.NewMemMapFs())
	sender := &recordingSender{}

	svc := New(Params{
		DB:      db,
		Log:     zaptest.NewLogger(t),
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		Store:   store,
		Builder: delivery.NewBuilder(store),
		Sender:  sender,
	})

	return &fixture{svc: svc, db: db, clk: clk, node: node, store: store, sender: sender}
}

func (f *fixture) seedInvoice(t *testing.T, mutate func(*domain.Invoice)) domain.Invoice {
	t.Helper()
	now := f.clk.Now()
	invoice := domain.Invoice{
		ID:            f.node.Generate(),
		InvoiceNumber: 7,
		Date:          time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Subtotal:      decimal.NewFromInt(100),
		TaxRate:       decimal.NewFromFloat(0.19),
		TaxAmount:     decimal.NewFromInt(19),
		Total:         decimal.NewFromInt(119),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if mutate != nil {
		mutate(&invoice)
	}
	require.NoError(t, f.db.Omit("FromCompany", "ToCompany").Create(&invoice).Error)
	return invoice
}

func strPtr(v string) *string { return &v }

func scheduleRequest(t *testing.T, id snowflake.ID, body string) domain.ScheduleSendRequest {
	t.Helper()
	var req domain.ScheduleSendRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	req.InvoiceID = id.String()
	return req
}

const validSchedule = `{
	"scheduledSendAt": "2025-03-02T10:00:00Z",
	"fromEmail": "billing@acme.test",
	"toEmails": "a@x.com, b@x.com",
	"ccEmails": [],
	"bccEmails": "",
	"subject": "Invoice for ${englishMonth} ${year}",
	"content": "Attached."
}`

func TestScheduleSendRejectsPastDate(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.InvoicePDFKey = strPtr("invoices/1/Invoice.pdf")
	})

	req := scheduleRequest(t, invoice.ID, validSchedule)
	req.ScheduledSendAt = "2020-01-01T00:00:00Z"
	_, err := f.svc.ScheduleSend(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidSendAt)

	req.ScheduledSendAt = f.clk.Now().Format(time.RFC3339)
	_, err = f.svc.ScheduleSend(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidSendAt)

	stored, err := f.svc.GetByID(context.Background(), invoice.ID.String())
	require.NoError(t, err)
	assert.Nil(t, stored.ScheduledStatus)
	assert.Nil(t, stored.ScheduledSendAt)
}

func TestScheduleSendRequiresDocuments(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, nil)

	_, err := f.svc.ScheduleSend(context.Background(), scheduleRequest(t, invoice.ID, validSchedule))
	assert.ErrorIs(t, err, domain.ErrNoDocuments)
}

func TestScheduleSendRejectsTemplate(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.IsTemplate = true
		i.InvoicePDFKey = strPtr("invoices/1/Invoice.pdf")
	})

	_, err := f.svc.ScheduleSend(context.Background(), scheduleRequest(t, invoice.ID, validSchedule))
	assert.ErrorIs(t, err, domain.ErrTemplateInvoice)
}

func TestScheduleSendValidationOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ScheduleSend(context.Background(), domain.ScheduleSendRequest{InvoiceID: "abc"})
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	req := scheduleRequest(t, 99, `{"scheduledSendAt":"2025-03-02T10:00:00Z","fromEmail":"a@x.com","toEmails":["b@x.com"],"ccEmails":[],"subject":"s","content":"c"}`)
	_, err = f.svc.ScheduleSend(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	req = scheduleRequest(t, 99, validSchedule)
	req.ScheduledSendAt = "tomorrow"
	_, err = f.svc.ScheduleSend(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidSendAt)

	_, err = f.svc.ScheduleSend(context.Background(), scheduleRequest(t, 99, validSchedule))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScheduleSendStoresNormalizedPayload(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.InvoicePDFKey = strPtr("invoices/1/Invoice.pdf")
	})

	updated, err := f.svc.ScheduleSend(context.Background(), scheduleRequest(t, invoice.ID, validSchedule))
	require.NoError(t, err)

	state, err := updated.Schedule()
	require.NoError(t, err)
	pending, ok := state.(domain.Pending)
	require.True(t, ok, "expected pending, got %T", state)
	assert.Equal(t, time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC), pending.SendAt.UTC())
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, []string(pending.Payload.ToEmails))
	assert.Empty(t, pending.Payload.CcEmails)
	assert.Empty(t, pending.Payload.BccEmails)
	assert.Equal(t, "Invoice for ${englishMonth} ${year}", pending.Payload.Subject)
	assert.Empty(t, f.sender.messages)
}

func TestScheduleSendRestartsFailedSchedule(t *testing.T) {
	f := newFixture(t)
	failed := domain.ScheduledStatusFailed
	sentAt := f.clk.Now().Add(-time.Hour)
	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.InvoicePDFKey = strPtr("invoices/1/Invoice.pdf")
		i.ScheduledStatus = &failed
		i.ScheduledError = strPtr("rate limited")
		i.ScheduledSentAt = &sentAt
	})

	updated, err := f.svc.ScheduleSend(context.Background(), scheduleRequest(t, invoice.ID, validSchedule))
	require.NoError(t, err)
	require.NotNil(t, updated.ScheduledStatus)
	assert.Equal(t, domain.ScheduledStatusPending, *updated.ScheduledStatus)
	assert.Nil(t, updated.ScheduledError)
	assert.Nil(t, updated.ScheduledSentAt)
}

func TestCancelSchedule(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.ASPDFKey = strPtr("invoices/1/AS.pdf")
	})
	ctx := context.Background()

	_, err := f.svc.CancelSchedule(ctx, invoice.ID.String())
	assert.ErrorIs(t, err, domain.ErrNoPendingSchedule)

	_, err = f.svc.ScheduleSend(ctx, scheduleRequest(t, invoice.ID, validSchedule))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelSchedule(ctx, invoice.ID.String())
	require.NoError(t, err)
	require.NotNil(t, cancelled.ScheduledStatus)
	assert.Equal(t, domain.ScheduledStatusCancelled, *cancelled.ScheduledStatus)
	assert.Nil(t, cancelled.ScheduledSendAt)
	assert.Empty(t, cancelled.ScheduledEmailData)

	state, err := cancelled.Schedule()
	require.NoError(t, err)
	assert.IsType(t, domain.Cancelled{}, state)

	_, err = f.svc.CancelSchedule(ctx, invoice.ID.String())
	assert.ErrorIs(t, err, domain.ErrNoPendingSchedule)
}

func TestUploadDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	from := companydomain.Company{ID: f.node.Generate(), Name: "Acme Holdings", CreatedAt: f.clk.Now(), UpdatedAt: f.clk.Now()}
	to := companydomain.Company{ID: f.node.Generate(), Name: "Globex", DisplayName: "Globex Chile", CreatedAt: f.clk.Now(), UpdatedAt: f.clk.Now()}
	require.NoError(t, f.db.Create(&from).Error)
	require.NoError(t, f.db.Create(&to).Error)

	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.FromCompanyID = &from.ID
		i.ToCompanyID = &to.ID
	})

	updated, err := f.svc.UploadDocuments(ctx, domain.UploadDocumentsRequest{
		InvoiceID:  invoice.ID.String(),
		InvoicePDF: &domain.DocumentFile{Filename: "inv.pdf", ContentType: "application/pdf", Data: []byte("%PDF-invoice")},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.InvoicePDFKey)
	wantKey := "invoices/" + invoice.ID.String() + "/Invoice_acme-holdings_globex-chile_N7_2025-03-15.pdf"
	assert.Equal(t, wantKey, *updated.InvoicePDFKey)
	assert.Nil(t, updated.ASPDFKey)
	assert.NotNil(t, updated.DocumentsGeneratedAt)

	exists, err := f.store.Exists(ctx, wantKey)
	require.NoError(t, err)
	assert.True(t, exists)

	updated, err = f.svc.UploadDocuments(ctx, domain.UploadDocumentsRequest{
		InvoiceID: invoice.ID.String(),
		ASPDF:     &domain.DocumentFile{Filename: "as.PDF", ContentType: "application/octet-stream", Data: []byte("%PDF-as")},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.ASPDFKey)
	assert.Equal(t, wantKey, *updated.InvoicePDFKey)
	assert.True(t, strings.HasSuffix(*updated.ASPDFKey, "/AS_acme-holdings_globex-chile_N7_2025-03-15.pdf"))
}

type failingUpdateRepo struct {
	domain.Repository
	err error
}

func (r failingUpdateRepo) UpdateFields(context.Context, *gorm.DB, snowflake.ID, map[string]any) error {
	return r.err
}

func TestUploadDocumentsKeepsReplacedBlobUntilSaved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldKey := "invoices/x/Invoice_old.pdf"
	require.NoError(t, f.store.Put(ctx, oldKey, []byte("%PDF-old"), documentstore.ContentTypePDF))
	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.InvoicePDFKey = strPtr(oldKey)
	})
	file := &domain.DocumentFile{Filename: "inv.pdf", ContentType: "application/pdf", Data: []byte("%PDF-new")}

	broken := New(Params{
		DB:      f.db,
		Log:     zaptest.NewLogger(t),
		GenID:   f.node,
		Clock:   f.clk,
		Repo:    failingUpdateRepo{Repository: repository.Provide(), err: errors.New("db down")},
		Store:   f.store,
		Builder: delivery.NewBuilder(f.store),
		Sender:  f.sender,
	})
	_, err := broken.UploadDocuments(ctx, domain.UploadDocumentsRequest{InvoiceID: invoice.ID.String(), InvoicePDF: file})
	require.EqualError(t, err, "db down")

	doc, err := f.svc.GetDocument(ctx, invoice.ID.String(), "invoice")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-old"), doc.Data)

	updated, err := f.svc.UploadDocuments(ctx, domain.UploadDocumentsRequest{InvoiceID: invoice.ID.String(), InvoicePDF: file})
	require.NoError(t, err)
	require.NotNil(t, updated.InvoicePDFKey)
	assert.NotEqual(t, oldKey, *updated.InvoicePDFKey)

	exists, err := f.store.Exists(ctx, oldKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUploadDocumentsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	invoice := f.seedInvoice(t, nil)
	template := f.seedInvoice(t, func(i *domain.Invoice) { i.IsTemplate = true })

	_, err := f.svc.UploadDocuments(ctx, domain.UploadDocumentsRequest{InvoiceID: invoice.ID.String()})
	assert.ErrorIs(t, err, domain.ErrNoFiles)

	_, err = f.svc.UploadDocuments(ctx, domain.UploadDocumentsRequest{
		InvoiceID:  invoice.ID.String(),
		InvoicePDF: &domain.DocumentFile{Filename: "scan.png", ContentType: "image/png", Data: []byte("png")},
	})
	assert.ErrorIs(t, err, domain.ErrNotPDF)

	_, err = f.svc.UploadDocuments(ctx, domain.UploadDocumentsRequest{
		InvoiceID:  template.ID.String(),
		InvoicePDF: &domain.DocumentFile{Filename: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
	})
	assert.ErrorIs(t, err, domain.ErrTemplateInvoice)
}

func TestGetDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := "invoices/1/Invoice_a_b_N7_2025-03-15.pdf"
	require.NoError(t, f.store.Put(ctx, key, []byte("%PDF"), documentstore.ContentTypePDF))

	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.InvoicePDFKey = &key
		i.ASPDFKey = strPtr("invoices/1/gone.pdf")
	})

	doc, err := f.svc.GetDocument(ctx, invoice.ID.String(), "invoice")
	require.NoError(t, err)
	assert.Equal(t, "Invoice_a_b_N7_2025-03-15.pdf", doc.Filename)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, []byte("%PDF"), doc.Data)

	_, err = f.svc.GetDocument(ctx, invoice.ID.String(), "as")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	_, err = f.svc.GetDocument(ctx, invoice.ID.String(), "receipt")
	assert.ErrorIs(t, err, domain.ErrInvalidDocumentType)

	bare := f.seedInvoice(t, nil)
	_, err = f.svc.GetDocument(ctx, bare.ID.String(), "invoice")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDeleteDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := "invoices/1/Invoice.pdf"
	require.NoError(t, f.store.Put(ctx, key, []byte("%PDF"), documentstore.ContentTypePDF))
	generated := f.clk.Now()
	invoice := f.seedInvoice(t, func(i *domain.Invoice) {
		i.InvoicePDFKey = &key
		i.ASPDFKey = strPtr("invoices/1/already-gone.pdf")
		i.DocumentsGeneratedAt = &generated
	})

	updated, err := f.svc.DeleteDocuments(ctx, invoice.ID.String())
	require.NoError(t, err)
	assert.Nil(t, updated.InvoicePDFKey)
	assert.Nil(t, updated.ASPDFKey)
	assert.Nil(t, updated.DocumentsGeneratedAt)

	exists, err := f.store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSendInvoiceEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := "invoices/1/Invoice_a_b_N7_2025-03-15.pdf"
	require.NoError(t, f.store.Put(ctx, key, []byte("%PDF"), documentstore.ContentTypePDF))
	invoice := f.seedInvoice(t, func(i *domain.Invoice) { i.InvoicePDFKey = &key })

	var req domain.EmailRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"fromEmail": "Billing@Acme.test",
		"toEmails": ["client@globex.test"],
		"ccEmails": [],
		"bccEmails": [],
		"subject": "Invoice ${date}",
		"content": "Factura ${spanishMonth} ${year}"
	}`), &req))

	result, err := f.svc.SendInvoiceEmail(ctx, invoice.ID.String(), req)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", result.MessageID)
	assert.True(t, result.Invoice.Sent)

	require.Len(t, f.sender.messages, 1)
	msg := f.sender.messages[0]
	assert.Equal(t, "billing@acme.test", msg.From)
	assert.Equal(t, "Invoice 03/15/2025", msg.Subject)
	assert.Equal(t, "Factura Marzo 2025", msg.Content)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "Invoice_a_b_N7_2025-03-15.pdf", msg.Attachments[0].Filename)
}

func TestSendInvoiceEmailFailureLeavesSentUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := "invoices/1/Invoice.pdf"
	require.NoError(t, f.store.Put(ctx, key, []byte("%PDF"), documentstore.ContentTypePDF))
	invoice := f.seedInvoice(t, func(i *domain.Invoice) { i.InvoicePDFKey = &key })
	f.sender.err = errors.New("rate limited")

	to := mailer.AddressList{"client@globex.test"}
	empty := mailer.AddressList{}
	req := domain.EmailRequest{
		FromEmail: strPtr("billing@acme.test"),
		ToEmails:  &to,
		CcEmails:  &empty,
		BccEmails: &empty,
		Subject:   strPtr("s"),
		Content:   strPtr("c"),
	}

	_, err := f.svc.SendInvoiceEmail(ctx, invoice.ID.String(), req)
	assert.EqualError(t, err, "rate limited")

	stored, err := f.svc.GetByID(ctx, invoice.ID.String())
	require.NoError(t, err)
	assert.False(t, stored.Sent)

	bad := mailer.AddressList{"not-an-email"}
	req.ToEmails = &bad
	_, err = f.svc.SendInvoiceEmail(ctx, invoice.ID.String(), req)
	var addrErr *mailer.AddressError
	require.ErrorAs(t, err, &addrErr)
	assert.Equal(t, "toEmails", addrErr.Field)
}

func TestCreateUpdateAndLatestNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	company := companydomain.Company{ID: f.node.Generate(), Name: "Globex", CreatedAt: f.clk.Now(), UpdatedAt: f.clk.Now()}
	require.NoError(t, f.db.Create(&company).Error)

	number := func(n int) *int { return &n }
	dec := func(v string) *decimal.Decimal { d := decimal.RequireFromString(v); return &d }
	companyID := company.ID.String()

	_, err := f.svc.Create(ctx, domain.InvoiceInput{InvoiceNumber: number(1)})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredFields)

	for _, n := range []int{3, 5} {
		_, err := f.svc.Create(ctx, domain.InvoiceInput{
			InvoiceNumber: number(n),
			Date:          strPtr("2025-03-15"),
			Subtotal:      dec("100"),
			TaxRate:       dec("0.19"),
			TaxAmount:     dec("19"),
			Total:         dec("119"),
			ToCompanyID:   &companyID,
		})
		require.NoError(t, err)
	}
	isTemplate := true
	tmpl, err := f.svc.Create(ctx, domain.InvoiceInput{
		InvoiceNumber: number(99),
		Date:          strPtr("2025-03-15"),
		Subtotal:      dec("0"),
		TaxRate:       dec("0"),
		TaxAmount:     dec("0"),
		Total:         dec("0"),
		IsTemplate:    &isTemplate,
		TemplateName:  strPtr("Monthly"),
		ToCompanyID:   &companyID,
	})
	require.NoError(t, err)
	require.NotNil(t, tmpl.ToCompany)
	assert.Equal(t, "Globex", tmpl.ToCompany.Name)

	latest, err := f.svc.LatestInvoiceNumber(ctx, companyID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 5, *latest)

	none, err := f.svc.LatestInvoiceNumber(ctx, f.node.Generate().String())
	require.NoError(t, err)
	assert.Nil(t, none)

	updated, err := f.svc.Update(ctx, tmpl.ID.String(), domain.InvoiceInput{Name: strPtr("  "), Total: dec("10.5")})
	require.NoError(t, err)
	assert.Nil(t, updated.Name)
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("10.5")))

	marked, err := f.svc.MarkSent(ctx, tmpl.ID.String())
	require.NoError(t, err)
	assert.True(t, marked.Sent)

	require.NoError(t, f.svc.Delete(ctx, tmpl.ID.String()))
	_, err = f.svc.GetByID(ctx, tmpl.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
