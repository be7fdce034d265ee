package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"github.com/smallbiznis/invoicedesk/internal/audit/repository"
	"github.com/smallbiznis/invoicedesk/internal/clock"
	obscontext "github.com/smallbiznis/invoicedesk/internal/observability/context"
	"github.com/smallbiznis/invoicedesk/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk, db
}

func strPtr(v string) *string { return &v }

func TestAuditLogResolvesActorFromContext(t *testing.T) {
	svc, _, db := newTestService(t)

	ctx := obscontext.WithActor(context.Background(), "api_key", "key_123")
	ctx = obscontext.WithRequestID(ctx, "req-1")

	err := svc.AuditLog(ctx, "", nil, auditdomain.ActionInvoiceScheduleSend, auditdomain.TargetInvoice, strPtr("42"), map[string]any{
		"toEmails":        []string{"jane@client.test"},
		"scheduledSendAt": "2025-03-02",
	})
	require.NoError(t, err)

	var entries []auditdomain.AuditLog
	require.NoError(t, db.Find(&entries).Error)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "api_key", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "key_123", *entry.ActorID)
	require.NotNil(t, entry.TargetID)
	assert.Equal(t, "42", *entry.TargetID)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "2025-03-02", entry.Metadata["scheduledSendAt"])
	assert.Equal(t, []any{"j****@client.test"}, entry.Metadata["toEmails"])
	assert.True(t, entry.CreatedAt.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, _, db := newTestService(t)

	require.NoError(t, svc.AuditLog(context.Background(), "", nil, auditdomain.ActionInvoiceScheduleSent, "", nil, nil))

	var entry auditdomain.AuditLog
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), entry.ActorType)
	assert.Nil(t, entry.ActorID)
	assert.Equal(t, "unknown", entry.TargetType)
}

func TestAuditLogRequiresAction(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), "", nil, "  ", auditdomain.TargetInvoice, nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionInvoiceEmailSend, auditdomain.TargetInvoice, strPtr("7"), nil))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.AuditLog(ctx, "", nil, auditdomain.ActionAPIKeyCreate, auditdomain.TargetAPIKey, strPtr("key_1"), nil))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		TargetType: auditdomain.TargetInvoice,
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextPageToken)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[1].CreatedAt))

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
		TargetType: auditdomain.TargetInvoice,
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.True(t, second.AuditLogs[0].CreatedAt.Before(first.AuditLogs[1].CreatedAt))
}

func TestListRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
