package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	apikeydomain "github.com/smallbiznis/invoicedesk/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/invoicedesk/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from the casbin_rule table, creating it and the
// built-in role grants on first use.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, keyID string, role string, object string, action string) error {
	keyID = strings.TrimSpace(keyID)
	role = strings.ToLower(strings.TrimSpace(role))
	if keyID == "" || role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := "api_key:" + keyID
	if err := s.ensureGrouping(subject, roleName(role)); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, keyID, role, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping binds the key to exactly one role.
func (s *ServiceImpl) ensureGrouping(subject string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, keyID, role, object, action string) {
	s.log.Info("authorization.denied",
		zap.String("api_key_id", keyID),
		zap.String("role", role),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	targetID := object
	err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAPIKey), &keyID, auditdomain.ActionAuthorizationDenied, auditdomain.TargetAuthorization, &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
	if err != nil {
		s.log.Warn("authorization.audit_failed", zap.Error(err))
	}
}

func roleName(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	admin := roleName(apikeydomain.RoleAdmin)
	viewer := roleName(apikeydomain.RoleViewer)

	policies := [][]string{
		// Viewer permissions (read-only)
		{viewer, ObjectInvoice, ActionView},
		{viewer, ObjectDocument, ActionView},
		{viewer, ObjectEmailSender, ActionView},
		{viewer, ObjectCompany, ActionView},

		// Admin permissions
		{admin, ObjectInvoice, "*"},
		{admin, ObjectDocument, "*"},
		{admin, ObjectDelivery, "*"},
		{admin, ObjectEmailSender, "*"},
		{admin, ObjectCompany, "*"},
		{admin, ObjectAPIKey, "*"},
		{admin, ObjectAuditLog, ActionView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
