package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const ActorSystem = "system"

const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
	RoleViewer  = "viewer"
	RoleSystem  = "system"
)

const (
	ObjectInvoice   = "invoice"
	ObjectPayment   = "payment"
	ObjectImport    = "import"
	ObjectReconcile = "reconcile"
	ObjectActivity  = "activity"
	ObjectCalendar  = "calendar"
)

const (
	ActionInvoiceView     = "invoice.view"
	ActionInvoiceCreate   = "invoice.create"
	ActionInvoiceUpdate   = "invoice.update"
	ActionInvoiceCancel   = "invoice.cancel"
	ActionInvoiceDelete   = "invoice.delete"
	ActionInvoiceDownload = "invoice.download"

	ActionPaymentRecord = "payment.record"
	ActionPaymentUpdate = "payment.update"
	ActionPaymentDelete = "payment.delete"

	ActionImportPreview = "import.preview"
	ActionImportCommit  = "import.commit"
	ActionImportView    = "import.view"

	ActionReconcileRun = "reconcile.run"

	ActionActivityView = "activity.view"

	ActionCalendarView = "calendar.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Recorder auditdomain.Recorder `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	recorder auditdomain.Recorder
}

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
		recorder: p.Recorder,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, role string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
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

	subject, roleName, err := resolveActor(actor, role)
	if err != nil {
		s.auditDenied(ctx, actor, role, object, action)
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, role, object, action)
		return ErrForbidden
	}
	return nil
}

func resolveActor(actor string, role string) (string, string, error) {
	if actor == ActorSystem {
		return ActorSystem, "role:" + RoleSystem, nil
	}
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case RoleAdmin, RoleFinance, RoleViewer:
	case "":
		return "", "", ErrInvalidRole
	default:
		// The system role is never granted through a request header.
		return "", "", ErrForbidden
	}
	return fmt.Sprintf("user:%s", actor), "role:" + role, nil
}

// ensureGrouping keeps exactly one role link per subject.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor, role, object, action string) {
	s.log.Warn("authorization denied",
		zap.String("actor", actor),
		zap.String("role", role),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, auditdomain.Event{
		Action:      "authorization.denied",
		Description: fmt.Sprintf("%s denied %s", actor, action),
		TargetType:  "authorization",
		TargetID:    object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   role,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	viewer := [][]string{
		{ObjectInvoice, ActionInvoiceView},
		{ObjectInvoice, ActionInvoiceDownload},
		{ObjectImport, ActionImportView},
		{ObjectActivity, ActionActivityView},
		{ObjectCalendar, ActionCalendarView},
	}
	finance := append([][]string{
		{ObjectInvoice, ActionInvoiceCreate},
		{ObjectInvoice, ActionInvoiceUpdate},
		{ObjectInvoice, ActionInvoiceCancel},
		{ObjectPayment, ActionPaymentRecord},
		{ObjectPayment, ActionPaymentUpdate},
		{ObjectPayment, ActionPaymentDelete},
		{ObjectImport, ActionImportPreview},
		{ObjectImport, ActionImportCommit},
		{ObjectReconcile, ActionReconcileRun},
	}, viewer...)
	admin := append([][]string{
		{ObjectInvoice, ActionInvoiceDelete},
	}, finance...)

	grants := map[string][][]string{
		RoleViewer:  viewer,
		RoleFinance: finance,
		RoleAdmin:   admin,
		RoleSystem:  admin,
	}
	for role, rules := range grants {
		for _, rule := range rules {
			if _, err := enforcer.AddPolicy("role:"+role, rule[0], rule[1]); err != nil {
				return err
			}
		}
	}
	return nil
}
