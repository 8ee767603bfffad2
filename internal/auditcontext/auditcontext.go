// Package auditcontext carries the acting principal and request metadata
// through a context so ledger writes and activity events can attribute changes.
package auditcontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	actorTypeKey contextKey = "audit_actor_type"
	actorIDKey   contextKey = "audit_actor_id"
	actorNameKey contextKey = "audit_actor_name"
	roleKey      contextKey = "audit_role"
	requestIDKey contextKey = "audit_request_id"
	ipAddressKey contextKey = "audit_ip_address"
	userAgentKey contextKey = "audit_user_agent"
)

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = withString(ctx, actorTypeKey, actorType)
	return withString(ctx, actorIDKey, actorID)
}

// ActorFromContext returns the actor type and id, or empty strings.
func ActorFromContext(ctx context.Context) (string, string) {
	return stringFrom(ctx, actorTypeKey), stringFrom(ctx, actorIDKey)
}

func WithActorName(ctx context.Context, name string) context.Context {
	return withString(ctx, actorNameKey, name)
}

func ActorNameFromContext(ctx context.Context) string {
	return stringFrom(ctx, actorNameKey)
}

func WithRole(ctx context.Context, role string) context.Context {
	return withString(ctx, roleKey, strings.ToLower(role))
}

func RoleFromContext(ctx context.Context) string {
	return stringFrom(ctx, roleKey)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	return withString(ctx, ipAddressKey, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	return stringFrom(ctx, ipAddressKey)
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return withString(ctx, userAgentKey, userAgent)
}

func UserAgentFromContext(ctx context.Context) string {
	return stringFrom(ctx, userAgentKey)
}

// ActorLabel is the name recorded on ledger rows: the display name when known,
// otherwise the actor id.
func ActorLabel(ctx context.Context) string {
	if name := ActorNameFromContext(ctx); name != "" {
		return name
	}
	_, id := ActorFromContext(ctx)
	return id
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
