package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/receivables/internal/audit/domain"
	"github.com/smallbiznis/receivables/internal/auditcontext"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"
)

// ActorContext copies the identity set by the upstream gateway into the
// request context.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if actorID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeUser), actorID)
		if name := strings.TrimSpace(c.GetHeader(HeaderActorName)); name != "" {
			ctx = auditcontext.WithActorName(ctx, name)
		}
		if role := strings.TrimSpace(c.GetHeader(HeaderActorRole)); role != "" {
			ctx = auditcontext.WithRole(ctx, strings.ToLower(role))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, actorID := auditcontext.ActorFromContext(c.Request.Context()); actorID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
