package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/smallbiznis/receivables/internal/authorization"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	ctx := c.Request.Context()
	_, actorID := auditcontext.ActorFromContext(ctx)
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ErrUnauthorized
	}
	// The system identity belongs to in-process jobs only.
	if strings.EqualFold(actorID, authorization.ActorSystem) {
		return ErrForbidden
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, actorID, auditcontext.RoleFromContext(ctx), object, action)
}
