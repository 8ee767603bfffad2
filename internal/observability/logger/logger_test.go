package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := auditcontext.WithRequestID(context.Background(), "req-7")
	ctx = auditcontext.WithActor(ctx, "user", "u-1")
	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, "u-1", fields["actor_id"])
	assert.Equal(t, "user", fields["actor_type"])
}

func TestGinMiddlewareAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	var seen string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/api/v1/invoices/:id", func(c *gin.Context) {
		seen = auditcontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/invoices/9", nil))

	assert.Len(t, seen, 26)
	assert.Equal(t, seen, w.Header().Get("X-Request-Id"))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/api/v1/invoices/:id", fields["route"])
	assert.Equal(t, "9", fields["invoice_id"])

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/9", nil)
	req.Header.Set("X-Request-Id", "upstream-1")
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-1", seen)
}
