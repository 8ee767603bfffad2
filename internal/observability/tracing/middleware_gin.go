package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/receivables/internal/auditcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "receivables/http"

// GinMiddleware opens one server span per request, continuing any upstream
// trace found in the headers. Must run after the request id is assigned.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(httpTracerName)
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(c.Request.Method),
				semconv.HTTPRoute(route),
			),
		)
		defer span.End()

		if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.FromContext(ctx).SetMember(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		attrs := []attribute.KeyValue{semconv.HTTPResponseStatusCode(status)}
		if invoiceID := c.Param("id"); invoiceID != "" {
			attrs = append(attrs, attribute.String("invoice_id", invoiceID))
		}
		if actorType, actorID := auditcontext.ActorFromContext(c.Request.Context()); actorID != "" {
			attrs = append(attrs, attribute.String("actor_type", actorType), attribute.String("actor_id", actorID))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			if err := SafeError(last.Err); err != nil {
				span.RecordError(err)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
