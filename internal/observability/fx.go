package observability

import (
	"github.com/smallbiznis/receivables/internal/observability/logger"
	"github.com/smallbiznis/receivables/internal/observability/metrics"
	"github.com/smallbiznis/receivables/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the zap logger, the tracer provider and both metric
// registries for the ledger process.
var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
	),
	fx.Provide(logger.New),
	fx.Provide(tracing.NewProvider),
	fx.Provide(
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// Force construction so spans and job metrics are live before the first request.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
	fx.Invoke(func(cfg metrics.Config) { metrics.SchedulerWithConfig(cfg) }),
)
