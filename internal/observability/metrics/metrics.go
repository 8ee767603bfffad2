package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTLP counters for ledger activity. A nil *Metrics
// records nothing.
type Metrics struct {
	invoiceMutations metric.Int64Counter
	payments         metric.Int64Counter
	importRows       metric.Int64Counter
	reconciled       metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider installs the global meter provider. Disabled metrics get the
// noop provider so instruments can always be created.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)
	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("metrics exporter ready",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(valueOr(cfg.ServiceName, "receivables"))

	m := &Metrics{}
	for _, inst := range []struct {
		counter *metric.Int64Counter
		name    string
		desc    string
	}{
		{&m.invoiceMutations, "receivables_invoice_mutations_total", "Committed invoice writes by operation."},
		{&m.payments, "receivables_payments_recorded_total", "Payment writes by mode and operation."},
		{&m.importRows, "receivables_import_rows_total", "Imported rows by outcome."},
		{&m.reconciled, "receivables_reconcile_invoices_total", "Reconcile sweep results by outcome."},
		{&m.rateLimitAllowed, "receivables_rate_limit_allowed_total", "Requests admitted by the rate limiter."},
		{&m.rateLimitDenied, "receivables_rate_limit_denied_total", "Requests rejected by the rate limiter."},
	} {
		counter, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", inst.name, err)
		}
		*inst.counter = counter
	}
	return m, nil
}

func (m *Metrics) RecordInvoiceMutation(ctx context.Context, operation string) {
	if m != nil {
		add(ctx, m.invoiceMutations, 1, attribute.String("operation", operation))
	}
}

func (m *Metrics) RecordPayment(ctx context.Context, mode, operation string) {
	if m != nil {
		add(ctx, m.payments, 1, attribute.String("mode", mode), attribute.String("operation", operation))
	}
}

// RecordImportRows takes outcome "success" or "failed".
func (m *Metrics) RecordImportRows(ctx context.Context, outcome string, count int) {
	if m != nil {
		add(ctx, m.importRows, count, attribute.String("outcome", outcome))
	}
}

// RecordReconcile takes outcome updated, unchanged, conflict or failed.
func (m *Metrics) RecordReconcile(ctx context.Context, outcome string, count int) {
	if m != nil {
		add(ctx, m.reconciled, count, attribute.String("outcome", outcome))
	}
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m != nil {
		add(ctx, m.rateLimitAllowed, 1, attribute.String("endpoint", endpoint))
	}
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m != nil {
		add(ctx, m.rateLimitDenied, 1, attribute.String("endpoint", endpoint), attribute.String("reason", reason))
	}
}

func add(ctx context.Context, counter metric.Int64Counter, n int, attrs ...attribute.KeyValue) {
	if counter == nil || n <= 0 {
		return
	}
	for i, attr := range attrs {
		attrs[i] = attribute.String(string(attr.Key), strings.TrimSpace(attr.Value.AsString()))
	}
	counter.Add(ctx, int64(n), metric.WithAttributes(FilterAttributes(attrs...)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// Invoice and payment ids never become labels.
var allowedLabelKeys = map[attribute.Key]bool{
	"endpoint":    true,
	"status_code": true,
	"operation":   true,
	"mode":        true,
	"outcome":     true,
	"reason":      true,
}

func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := attrs[:0:0]
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}
