package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/receivables/internal/auditcontext"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the process logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

func (c Config) sampling() (window time.Duration, initial, thereafter int) {
	window, initial, thereafter = c.SamplingWindow, c.SamplingInitial, c.SamplingThereafter
	if window <= 0 {
		window = time.Second
	}
	if initial <= 0 {
		initial = 100
	}
	if thereafter <= 0 {
		thereafter = 100
	}
	return window, initial, thereafter
}

// New builds the sampled zap logger, installs it as the global logger and
// syncs it when the app stops.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	levelText := strings.TrimSpace(cfg.Level)
	if levelText == "" {
		levelText = "info"
	}
	level, err := zap.ParseAtomicLevel(levelText)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelText, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	window, initial, thereafter := cfg.sampling()
	core := zapcore.NewSamplerWithOptions(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
		window, initial, thereafter,
	)

	opts := []zap.Option{zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "receivables"
	}
	log := zap.New(core, opts...).With(
		zap.String("service", service),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.StopHook(func() {
			_ = log.Sync()
		}))
	}
	return log, nil
}

// WithContext adds the request, actor and trace identifiers carried by ctx.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}
	actorType, actorID := auditcontext.ActorFromContext(ctx)
	fields := []zap.Field{
		zap.String("request_id", auditcontext.RequestIDFromContext(ctx)),
		zap.String("actor_type", actorType),
		zap.String("actor_id", actorID),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return base.With(fields...)
}
