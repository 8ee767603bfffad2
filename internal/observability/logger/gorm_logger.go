package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:         gormlogger.Warn,
		SlowThreshold: 200 * time.Millisecond,
	}
}

// GormLogger sends gorm output through the global zap logger, tagged with the
// request context of the query. Bound parameters are never logged.
type GormLogger struct {
	cfg GormLoggerConfig
}

var _ gormlogger.Interface = (*GormLogger)(nil)

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []any) {
	if l.cfg.Level < min {
		return
	}
	if ce := WithContext(ctx, zap.L()).Check(level, msg); ce != nil {
		ce.Write(zap.String("component", "gorm"), zap.Any("data", data))
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var level zapcore.Level
	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error && !(l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound)):
		level = zapcore.ErrorLevel
	case l.cfg.SlowThreshold > 0 && elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		level = zapcore.WarnLevel
		err = nil
	case l.cfg.Level >= gormlogger.Info:
		level = zapcore.DebugLevel
		err = nil
	default:
		return
	}

	ce := WithContext(ctx, zap.L()).Check(level, "gorm.query")
	if ce == nil {
		return
	}
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", strings.TrimSpace(sql)),
		zap.String("operation", statementVerb(sql)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}

// statementVerb returns the first DML keyword outside parentheses, so the
// body of a leading CTE does not count.
func statementVerb(sql string) string {
	upper := strings.ToUpper(sql)
	depth, start := 0, -1
	for i := 0; i <= len(upper); i++ {
		if i < len(upper) && isWordByte(upper[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			if depth == 0 {
				switch word := upper[start:i]; word {
				case "SELECT", "INSERT", "UPDATE", "DELETE":
					return word
				}
			}
			start = -1
		}
		if i == len(upper) {
			break
		}
		switch upper[i] {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return "UNKNOWN"
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
