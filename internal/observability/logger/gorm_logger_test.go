package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestStatementVerb(t *testing.T) {
	assert.Equal(t, "SELECT", statementVerb(`SELECT * FROM "invoices" WHERE id = 1`))
	assert.Equal(t, "UPDATE", statementVerb("WITH due AS (SELECT 1) UPDATE invoices SET status = 'PAID'"))
	assert.Equal(t, "INSERT", statementVerb("insert into payments (id) values (1)"))
	assert.Equal(t, "DELETE", statementVerb("WITH RECURSIVE t(n) AS (SELECT 1 UNION SELECT n FROM (SELECT 2)) DELETE FROM payments"))
	assert.Equal(t, "SELECT", statementVerb("select count(*) from invoices"))
	assert.Equal(t, "UPDATE", statementVerb("UPDATE invoices SET status_update = 1"))
	assert.Equal(t, "UNKNOWN", statementVerb("PRAGMA foreign_keys = ON"))
}

func TestGormTraceLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	cfg := DefaultGormLoggerConfig()
	cfg.IgnoreRecordNotFound = true
	l := NewGormLogger(cfg)
	query := func() (string, int64) { return "SELECT * FROM invoices", 1 }

	l.Trace(context.Background(), time.Now(), query, nil)
	assert.Equal(t, 0, logs.Len())

	l.Trace(context.Background(), time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)

	l.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 1, logs.Len())

	l.Trace(context.Background(), time.Now(), query, errors.New("connection reset"))
	require.Equal(t, 2, logs.Len())
	entry := logs.All()[1]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "SELECT", entry.ContextMap()["operation"])

	l.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), query, errors.New("ignored"))
	assert.Equal(t, 2, logs.Len())
}
