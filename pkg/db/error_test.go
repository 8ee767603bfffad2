package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: invoices.invoice_number")))
	assert.False(t, IsDuplicateKeyErr(errors.New("boom")))
}

func TestIsConflictErr(t *testing.T) {
	assert.True(t, IsConflictErr(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsConflictErr(fmt.Errorf("tx: %w", &pgconn.PgError{Code: "55P03"})))
	assert.False(t, IsConflictErr(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsConflictErr(nil))
}

func TestMySQLErrors(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.True(t, IsConflictErr(fmt.Errorf("update: %w", &mysql.MySQLError{Number: 1213})))
	assert.False(t, IsConflictErr(&mysql.MySQLError{Number: 1062}))
}
