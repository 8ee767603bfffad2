package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLSTATE codes that abort a postgres transaction which may simply be retried.
var pgRetryable = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

const (
	pgUniqueViolation = "23505"
	myDuplicateEntry  = 1062
	myDeadlock        = 1213
	myLockWaitTimeout = 1205
)

// Driver messages seen when TranslateError is off or the dialect has no translator.
var duplicateMessages = []string{
	"duplicate key value violates unique constraint",
	"UNIQUE constraint failed",
}

// IsDuplicateKeyErr reports a unique constraint violation on any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || pgCode(err) == pgUniqueViolation || mysqlNumber(err) == myDuplicateEntry {
		return true
	}
	msg := err.Error()
	for _, fragment := range duplicateMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// IsConflictErr reports transaction aborts that a caller may retry.
func IsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	if pgRetryable[pgCode(err)] {
		return true
	}
	n := mysqlNumber(err)
	return n == myDeadlock || n == myLockWaitTimeout
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func mysqlNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}
