package db

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/receivables/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dialectors = map[string]func(cfg config.Config) gorm.Dialector{
	"postgres": func(cfg config.Config) gorm.Dialector {
		return postgres.Open(fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode))
	},
	"mysql": func(cfg config.Config) gorm.Dialector {
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName))
	},
	"sqlite": func(cfg config.Config) gorm.Dialector {
		return sqlite.Open(cfg.DBPath)
	},
}

// Dialect picks the gorm driver for DB_TYPE. Timestamps are always UTC.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	open, ok := dialectors[strings.ToLower(strings.TrimSpace(cfg.DBType))]
	if !ok {
		return nil, fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
	return open(cfg), nil
}

// SupportsRowLocks reports whether the dialect honours SELECT ... FOR UPDATE.
func SupportsRowLocks(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() != "sqlite"
}
