package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Ledger    LedgerConfig
	Reconcile ReconcileConfig
	Import    ImportConfig
	Activity  ActivityConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type LedgerConfig struct {
	Timezone   string
	PolicyPath string
}

// Location resolves the ledger timezone, falling back to UTC.
func (c LedgerConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

type ReconcileConfig struct {
	SchedulerEnabled bool
	Interval         time.Duration
	Timeout          time.Duration
	BatchSize        int
	LockTTL          time.Duration
}

type ImportConfig struct {
	MaxFileBytes     int64
	ErrorReportLimit int
	RatePerMinute    float64
	Burst            int
}

type ActivityConfig struct {
	QueueSize int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "receivables"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "receivables"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "receivables.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			Timezone:   getenv("LEDGER_TIMEZONE", "UTC"),
			PolicyPath: strings.TrimSpace(getenv("LEDGER_POLICY_PATH", "")),
		},
		Reconcile: ReconcileConfig{
			SchedulerEnabled: getenvBool("RECONCILE_SCHEDULER_ENABLED", true),
			Interval:         getenvDuration("RECONCILE_INTERVAL", time.Hour),
			Timeout:          getenvDuration("RECONCILE_TIMEOUT", 10*time.Minute),
			BatchSize:        getenvInt("RECONCILE_BATCH_SIZE", 200),
			LockTTL:          getenvDuration("RECONCILE_LOCK_TTL", 15*time.Minute),
		},
		Import: ImportConfig{
			MaxFileBytes:     getenvInt64("IMPORT_MAX_FILE_BYTES", 10<<20),
			ErrorReportLimit: getenvInt("IMPORT_ERROR_REPORT_LIMIT", 50),
			RatePerMinute:    getenvFloat("IMPORT_RATE_PER_MINUTE", 6),
			Burst:            getenvInt("IMPORT_BURST", 3),
		},
		Activity: ActivityConfig{
			QueueSize: getenvInt("ACTIVITY_QUEUE_SIZE", 1024),
		},
	}

	return cfg
}

// IsDevelopment reports whether the service runs in a local environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
