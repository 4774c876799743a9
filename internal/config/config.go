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

	HTTPAddr string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr string

	// Ledger tunables. LookbackWindow bounds how far behind the watermark
	// every reconciliation pass re-reads; SafetyMargin keeps the scan edge
	// behind "now" so the collector's own write latency never races us.
	LookbackWindow       time.Duration
	SafetyMargin         time.Duration
	PeriodLength         time.Duration
	MaxPassesRetained    int
	MaxScanAttempts      int
	ScanRetryBackoff     time.Duration
	ReconcileInterval    time.Duration
	ReconcilePassTimeout time.Duration
	ReconcileWorkers     int
	ReconcileBatchSize   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "northmeter"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr: strings.TrimSpace(getenv("REDIS_ADDR", "")),

		LookbackWindow:       getenvDuration("LOOKBACK_WINDOW", 72*time.Hour),
		SafetyMargin:         getenvDuration("SAFETY_MARGIN", 5*time.Minute),
		PeriodLength:         getenvDuration("PERIOD_LENGTH", 24*time.Hour),
		MaxPassesRetained:    getenvInt("MAX_PASSES_RETAINED", 32),
		MaxScanAttempts:      getenvInt("MAX_SCAN_ATTEMPTS", 3),
		ScanRetryBackoff:     getenvDuration("SCAN_RETRY_BACKOFF", 2*time.Second),
		ReconcileInterval:    getenvDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcilePassTimeout: getenvDuration("RECONCILE_PASS_TIMEOUT", 2*time.Minute),
		ReconcileWorkers:     getenvInt("RECONCILE_WORKERS", 4),
		ReconcileBatchSize:   getenvInt("RECONCILE_BATCH_SIZE", 100),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
