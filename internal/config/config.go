package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the tracker.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	SQLite    SQLiteConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Mail      MailConfig
	Excel     ExcelConfig
	Scheduler SchedulerConfig
	Policy    PolicyConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig selects the ticket store: sqlite, postgres or memory.
type StoreConfig struct {
	Driver string
}

// SQLiteConfig holds the local database file settings.
type SQLiteConfig struct {
	Path          string
	BusyTimeoutMS int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables the
// scheduler lease.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NATSConfig configures event fan-out. An empty URL keeps events in-process.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// MailConfig describes the mailbox spool and the outgoing SMTP relay.
type MailConfig struct {
	SpoolDir          string
	SenderFilterMode  string
	SenderFilterValue string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPUseTLS        bool
	SMTPTimeoutSec    int
	From              string
	PreviewDir        string
}

// ExcelConfig locates the spreadsheet mirror.
type ExcelConfig struct {
	Path     string
	Password string
	Sheet    string
}

// SchedulerConfig drives the periodic cycle.
type SchedulerConfig struct {
	IntervalSeconds int
	LeaseKey        string
	LeaseTTLSeconds int
}

// Load reads configuration from environment variables, applying defaults
// where possible. When POLICY_FILE is set its values sit between the defaults
// and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	policy := DefaultPolicy()
	if path := os.Getenv("POLICY_FILE"); path != "" {
		if err := policy.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := policy.applyEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "slatracker"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		},
		SQLite: SQLiteConfig{
			Path:          getEnv("SQLITE_PATH", "data/tickets.sqlite"),
			BusyTimeoutMS: getEnvAsInt("SQLITE_BUSY_TIMEOUT_MS", 5000),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "slatracker.tickets"),
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Mail: MailConfig{
			SpoolDir:          getEnv("SPOOL_DIR", "data/inbox"),
			SenderFilterMode:  strings.ToLower(getEnv("SENDER_FILTER_MODE", "off")),
			SenderFilterValue: os.Getenv("SENDER_FILTER_VALUE"),
			SMTPHost:          os.Getenv("SMTP_HOST"),
			SMTPPort:          getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername:      os.Getenv("SMTP_USERNAME"),
			SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
			SMTPUseTLS:        getEnvAsBool("SMTP_USE_TLS", false),
			SMTPTimeoutSec:    getEnvAsInt("SMTP_TIMEOUT_SECONDS", 30),
			From:              getEnv("SMTP_FROM", "sla-bot@example.com"),
			PreviewDir:        getEnv("PREVIEW_DIR", "data/previews"),
		},
		Excel: ExcelConfig{
			Path:     getEnv("EXCEL_PATH", "data/tickets.xlsx"),
			Password: os.Getenv("EXCEL_PASSWORD"),
			Sheet:    getEnv("EXCEL_SHEET", "Tickets"),
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: getEnvAsInt("SCHEDULER_INTERVAL_SECONDS", 300),
			LeaseKey:        getEnv("SCHEDULER_LEASE_KEY", "slatracker:cycle"),
			LeaseTTLSeconds: getEnvAsInt("SCHEDULER_LEASE_TTL_SECONDS", 240),
		},
		Policy: policy,
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", cfg.Store.Driver)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the cycle period.
func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// LeaseTTL returns how long a scheduler holds the cycle lease.
func (s SchedulerConfig) LeaseTTL() time.Duration {
	if s.LeaseTTLSeconds <= 0 {
		return s.Interval()
	}
	return time.Duration(s.LeaseTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return splitList(val)
}

func splitList(val string) []string {
	parts := strings.FieldsFunc(val, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
