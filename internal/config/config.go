package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/openctemio/groups/pkg/logger"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Lock backends.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Worker     WorkerConfig
	Membership MembershipConfig
	Telemetry  TelemetryConfig
	Metrics    MetricsConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string

	SamplingEnabled   bool
	SamplingThreshold int
	SamplingEvery     int

	AsyncEnabled    bool
	AsyncBufferSize int
}

// WorkerConfig holds background worker configuration.
type WorkerConfig struct {
	Concurrency     int
	CleanupSchedule string        // cron spec for the stale draft sweep
	DraftInviteTTL  time.Duration // drafts untouched for longer are purged
}

// MembershipConfig holds membership engine configuration.
type MembershipConfig struct {
	LockBackend    string
	LockTTL        time.Duration
	LockWait       time.Duration
	DefaultPerPage int
}

// TelemetryConfig holds tracing configuration. Tracing is off when
// OTLPEndpoint is empty.
type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// MetricsConfig holds the worker's HTTP listener for /metrics and /healthz.
type MetricsConfig struct {
	Addr string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; real environment variables
// win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "groups"),
			Env:   getEnv("APP_ENV", EnvDevelopment),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "groups"),
			Password:        getEnv("DB_PASSWORD", "secret"),
			Name:            getEnv("DB_NAME", "groups"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrateOnStart:  getEnvBool("DB_MIGRATE_ON_START", false),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Format:            getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:   getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold: getEnvInt("LOG_SAMPLING_THRESHOLD", 100),
			SamplingEvery:     getEnvInt("LOG_SAMPLING_EVERY", 10),
			AsyncEnabled:      getEnvBool("LOG_ASYNC_ENABLED", false),
			AsyncBufferSize:   getEnvInt("LOG_ASYNC_BUFFER_SIZE", 4096),
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 10),
			CleanupSchedule: getEnv("WORKER_CLEANUP_SCHEDULE", "@hourly"),
			DraftInviteTTL:  getEnvDuration("WORKER_DRAFT_INVITE_TTL", 30*24*time.Hour),
		},
		Membership: MembershipConfig{
			LockBackend:    getEnv("MEMBERSHIP_LOCK_BACKEND", LockBackendPostgres),
			LockTTL:        getEnvDuration("MEMBERSHIP_LOCK_TTL", 10*time.Second),
			LockWait:       getEnvDuration("MEMBERSHIP_LOCK_WAIT", 5*time.Second),
			DefaultPerPage: getEnvInt("MEMBERSHIP_DEFAULT_PER_PAGE", 20),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "groups"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9100"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if err := c.validateLog(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateMembership(); err != nil {
		return err
	}
	if c.IsProduction() {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}
	if c.Log.SamplingThreshold < 0 {
		return fmt.Errorf("LOG_SAMPLING_THRESHOLD must be non-negative, got %d", c.Log.SamplingThreshold)
	}
	if c.Log.SamplingEvery < 0 {
		return fmt.Errorf("LOG_SAMPLING_EVERY must be non-negative, got %d", c.Log.SamplingEvery)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.CleanupSchedule == "" {
		return fmt.Errorf("WORKER_CLEANUP_SCHEDULE is required")
	}
	if c.Worker.DraftInviteTTL <= 0 {
		return fmt.Errorf("WORKER_DRAFT_INVITE_TTL must be positive, got %v", c.Worker.DraftInviteTTL)
	}
	return nil
}

func (c *Config) validateMembership() error {
	switch c.Membership.LockBackend {
	case LockBackendPostgres, LockBackendRedis:
	default:
		return fmt.Errorf("invalid MEMBERSHIP_LOCK_BACKEND: %s (must be postgres or redis)", c.Membership.LockBackend)
	}
	if c.Membership.LockTTL <= 0 {
		return fmt.Errorf("MEMBERSHIP_LOCK_TTL must be positive, got %v", c.Membership.LockTTL)
	}
	if c.Membership.LockWait < 0 {
		return fmt.Errorf("MEMBERSHIP_LOCK_WAIT must be non-negative, got %v", c.Membership.LockWait)
	}
	if c.Membership.DefaultPerPage < 1 || c.Membership.DefaultPerPage > 100 {
		return fmt.Errorf("MEMBERSHIP_DEFAULT_PER_PAGE must be between 1 and 100, got %d", c.Membership.DefaultPerPage)
	}
	return nil
}

// validateProduction validates settings that only matter in production.
func (c *Config) validateProduction() error {
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	if strings.EqualFold(c.Log.Level, "debug") {
		return fmt.Errorf("log level should not be 'debug' in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the database connection string in URL form, as migration
// drivers expect it.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggerConfig maps the log section onto the logger package.
func (c *LogConfig) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.Sampling = logger.SamplingConfig{
		Enabled:     c.SamplingEnabled,
		Threshold:   c.SamplingThreshold,
		Every:       c.SamplingEvery,
		NeverSample: []string{"membership transition failed"},
	}
	cfg.Async = logger.AsyncConfig{
		Enabled:    c.AsyncEnabled,
		BufferSize: c.AsyncBufferSize,
	}
	return cfg
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == EnvDevelopment
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
