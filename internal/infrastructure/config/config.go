package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/loanpurchase/backend/internal/domain/shared"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	SQLitePath      string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// StorageConfig holds artifact store settings
type StorageConfig struct {
	Backend      string // s3 or local
	LocalDir     string
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
	EnsureBucket bool
}

// PipelineConfig holds the business rule parameters and collaborator wiring
// of the loan purchase pipeline
type PipelineConfig struct {
	ReferenceDir       string
	BatchDir           string
	EarlyCutoff        time.Time
	LateCutoff         time.Time
	VariantSplit       time.Time
	CarryoverCutoff    time.Time
	PurchaseWindowDays int
	UnderwritingExempt []string
	Holidays           []time.Time
	StaleAfter         time.Duration
	ReconcileInterval  time.Duration
	ParallelEvaluators bool
	RegistryBackend    string // memory or redis
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LPP_ prefix (e.g., LPP_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("LPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return build(v)
}

// purchaseWindowDays defaults to 2 only when the key is absent; an explicit
// 0 restricts purchases to today.
func purchaseWindowDays(v *viper.Viper) int {
	if !v.IsSet("pipeline.purchase_window_days") {
		return 2
	}
	return v.GetInt("pipeline.purchase_window_days")
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Storage: StorageConfig{
			Backend:      v.GetString("storage.backend"),
			LocalDir:     v.GetString("storage.local_dir"),
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
			EnsureBucket: v.GetBool("storage.ensure_bucket"),
		},
		Pipeline: PipelineConfig{
			ReferenceDir:       v.GetString("pipeline.reference_dir"),
			BatchDir:           v.GetString("pipeline.batch_dir"),
			PurchaseWindowDays: purchaseWindowDays(v),
			UnderwritingExempt: v.GetStringSlice("pipeline.underwriting_exempt"),
			StaleAfter:         v.GetDuration("pipeline.stale_after"),
			ReconcileInterval:  v.GetDuration("pipeline.reconcile_interval"),
			ParallelEvaluators: v.GetBool("pipeline.parallel_evaluators"),
			RegistryBackend:    v.GetString("pipeline.registry_backend"),
		},
	}

	dates := []struct {
		key string
		dst *time.Time
	}{
		{"pipeline.early_cutoff", &cfg.Pipeline.EarlyCutoff},
		{"pipeline.late_cutoff", &cfg.Pipeline.LateCutoff},
		{"pipeline.variant_split", &cfg.Pipeline.VariantSplit},
		{"pipeline.carryover_cutoff", &cfg.Pipeline.CarryoverCutoff},
	}
	for _, d := range dates {
		raw := strings.TrimSpace(v.GetString(d.key))
		if raw == "" {
			continue
		}
		parsed, err := shared.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	for _, raw := range v.GetStringSlice("pipeline.holidays") {
		parsed, err := shared.ParseDate(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("pipeline.holidays: %w", err)
		}
		cfg.Pipeline.Holidays = append(cfg.Pipeline.Holidays, parsed)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "loan-purchase-pipeline"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "loan_purchase"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "loan_purchase.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "lpp:run:"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "loan-purchase-pipeline"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = "artifacts"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Pipeline.ReferenceDir == "" {
		cfg.Pipeline.ReferenceDir = "config/reference"
	}
	if cfg.Pipeline.BatchDir == "" {
		cfg.Pipeline.BatchDir = "data/batches"
	}
	if cfg.Pipeline.EarlyCutoff.IsZero() {
		cfg.Pipeline.EarlyCutoff = shared.Date(2025, time.June, 1)
	}
	if cfg.Pipeline.LateCutoff.IsZero() {
		cfg.Pipeline.LateCutoff = shared.Date(2025, time.October, 1)
	}
	if cfg.Pipeline.VariantSplit.IsZero() {
		cfg.Pipeline.VariantSplit = shared.Date(2026, time.January, 1)
	}
	if cfg.Pipeline.CarryoverCutoff.IsZero() {
		cfg.Pipeline.CarryoverCutoff = cfg.Pipeline.LateCutoff
	}
	if cfg.Pipeline.StaleAfter == 0 {
		cfg.Pipeline.StaleAfter = 2 * time.Hour
	}
	if cfg.Pipeline.ReconcileInterval == 0 {
		cfg.Pipeline.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Pipeline.RegistryBackend == "" {
		cfg.Pipeline.RegistryBackend = "memory"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or s3, got %q", c.Storage.Backend)
	}

	switch c.Pipeline.RegistryBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("pipeline.registry_backend must be memory or redis, got %q", c.Pipeline.RegistryBackend)
	}
	if !c.Pipeline.EarlyCutoff.Before(c.Pipeline.LateCutoff) {
		return fmt.Errorf("pipeline.early_cutoff must precede pipeline.late_cutoff")
	}
	if c.Pipeline.VariantSplit.Before(c.Pipeline.LateCutoff) {
		return fmt.Errorf("pipeline.variant_split cannot precede pipeline.late_cutoff")
	}
	if c.Pipeline.PurchaseWindowDays < 0 {
		return fmt.Errorf("pipeline.purchase_window_days cannot be negative")
	}
	if c.Pipeline.StaleAfter <= 0 {
		return fmt.Errorf("pipeline.stale_after must be positive")
	}

	if c.App.Env == "production" {
		if c.Database.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.Driver == "postgres" && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Pipeline.RegistryBackend == "memory" {
			return fmt.Errorf("pipeline.registry_backend must be redis in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
