package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Log          LogConfig
	HTTP         HTTPConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	Notification NotificationConfig
	Telemetry    TelemetryConfig
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
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	// AutoMigrate applies the embedded migrations on server start
	AutoMigrate     bool
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings.
// An empty Host disables the Redis idempotency fast path.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds settings for verifying bearer tokens issued by the identity service
type JWTConfig struct {
	Secret string
	Issuer string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	MaxBodySize     int64
	WebhookMaxBytes int64
	TrustedProxies  []string
	AllowedOrigins  []string // CORS; empty refuses cross-origin requests
}

// StripeConfig holds payment gateway settings
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	IsTestMode    bool
	// Tolerance is the maximum age of a signed webhook payload
	Tolerance time.Duration
	// PriceIDs maps plan types to gateway price IDs
	PriceIDs map[string]string
	// AddonPriceIDs maps add-on types to gateway price IDs
	AddonPriceIDs map[string]string
}

// PlanConfig describes one plan of the catalog
type PlanConfig struct {
	Type           string           `mapstructure:"type"`
	Name           string           `mapstructure:"name"`
	MaxUsers       int              `mapstructure:"max_users"`
	MaxChannels    int              `mapstructure:"max_channels"`
	MonthlyCredits map[string]int64 `mapstructure:"monthly_credits"`
}

// AddonConfig describes one add-on of the catalog
type AddonConfig struct {
	Type      string `mapstructure:"type"`
	Name      string `mapstructure:"name"`
	Dimension string `mapstructure:"dimension"` // users or channels
}

// BillingConfig holds ledger, webhook and scheduling settings
type BillingConfig struct {
	// Plans and Addons define the plan catalog; empty means the built-in catalog
	Plans               []PlanConfig
	Addons              []AddonConfig
	DefaultMaxUsers     int
	DefaultMaxChannels  int
	HandlerTimeout      time.Duration
	IdempotencyTTL      time.Duration
	SchedulerEnabled    bool
	ExpirySchedule      string // cron expression for the credit expiry sweep
	ReconcileSchedule   string // cron expression for reprocessing failed webhooks
	ReconcileBatchSize  int
	MaxWebhookRetries   int
	StalePendingAfter   time.Duration
	ScheduledJobTimeout time.Duration
}

// NotificationConfig holds outbound email settings
type NotificationConfig struct {
	Enabled      bool
	ResendAPIKey string
	FromAddress  string
	BillingURL   string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool          // Whether to enable OpenTelemetry
	CollectorEndpoint string        // OTEL Collector endpoint (e.g., "localhost:4317")
	ServiceName       string        // Service name for metrics
	Insecure          bool          // Use insecure (non-TLS) connection (development only)
	ExportInterval    time.Duration // Metric export interval
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings
	SamplingRatio     float64       // Trace sampling ratio, 0.0 to 1.0
	LogsEnabled       bool          // Export logs over OTLP
	LogExportLevel    string        // Minimum level exported over OTLP
	Profiling         ProfilingConfig
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled       bool
	ServerAddress string
	SpanProfiles  bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with METER_ prefix (e.g., METER_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("METER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			AutoMigrate:     v.GetBool("database.auto_migrate"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:  v.GetInt("http.max_header_bytes"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			WebhookMaxBytes: v.GetInt64("http.webhook_max_bytes"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
			AllowedOrigins:  v.GetStringSlice("http.allowed_origins"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe.secret_key"),
			WebhookSecret: v.GetString("stripe.webhook_secret"),
			IsTestMode:    v.GetBool("stripe.is_test_mode"),
			Tolerance:     v.GetDuration("stripe.tolerance"),
			PriceIDs:      v.GetStringMapString("stripe.price_ids"),
			AddonPriceIDs: v.GetStringMapString("stripe.addon_price_ids"),
		},
		Billing: BillingConfig{
			DefaultMaxUsers:     v.GetInt("billing.default_max_users"),
			DefaultMaxChannels:  v.GetInt("billing.default_max_channels"),
			HandlerTimeout:      v.GetDuration("billing.handler_timeout"),
			IdempotencyTTL:      v.GetDuration("billing.idempotency_ttl"),
			SchedulerEnabled:    v.GetBool("billing.scheduler_enabled"),
			ExpirySchedule:      v.GetString("billing.expiry_schedule"),
			ReconcileSchedule:   v.GetString("billing.reconcile_schedule"),
			ReconcileBatchSize:  v.GetInt("billing.reconcile_batch_size"),
			MaxWebhookRetries:   v.GetInt("billing.max_webhook_retries"),
			StalePendingAfter:   v.GetDuration("billing.stale_pending_after"),
			ScheduledJobTimeout: v.GetDuration("billing.scheduled_job_timeout"),
		},
		Notification: NotificationConfig{
			Enabled:      v.GetBool("notification.enabled"),
			ResendAPIKey: v.GetString("notification.resend_api_key"),
			FromAddress:  v.GetString("notification.from_address"),
			BillingURL:   v.GetString("notification.billing_url"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			LogExportLevel:    v.GetString("telemetry.log_export_level"),
			Profiling: ProfilingConfig{
				Enabled:       v.GetBool("telemetry.profiling.enabled"),
				ServerAddress: v.GetString("telemetry.profiling.server_address"),
				SpanProfiles:  v.GetBool("telemetry.profiling.span_profiles"),
			},
		},
	}

	if err := v.UnmarshalKey("billing.plans", &cfg.Billing.Plans); err != nil {
		return nil, fmt.Errorf("error decoding billing.plans: %w", err)
	}
	if err := v.UnmarshalKey("billing.addons", &cfg.Billing.Addons); err != nil {
		return nil, fmt.Errorf("error decoding billing.addons: %w", err)
	}

	applyDefaults(cfg, v)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.App.Name == "" {
		cfg.App.Name = "meter-billing"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
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
		cfg.Database.DBName = "meter"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "meter-identity"
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
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.WebhookMaxBytes == 0 {
		cfg.HTTP.WebhookMaxBytes = 65536
	}
	if cfg.Stripe.Tolerance == 0 {
		cfg.Stripe.Tolerance = 5 * time.Minute
	}
	if cfg.Billing.DefaultMaxUsers == 0 {
		cfg.Billing.DefaultMaxUsers = 1
	}
	if cfg.Billing.DefaultMaxChannels == 0 {
		cfg.Billing.DefaultMaxChannels = 1
	}
	if cfg.Billing.HandlerTimeout == 0 {
		cfg.Billing.HandlerTimeout = 10 * time.Second
	}
	if cfg.Billing.IdempotencyTTL == 0 {
		cfg.Billing.IdempotencyTTL = 72 * time.Hour
	}
	if cfg.Billing.ExpirySchedule == "" {
		cfg.Billing.ExpirySchedule = "15 3 * * *"
	}
	if cfg.Billing.ReconcileSchedule == "" {
		cfg.Billing.ReconcileSchedule = "*/10 * * * *"
	}
	if cfg.Billing.ReconcileBatchSize == 0 {
		cfg.Billing.ReconcileBatchSize = 50
	}
	if cfg.Billing.MaxWebhookRetries == 0 {
		cfg.Billing.MaxWebhookRetries = 5
	}
	if cfg.Billing.StalePendingAfter == 0 {
		cfg.Billing.StalePendingAfter = 15 * time.Minute
	}
	if cfg.Billing.ScheduledJobTimeout == 0 {
		cfg.Billing.ScheduledJobTimeout = 5 * time.Minute
	}
	if cfg.Notification.FromAddress == "" {
		cfg.Notification.FromAddress = "billing@meterly.io"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "meter-billing"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if !v.IsSet("telemetry.sampling_ratio") {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.LogExportLevel == "" {
		cfg.Telemetry.LogExportLevel = "info"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
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
	if c.Billing.HandlerTimeout < 0 {
		return fmt.Errorf("billing.handler_timeout cannot be negative")
	}
	if c.Billing.MaxWebhookRetries < 0 {
		return fmt.Errorf("billing.max_webhook_retries cannot be negative")
	}
	for _, a := range c.Billing.Addons {
		if a.Dimension != "" && a.Dimension != "users" && a.Dimension != "channels" {
			return fmt.Errorf("billing.addons: unknown dimension %q for add-on %q", a.Dimension, a.Type)
		}
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0 and 1")
	}
	if c.Telemetry.Profiling.Enabled && c.Telemetry.Profiling.ServerAddress == "" {
		return fmt.Errorf("telemetry.profiling.server_address is required when profiling is enabled")
	}
	if c.Notification.Enabled && c.Notification.ResendAPIKey == "" {
		return fmt.Errorf("notification.resend_api_key is required when notifications are enabled")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Stripe.WebhookSecret == "" {
			return fmt.Errorf("stripe.webhook_secret is required in production")
		}
		if c.Stripe.IsTestMode {
			return fmt.Errorf("stripe.is_test_mode must be false in production")
		}
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

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether Redis is configured
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}
