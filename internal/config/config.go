// Package config provides application configuration. Values start from
// built-in defaults, are overlaid by an optional TOML file (CONFIG_FILE) and
// finally by environment variables, which may come from a .env file.
// There is no package-level instance: callers own the *Config they load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string        `toml:"port"`                   // e.g. "8080"
	BackofficePort       string        `toml:"backoffice_port"`        // e.g. "8081"
	Env                  string        `toml:"env"`                    // "development" | "production"
	ReadTimeout          time.Duration `toml:"read_timeout"`           // default 10s
	WriteTimeout         time.Duration `toml:"write_timeout"`          // default 10s
	ShutdownTimeout      time.Duration `toml:"shutdown_timeout"`       // default 10s
	BackofficeAllowedIPs string        `toml:"backoffice_allowed_ips"` // comma-separated IPs; "" = allow all
	WSAllowedOrigins     string        `toml:"ws_allowed_origins"`     // comma-separated; "" = allow all
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Driver          string        `toml:"driver"` // "postgres" (lib/pq), "pgx" or "memory"
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`    // default 25
	MaxIdleConns    int           `toml:"max_idle_conns"`    // default 10
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"` // default 5m
	MigrationsDir   string        `toml:"migrations_dir"`    // default "migrations"
}

// JWTConfig holds JWT signing settings.
type JWTConfig struct {
	AccessSecret string        `toml:"access_secret"` // must be set
	AccessTTL    time.Duration `toml:"access_ttl"`    // default 15m
	RefreshTTL   time.Duration `toml:"refresh_ttl"`   // default 720h (30 days)
	AdminTTL     time.Duration `toml:"admin_ttl"`     // default 8h
}

// BettingConfig holds stake and fee settings.
type BettingConfig struct {
	CommissionRate  float64       `toml:"commission_rate"`   // pool commission, 0 = none
	DefaultMinStake int64         `toml:"default_min_stake"` // used when an event omits it
	DefaultMaxStake int64         `toml:"default_max_stake"`
	EventCacheTTL   time.Duration `toml:"event_cache_ttl"` // staleness window of the active-event cache
}

// DialogueConfig holds the lifetimes of the bet-entry dialogue states.
type DialogueConfig struct {
	SelectingTTL time.Duration `toml:"selecting_ttl"` // default 5m
	AmountTTL    time.Duration `toml:"amount_ttl"`    // default 5m
	PaymentTTL   time.Duration `toml:"payment_ttl"`   // default 10m
}

// OracleConfig holds decision-service settings.
type OracleConfig struct {
	BaseURL             string        `toml:"base_url"` // "" disables auto-resolution
	APIKey              string        `toml:"api_key"`
	PollInterval        time.Duration `toml:"poll_interval"`        // default 5s
	MaxAttempts         int           `toml:"max_attempts"`         // default 60
	Timeout             time.Duration `toml:"timeout"`              // wall clock, default 5m
	ConfidenceThreshold float64       `toml:"confidence_threshold"` // default 0.7
	HTTPRetries         int           `toml:"http_retries"`         // default 3
	HTTPTimeout         time.Duration `toml:"http_timeout"`         // per request, default 10s
	AutoResolveInterval time.Duration `toml:"auto_resolve_interval"`
}

// PaymentConfig holds Telegram bot and Stars payment settings.
type PaymentConfig struct {
	TelegramToken string        `toml:"telegram_token"` // "" disables messaging and payments
	WebhookSecret string        `toml:"webhook_secret"` // HMAC key for payment confirmations
	ChargeTTL     time.Duration `toml:"charge_ttl"`     // pending top-ups expire after this
	FollowUpEvery time.Duration `toml:"follow_up_every"`
}

// RedisConfig holds the optional Redis connection.
type RedisConfig struct {
	Addr     string `toml:"addr"` // "" disables Redis (in-memory dialogue store, local locks)
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	PoolSize int    `toml:"pool_size"`
}

// NotifyConfig sizes the background delivery queues.
type NotifyConfig struct {
	QueueSize    int           `toml:"queue_size"`    // default 1024
	DrainTimeout time.Duration `toml:"drain_timeout"` // default 5s
}

// PublishConfig selects where domain events are published.
type PublishConfig struct {
	Driver  string `toml:"driver"`  // "none" | "kafka" | "nats"
	Brokers string `toml:"brokers"` // kafka: comma-separated; nats: server URL
	Topic   string `toml:"topic"`   // kafka topic or JetStream subject prefix
	Stream  string `toml:"stream"`  // JetStream stream name
}

// ArchiveConfig holds the S3-compatible bucket for oracle transcripts.
type ArchiveConfig struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"` // "" disables archiving
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MetricsConfig holds the ops server settings.
type MetricsConfig struct {
	Port string `toml:"port"` // "" disables the ops server
}

// AdminConfig holds back-office operator credentials.
type AdminConfig struct {
	OperatorKeyHash string `toml:"operator_key_hash"` // bcrypt hash of the operator API key
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	DB       DBConfig       `toml:"db"`
	JWT      JWTConfig      `toml:"jwt"`
	Betting  BettingConfig  `toml:"betting"`
	Dialogue DialogueConfig `toml:"dialogue"`
	Oracle   OracleConfig   `toml:"oracle"`
	Payment  PaymentConfig  `toml:"payment"`
	Redis    RedisConfig    `toml:"redis"`
	Notify   NotifyConfig   `toml:"notify"`
	Publish  PublishConfig  `toml:"publish"`
	Archive  ArchiveConfig  `toml:"archive"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Admin    AdminConfig    `toml:"admin"`
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			BackofficePort:  "8081",
			Env:             "development",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		DB: DBConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			MigrationsDir:   "migrations",
		},
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			AdminTTL:   8 * time.Hour,
		},
		Betting: BettingConfig{
			DefaultMinStake: 10,
			DefaultMaxStake: 10000,
			EventCacheTTL:   2 * time.Second,
		},
		Dialogue: DialogueConfig{
			SelectingTTL: 5 * time.Minute,
			AmountTTL:    5 * time.Minute,
			PaymentTTL:   10 * time.Minute,
		},
		Oracle: OracleConfig{
			PollInterval:        5 * time.Second,
			MaxAttempts:         60,
			Timeout:             5 * time.Minute,
			ConfidenceThreshold: 0.7,
			HTTPRetries:         3,
			HTTPTimeout:         10 * time.Second,
			AutoResolveInterval: time.Minute,
		},
		Payment: PaymentConfig{
			ChargeTTL:     30 * time.Minute,
			FollowUpEvery: time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Notify: NotifyConfig{
			QueueSize:    1024,
			DrainTimeout: 5 * time.Second,
		},
		Publish: PublishConfig{
			Driver: "none",
			Topic:  "betledger.events",
			Stream: "BETLEDGER",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
		},
		Metrics: MetricsConfig{
			Port: "9090",
		},
	}
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	switch c.DB.Driver {
	case "postgres", "pgx":
		if c.IsProd() && c.DB.DSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
		}
	case "memory":
		if c.IsProd() {
			errs = append(errs, errors.New("DB_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres, pgx or memory, got %q", c.DB.Driver))
	}

	if c.Betting.CommissionRate < 0 || c.Betting.CommissionRate >= 1 {
		errs = append(errs, fmt.Errorf(
			"BETTING_COMMISSION_RATE must be in [0, 1), got %.4f", c.Betting.CommissionRate))
	}
	if c.Betting.DefaultMinStake <= 0 || c.Betting.DefaultMaxStake < c.Betting.DefaultMinStake {
		errs = append(errs, fmt.Errorf("default stake bounds are invalid: min=%d max=%d",
			c.Betting.DefaultMinStake, c.Betting.DefaultMaxStake))
	}

	if c.Dialogue.SelectingTTL <= 0 || c.Dialogue.AmountTTL <= 0 || c.Dialogue.PaymentTTL <= 0 {
		errs = append(errs, errors.New("dialogue TTLs must be positive"))
	}

	if c.Oracle.BaseURL != "" {
		if c.Oracle.PollInterval <= 0 || c.Oracle.MaxAttempts <= 0 || c.Oracle.Timeout <= 0 {
			errs = append(errs, errors.New("oracle poll interval, attempts and timeout must be positive"))
		}
		if c.Oracle.ConfidenceThreshold < 0 || c.Oracle.ConfidenceThreshold > 1 {
			errs = append(errs, fmt.Errorf(
				"ORACLE_CONFIDENCE_THRESHOLD must be in [0, 1], got %.2f", c.Oracle.ConfidenceThreshold))
		}
	}

	if c.Payment.TelegramToken != "" && c.Payment.WebhookSecret == "" {
		errs = append(errs, errors.New("PAYMENT_WEBHOOK_SECRET must be set when TELEGRAM_BOT_TOKEN is set"))
	}

	switch c.Publish.Driver {
	case "none", "":
	case "kafka", "nats":
		if c.Publish.Brokers == "" {
			errs = append(errs, fmt.Errorf("PUBLISH_BROKERS must be set for driver %q", c.Publish.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("PUBLISH_DRIVER must be none, kafka or nats, got %q", c.Publish.Driver))
	}

	if c.Notify.QueueSize <= 0 {
		errs = append(errs, errors.New("NOTIFY_QUEUE_SIZE must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Loading
// ──────────────────────────────────────────────────────────────────────────────

// Load builds a Config from defaults, the optional CONFIG_FILE and the
// environment. The result has NOT been validated.
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("config: failed to load: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) error {
	var errs []error
	intVar := func(dst *int, key string) {
		n, err := getInt(key, *dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	int64Var := func(dst *int64, key string) {
		n, err := getInt(key, int(*dst))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = int64(n)
	}
	floatVar := func(dst *float64, key string) {
		f, err := getFloat(key, *dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}

	// ── Server ────────────────────────────────────────────────────────────────
	s := &cfg.Server
	s.Port = getEnv("SERVER_PORT", s.Port)
	s.BackofficePort = getEnv("BACKOFFICE_PORT", s.BackofficePort)
	s.Env = getEnv("ENVIRONMENT", s.Env)
	s.ReadTimeout = getDuration("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getDuration("SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.ShutdownTimeout = getDuration("SERVER_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.BackofficeAllowedIPs = getEnv("BACKOFFICE_ALLOWED_IPS", s.BackofficeAllowedIPs)
	s.WSAllowedOrigins = getEnv("WS_ALLOWED_ORIGINS", s.WSAllowedOrigins)

	// ── Database ──────────────────────────────────────────────────────────────
	db := &cfg.DB
	db.Driver = getEnv("DB_DRIVER", db.Driver)
	db.DSN = getEnv("DATABASE_DSN", db.DSN)
	if db.DSN == "" && db.Driver != "memory" {
		// Build DSN from individual components for convenience in dev
		db.DSN = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "betledger"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	intVar(&db.MaxOpenConns, "DB_MAX_OPEN_CONNS")
	intVar(&db.MaxIdleConns, "DB_MAX_IDLE_CONNS")
	db.ConnMaxLifetime = getDuration("DB_CONN_MAX_LIFETIME", db.ConnMaxLifetime)
	db.MigrationsDir = getEnv("DB_MIGRATIONS_DIR", db.MigrationsDir)

	// ── JWT ───────────────────────────────────────────────────────────────────
	cfg.JWT.AccessSecret = getEnv("JWT_ACCESS_SECRET", cfg.JWT.AccessSecret)
	cfg.JWT.AccessTTL = getDuration("JWT_ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.JWT.RefreshTTL = getDuration("JWT_REFRESH_TTL", cfg.JWT.RefreshTTL)
	cfg.JWT.AdminTTL = getDuration("JWT_ADMIN_TTL", cfg.JWT.AdminTTL)

	// ── Betting / dialogue ────────────────────────────────────────────────────
	floatVar(&cfg.Betting.CommissionRate, "BETTING_COMMISSION_RATE")
	int64Var(&cfg.Betting.DefaultMinStake, "BETTING_DEFAULT_MIN_STAKE")
	int64Var(&cfg.Betting.DefaultMaxStake, "BETTING_DEFAULT_MAX_STAKE")
	cfg.Betting.EventCacheTTL = getDuration("EVENT_CACHE_TTL", cfg.Betting.EventCacheTTL)
	cfg.Dialogue.SelectingTTL = getDuration("DIALOGUE_SELECTING_TTL", cfg.Dialogue.SelectingTTL)
	cfg.Dialogue.AmountTTL = getDuration("DIALOGUE_AMOUNT_TTL", cfg.Dialogue.AmountTTL)
	cfg.Dialogue.PaymentTTL = getDuration("DIALOGUE_PAYMENT_TTL", cfg.Dialogue.PaymentTTL)

	// ── Oracle ────────────────────────────────────────────────────────────────
	o := &cfg.Oracle
	o.BaseURL = getEnv("ORACLE_BASE_URL", o.BaseURL)
	o.APIKey = getEnv("ORACLE_API_KEY", o.APIKey)
	o.PollInterval = getDuration("ORACLE_POLL_INTERVAL", o.PollInterval)
	intVar(&o.MaxAttempts, "ORACLE_MAX_ATTEMPTS")
	o.Timeout = getDuration("ORACLE_TIMEOUT", o.Timeout)
	floatVar(&o.ConfidenceThreshold, "ORACLE_CONFIDENCE_THRESHOLD")
	intVar(&o.HTTPRetries, "ORACLE_HTTP_RETRIES")
	o.HTTPTimeout = getDuration("ORACLE_HTTP_TIMEOUT", o.HTTPTimeout)
	o.AutoResolveInterval = getDuration("ORACLE_AUTO_RESOLVE_INTERVAL", o.AutoResolveInterval)

	// ── Payment ───────────────────────────────────────────────────────────────
	cfg.Payment.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.Payment.TelegramToken)
	cfg.Payment.WebhookSecret = getEnv("PAYMENT_WEBHOOK_SECRET", cfg.Payment.WebhookSecret)
	cfg.Payment.ChargeTTL = getDuration("PAYMENT_CHARGE_TTL", cfg.Payment.ChargeTTL)
	cfg.Payment.FollowUpEvery = getDuration("PAYMENT_FOLLOW_UP_INTERVAL", cfg.Payment.FollowUpEvery)

	// ── Redis ─────────────────────────────────────────────────────────────────
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	intVar(&cfg.Redis.DB, "REDIS_DB")
	intVar(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")

	// ── Queues / publishing ───────────────────────────────────────────────────
	intVar(&cfg.Notify.QueueSize, "NOTIFY_QUEUE_SIZE")
	cfg.Notify.DrainTimeout = getDuration("NOTIFY_DRAIN_TIMEOUT", cfg.Notify.DrainTimeout)
	cfg.Publish.Driver = getEnv("PUBLISH_DRIVER", cfg.Publish.Driver)
	cfg.Publish.Brokers = getEnv("PUBLISH_BROKERS", cfg.Publish.Brokers)
	cfg.Publish.Topic = getEnv("PUBLISH_TOPIC", cfg.Publish.Topic)
	cfg.Publish.Stream = getEnv("PUBLISH_STREAM", cfg.Publish.Stream)

	// ── Archive ───────────────────────────────────────────────────────────────
	a := &cfg.Archive
	a.Endpoint = getEnv("ARCHIVE_S3_ENDPOINT", a.Endpoint)
	a.Region = getEnv("ARCHIVE_S3_REGION", a.Region)
	a.Bucket = getEnv("ARCHIVE_S3_BUCKET", a.Bucket)
	a.AccessKey = getEnv("ARCHIVE_S3_ACCESS_KEY", a.AccessKey)
	a.SecretKey = getEnv("ARCHIVE_S3_SECRET_KEY", a.SecretKey)
	a.ForcePathStyle = getBool("ARCHIVE_S3_FORCE_PATH_STYLE", a.ForcePathStyle)

	// ── Ops / admin ───────────────────────────────────────────────────────────
	cfg.Metrics.Port = getEnv("METRICS_PORT", cfg.Metrics.Port)
	cfg.Admin.OperatorKeyHash = getEnv("ADMIN_OPERATOR_KEY_HASH", cfg.Admin.OperatorKeyHash)

	return errors.Join(errs...)
}

// SplitList splits a comma-separated setting, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float %q", v)
	}
	return f, nil
}

func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or unparsable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
