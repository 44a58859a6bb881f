package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers understood by the application wiring.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type AppConfig struct {
	App         AppSettings        `mapstructure:"app"`
	Storage     StorageSettings    `mapstructure:"storage"`
	Postgres    PostgresSettings   `mapstructure:"postgres"`
	Redis       RedisSettings      `mapstructure:"redis"`
	Kafka       KafkaSettings      `mapstructure:"kafka"`
	JWT         JWTSettings        `mapstructure:"jwt"`
	Tokens      TokenSettings      `mapstructure:"tokens"`
	Lockout     LockoutSettings    `mapstructure:"lockout"`
	Codes       CodeSettings       `mapstructure:"codes"`
	TwoFactor   TwoFactorSettings  `mapstructure:"two_factor"`
	Permissions PermissionSettings `mapstructure:"permissions"`
	Password    PasswordSettings   `mapstructure:"password"`
	Telemetry   TelemetrySettings  `mapstructure:"telemetry"`
	RateLimit   RateLimitSettings  `mapstructure:"rate_limit"`
	Argon2      Argon2Settings     `mapstructure:"argon2"`
}

type AppSettings struct {
	Name        string   `mapstructure:"name"`
	Env         string   `mapstructure:"env"`
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageSettings selects the persistence backend.
type StorageSettings struct {
	Driver string `mapstructure:"driver"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// RedisSettings configures Redis connection, TLS and key namespaces
type RedisSettings struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	DB               int    `mapstructure:"db"`
	Password         string `mapstructure:"password"`
	TLSEnabled       bool   `mapstructure:"tls_enabled"`
	CodePrefix       string `mapstructure:"code_prefix"`
	RateLimitPrefix  string `mapstructure:"rate_limit_prefix"`
	RevocationPrefix string `mapstructure:"revocation_prefix"`
}

// KafkaSettings configures the Kafka producer. Empty brokers disable Kafka.
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	Async         bool     `mapstructure:"async"`
	DeliveryTopic string   `mapstructure:"delivery_topic"`
}

// Enabled reports whether at least one broker is configured.
func (k KafkaSettings) Enabled() bool {
	for _, broker := range k.Brokers {
		if strings.TrimSpace(broker) != "" {
			return true
		}
	}
	return false
}

// RateLimitSettings configures rate limiting windows and max attempts per endpoint
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts         int           `mapstructure:"login_max_attempts"`
	RegisterMaxAttempts      int           `mapstructure:"register_max_attempts"`
	RefreshMaxAttempts       int           `mapstructure:"refresh_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type JWTSettings struct {
	KeyDirectory string        `mapstructure:"key_directory"`
	KeyID        string        `mapstructure:"key_id"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	Leeway       time.Duration `mapstructure:"leeway"`
}

// TokenSettings controls credential lifetimes and secret lengths.
type TokenSettings struct {
	AccessTTL         time.Duration `mapstructure:"access_ttl"`
	RefreshTTL        time.Duration `mapstructure:"refresh_ttl"`
	RefreshLength     int           `mapstructure:"refresh_length"`
	ChallengeTTL      time.Duration `mapstructure:"challenge_ttl"`
	EmailTTL          time.Duration `mapstructure:"email_ttl"`
	EmailLength       int           `mapstructure:"email_length"`
	ResetTTL          time.Duration `mapstructure:"reset_ttl"`
	ResetLength       int           `mapstructure:"reset_length"`
	APIKeyLength      int           `mapstructure:"api_key_length"`
	RevocationCleanup time.Duration `mapstructure:"revocation_cleanup"`
}

type LockoutSettings struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Duration    time.Duration `mapstructure:"duration"`
}

// CodeSettings bounds short numeric verification codes.
type CodeSettings struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	ResendLimit  int           `mapstructure:"resend_limit"`
	ResendWindow time.Duration `mapstructure:"resend_window"`
}

type TwoFactorSettings struct {
	Issuer string `mapstructure:"issuer"`
	Skew   uint   `mapstructure:"skew"`
}

type PermissionSettings struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type PasswordSettings struct {
	MinLength           int `mapstructure:"min_length"`
	MinCharacterClasses int `mapstructure:"min_character_classes"`
	MinStrengthScore    int `mapstructure:"min_strength_score"`
}

type TelemetrySettings struct {
	MetricsPort  int     `mapstructure:"metrics_port"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.cors_origins",
	"storage.driver",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"postgres.auto_migrate",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.code_prefix",
	"redis.rate_limit_prefix",
	"redis.revocation_prefix",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.async",
	"kafka.delivery_topic",
	"jwt.key_directory",
	"jwt.key_id",
	"jwt.issuer",
	"jwt.audience",
	"jwt.leeway",
	"tokens.access_ttl",
	"tokens.refresh_ttl",
	"tokens.refresh_length",
	"tokens.challenge_ttl",
	"tokens.email_ttl",
	"tokens.email_length",
	"tokens.reset_ttl",
	"tokens.reset_length",
	"tokens.api_key_length",
	"tokens.revocation_cleanup",
	"lockout.max_attempts",
	"lockout.duration",
	"codes.max_attempts",
	"codes.resend_limit",
	"codes.resend_window",
	"two_factor.issuer",
	"two_factor.skew",
	"permissions.cache_ttl",
	"password.min_length",
	"password.min_character_classes",
	"password.min_strength_score",
	"telemetry.metrics_port",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"rate_limit.window_duration",
	"rate_limit.login_max_attempts",
	"rate_limit.register_max_attempts",
	"rate_limit.refresh_max_attempts",
	"rate_limit.password_reset_max_attempts",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the application cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Lockout.MaxAttempts <= 0 {
		return fmt.Errorf("config: lockout.max_attempts must be positive")
	}
	if c.Lockout.Duration <= 0 {
		return fmt.Errorf("config: lockout.duration must be positive")
	}
	if c.Codes.MaxAttempts <= 0 {
		return fmt.Errorf("config: codes.max_attempts must be positive")
	}
	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return fmt.Errorf("config: token lifetimes must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "credential-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.cors_origins", []string{})

	v.SetDefault("storage.driver", StorageDriverPostgres)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "iam")
	v.SetDefault("postgres.password", "iam_password")
	v.SetDefault("postgres.database", "iam")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.code_prefix", "iam:code")
	v.SetDefault("redis.rate_limit_prefix", "iam:rate")
	v.SetDefault("redis.revocation_prefix", "iam:revoked")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "iam")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.delivery_topic", "notification.delivery")

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.key_id", "primary")
	v.SetDefault("jwt.issuer", "credential-engine")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.leeway", "30s")

	v.SetDefault("tokens.access_ttl", "15m")
	v.SetDefault("tokens.refresh_ttl", "720h")
	v.SetDefault("tokens.refresh_length", 48)
	v.SetDefault("tokens.challenge_ttl", "10m")
	v.SetDefault("tokens.email_ttl", "24h")
	v.SetDefault("tokens.email_length", 32)
	v.SetDefault("tokens.reset_ttl", "1h")
	v.SetDefault("tokens.reset_length", 32)
	v.SetDefault("tokens.api_key_length", 40)
	v.SetDefault("tokens.revocation_cleanup", "1m")

	v.SetDefault("lockout.max_attempts", 5)
	v.SetDefault("lockout.duration", "15m")

	v.SetDefault("codes.max_attempts", 3)
	v.SetDefault("codes.resend_limit", 3)
	v.SetDefault("codes.resend_window", "15m")

	v.SetDefault("two_factor.issuer", "credential-engine")
	v.SetDefault("two_factor.skew", 1)

	v.SetDefault("permissions.cache_ttl", "1m")

	v.SetDefault("password.min_length", 12)
	v.SetDefault("password.min_character_classes", 3)
	v.SetDefault("password.min_strength_score", 3)

	v.SetDefault("telemetry.metrics_port", 9090)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "credential-engine")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.register_max_attempts", 3)
	v.SetDefault("rate_limit.refresh_max_attempts", 10)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
