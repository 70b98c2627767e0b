// Package config loads application configuration from config.yaml (optional),
// environment variables, and defaults, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LDAP     LDAPConfig     `mapstructure:"ldap"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Log      LogConfig      `mapstructure:"log"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RedisConfig selects the idempotency store backend. Empty Addr means the
// in-memory store, correct only for single-instance deployments.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LDAPConfig contains the Active Directory bind settings. Enabled=false
// switches login to the local bcrypt fallback (DEV accounts only).
type LDAPConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"` // ldap://host:389 or ldaps://host:636
	BaseDN     string `mapstructure:"base_dn"`
	BindDN     string `mapstructure:"bind_dn"`
	BindPass   string `mapstructure:"bind_pass"`
	UserFilter string `mapstructure:"user_filter"` // e.g. (sAMAccountName=%s)
}

// SMTPConfig contains the outbound relay settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// ApprovalConfig resolves the open design points of the approver matching.
type ApprovalConfig struct {
	// Policy is "any" (any eligible approver may decide, default) or
	// "nearest" (only closest-tier matches may decide).
	Policy string `mapstructure:"policy"`

	// FallbackContact is the employee ID notified when a requester has no
	// organizational attributes. Empty means such submissions are rejected.
	FallbackContact string `mapstructure:"fallback_contact"`

	// IdempotencyTTL bounds how long a repeat submission is deduplicated.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// DispatchConfig sizes the async notification pool.
type DispatchConfig struct {
	PoolSize    int `mapstructure:"pool_size"`
	MaxAttempts int `mapstructure:"max_attempts"` // Per retry sweep invocation
}

// Load reads configuration from path (directory containing config.yaml) and
// the environment. Missing file is fine; env and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STATIONERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "stationery")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("ldap.enabled", false)
	v.SetDefault("ldap.user_filter", "(sAMAccountName=%s)")

	v.SetDefault("smtp.port", 25)

	v.SetDefault("approval.policy", "any")
	v.SetDefault("approval.idempotency_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("dispatch.pool_size", 8)
	v.SetDefault("dispatch.max_attempts", 3)
}

func (c *Config) validate() error {
	switch c.Approval.Policy {
	case "any", "nearest":
	default:
		return fmt.Errorf("approval.policy must be \"any\" or \"nearest\", got %q", c.Approval.Policy)
	}
	return nil
}
