package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config aggregates runtime settings. Values come from built-in defaults, an
// optional YAML file, then environment variables, in increasing priority.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Hub      HubConfig      `koanf:"hub"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
}

type ServerConfig struct {
	HTTPPort        string        `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaintenanceFlag string        `koanf:"maintenance_flag"`
	AdminToken      string        `koanf:"admin_token"`
	// CORSAllowedOrigins accepts a comma separated list from the environment.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
	// RateLimitRequests per RateLimitWindow per client IP; zero disables it.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Name     string `koanf:"name"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSL      bool   `koanf:"ssl"`
	// BreakerThreshold consecutive failures open the store circuit breaker
	// for BreakerTimeout.
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
}

type AuthConfig struct {
	JWTSecret    string `koanf:"jwt_secret"`
	TokenTTLDays int    `koanf:"token_ttl_days"`
	// Required gates the websocket routes behind a valid token.
	Required bool `koanf:"required"`
	// OperatorEmail and OperatorPassword, when both set, create or reset
	// that operator on start.
	OperatorEmail    string `koanf:"operator_email"`
	OperatorPassword string `koanf:"operator_password"`
}

// TokenTTL converts the day count used by JWT_TTL.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLDays) * 24 * time.Hour
}

type HubConfig struct {
	QueueSize    int           `koanf:"queue_size"`
	SendTimeout  time.Duration `koanf:"send_timeout"`
	PublishRate  float64       `koanf:"publish_rate"`
	PublishBurst int           `koanf:"publish_burst"`
}

type NATSConfig struct {
	// URL empty disables the bridge.
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ConfigPathEnvVar overrides the YAML file location.
const ConfigPathEnvVar = "CONFIG_PATH"

var defaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/urbanease/config.yaml"}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:           "3000",
			ShutdownTimeout:    10 * time.Second,
			MaintenanceFlag:    "maintenance.flag",
			CORSAllowedOrigins: []string{"*"},
			RateLimitRequests:  600,
			RateLimitWindow:    time.Minute,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: "5432",
			Name: "urbanease",
			User: "urbanease_user",

			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:    "your-secret-key-change-in-production",
			TokenTTLDays: 30,
		},
		Hub: HubConfig{
			QueueSize:    256,
			SendTimeout:  10 * time.Second,
			PublishRate:  20,
			PublishBurst: 40,
		},
		NATS: NATSConfig{
			Subject: "city.>",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMappings keeps the flat variable names the service has always used.
var envMappings = map[string]string{
	"port":                 "server.port",
	"shutdown_timeout":     "server.shutdown_timeout",
	"maintenance_flag":     "server.maintenance_flag",
	"admin_token":          "server.admin_token",
	"cors_allowed_origins": "server.cors_allowed_origins",
	"rate_limit_requests":  "server.rate_limit_requests",
	"rate_limit_window":    "server.rate_limit_window",

	"pg_host":              "database.host",
	"pg_port":              "database.port",
	"pg_database":          "database.name",
	"pg_user":              "database.user",
	"pg_password":          "database.password",
	"pg_ssl":               "database.ssl",
	"db_breaker_threshold": "database.breaker_threshold",
	"db_breaker_timeout":   "database.breaker_timeout",

	"jwt_secret":        "auth.jwt_secret",
	"jwt_ttl":           "auth.token_ttl_days",
	"auth_required":     "auth.required",
	"operator_email":    "auth.operator_email",
	"operator_password": "auth.operator_password",

	"hub_queue_size":   "hub.queue_size",
	"hub_send_timeout": "hub.send_timeout",
	"ws_publish_rate":  "hub.publish_rate",
	"ws_publish_burst": "hub.publish_burst",

	"nats_url":     "nats.url",
	"nats_subject": "nats.subject",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

func envTransform(key string) string {
	// unmapped variables are skipped
	return envMappings[strings.ToLower(key)]
}

// Load builds a Config from defaults, the optional YAML file and the environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPPort == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Hub.QueueSize <= 0 {
		errs = append(errs, errors.New("hub.queue_size must be positive"))
	}
	if c.Hub.SendTimeout <= 0 {
		errs = append(errs, errors.New("hub.send_timeout must be positive"))
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("server.rate_limit_window must be positive"))
	}
	if c.Hub.PublishRate < 0 {
		errs = append(errs, errors.New("hub.publish_rate must not be negative"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.TokenTTLDays <= 0 {
		errs = append(errs, errors.New("auth.token_ttl_days must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// DatabaseURL is the pgx connection string.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Database.User, c.Database.Password),
		Host:   net.JoinHostPort(c.Database.Host, c.Database.Port),
		Path:   "/" + c.Database.Name,
	}
	return u.String()
}
