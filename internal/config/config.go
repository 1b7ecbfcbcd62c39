package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the application's configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Session    SessionConfig    `mapstructure:"session"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	PublicURL       string        `mapstructure:"public_url" validate:"required,url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
}

// AuthConfig describes the OIDC client and the token refresh policy.
type AuthConfig struct {
	IssuerURL             string        `mapstructure:"issuer_url" validate:"required,url"`
	ClientID              string        `mapstructure:"client_id" validate:"required"`
	ClientSecret          string        `mapstructure:"client_secret"`
	RedirectURL           string        `mapstructure:"redirect_url" validate:"required,url"`
	PostLogoutRedirectURL string        `mapstructure:"post_logout_redirect_url"`
	Scopes                []string      `mapstructure:"scopes"`
	StaffRoles            []string      `mapstructure:"staff_roles" validate:"required,min=1,dive,required"`
	MinValidity           time.Duration `mapstructure:"min_validity" validate:"min=0"`
	RefreshTimeout        time.Duration `mapstructure:"refresh_timeout" validate:"required"`
	RefreshThreshold      time.Duration `mapstructure:"refresh_threshold"`
	BackgroundInterval    time.Duration `mapstructure:"background_interval"`
}

type SessionConfig struct {
	Store          string        `mapstructure:"store" validate:"oneof=memory redis"`
	TTL            time.Duration `mapstructure:"ttl"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	CookieSecure   bool          `mapstructure:"cookie_secure"`
	CookieDomain   string        `mapstructure:"cookie_domain"`
	CookieSameSite string        `mapstructure:"cookie_same_site" validate:"oneof=lax strict none"`
}

type UpstreamConfig struct {
	GraphQLURL  string        `mapstructure:"graphql_url" validate:"required,url"`
	RESTBaseURL string        `mapstructure:"rest_base_url" validate:"required,url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ChatConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	APIURL      string        `mapstructure:"api_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	Burst       int           `mapstructure:"burst"`
}

type RedisConfig struct {
	Mode         string        `mapstructure:"mode" validate:"oneof=standalone cluster sentinel"`
	Addresses    []string      `mapstructure:"addresses"`
	MasterName   string        `mapstructure:"master_name"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	EnableTLS    bool          `mapstructure:"enable_tls"`
}

type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
	SecretKey  string `mapstructure:"secret_key"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error fatal"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

type MonitoringConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsPath    string `mapstructure:"metrics_path"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Session.Store == "redis" && len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("invalid configuration: redis.addresses is required when session.store is redis")
	}
	if c.Redis.Mode == "sentinel" && c.Session.Store == "redis" && c.Redis.MasterName == "" {
		return fmt.Errorf("invalid configuration: redis.master_name is required in sentinel mode")
	}
	if c.Vault.Enabled && (c.Vault.Address == "" || c.Vault.SecretPath == "") {
		return fmt.Errorf("invalid configuration: vault.address and vault.secret_path are required when vault is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("invalid configuration: kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if c.Chat.Enabled {
		if _, err := url.ParseRequestURI(c.Chat.APIURL); err != nil {
			return fmt.Errorf("invalid configuration: chat.api_url: %w", err)
		}
	}
	if c.Auth.RefreshThreshold < c.Auth.MinValidity {
		return fmt.Errorf("invalid configuration: auth.refresh_threshold must not be below auth.min_validity")
	}

	return nil
}

// Address returns the listen address of the HTTP server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

//Personal.AI order the ending
