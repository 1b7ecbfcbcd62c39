package config

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. PORTAL_AUTH_CLIENT_ID.
const EnvPrefix = "PORTAL"

// Loader reads configuration from defaults, an optional YAML file, .env and the environment.
type Loader struct {
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a loader. An empty configFile searches the default locations.
func NewLoader(configFile string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/portal-gateway/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log}
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(configFile string, log logger.Logger) (*Config, error) {
	return NewLoader(configFile, log).Load()
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	// .env only seeds the process environment; real variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.log.Warn(context.Background(), "Failed to read .env file", logger.String("error", err.Error()))
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		l.log.Debug(context.Background(), "No config file found, using defaults and environment")
	}

	return l.unmarshal()
}

// Watch reloads the configuration on file change and hands valid results to onChange.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			l.log.Error(context.Background(), "Ignoring invalid configuration change", err,
				logger.String("file", e.Name),
			)
			return
		}
		l.log.Info(context.Background(), "Configuration reloaded", logger.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.enable_pprof", false)

	v.SetDefault("auth.issuer_url", "http://localhost:8081/realms/portal")
	v.SetDefault("auth.client_id", "portal-frontend")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "http://localhost:8080/auth/callback")
	v.SetDefault("auth.post_logout_redirect_url", "http://localhost:8080/")
	v.SetDefault("auth.scopes", []string{"openid", "profile", "email"})
	v.SetDefault("auth.staff_roles", constants.DefaultStaffRoles)
	v.SetDefault("auth.min_validity", constants.DefaultMinValidity.String())
	v.SetDefault("auth.refresh_timeout", constants.DefaultRefreshTimeout.String())
	v.SetDefault("auth.refresh_threshold", constants.DefaultRefreshThreshold.String())
	v.SetDefault("auth.background_interval", constants.DefaultBackgroundInterval.String())

	v.SetDefault("session.store", "memory")
	v.SetDefault("session.ttl", constants.DefaultSessionTTL.String())
	v.SetDefault("session.idle_timeout", constants.DefaultSessionIdleTimeout.String())
	v.SetDefault("session.cookie_secure", true)
	v.SetDefault("session.cookie_domain", "")
	v.SetDefault("session.cookie_same_site", "lax")

	v.SetDefault("upstream.graphql_url", "http://localhost:4000/graphql")
	v.SetDefault("upstream.rest_base_url", "http://localhost:4000/api")
	v.SetDefault("upstream.timeout", "30s")

	v.SetDefault("chat.enabled", false)
	v.SetDefault("chat.api_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("chat.api_key", "")
	v.SetDefault("chat.model", "gpt-4o-mini")
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_tokens", 1000)
	v.SetDefault("chat.timeout", "60s")
	v.SetDefault("chat.rate_limit", 0.5)
	v.SetDefault("chat.burst", 3)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.enable_tls", false)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "portal-gateway/oidc")
	v.SetDefault("vault.secret_key", "client_secret")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "portal.auth.events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("monitoring.metrics_enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
}

//Personal.AI order the ending
