package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appservice "github.com/turtacn/portal-gateway/internal/application/service"
	"github.com/turtacn/portal-gateway/internal/config"
	domainservice "github.com/turtacn/portal-gateway/internal/domain/service"
	"github.com/turtacn/portal-gateway/internal/infrastructure/audit"
	"github.com/turtacn/portal-gateway/internal/infrastructure/chat"
	"github.com/turtacn/portal-gateway/internal/infrastructure/idp"
	"github.com/turtacn/portal-gateway/internal/infrastructure/monitoring"
	"github.com/turtacn/portal-gateway/internal/infrastructure/persistence/redis"
	"github.com/turtacn/portal-gateway/internal/infrastructure/ratelimit"
	"github.com/turtacn/portal-gateway/internal/infrastructure/secrets"
	"github.com/turtacn/portal-gateway/internal/interfaces/http"
	"github.com/turtacn/portal-gateway/internal/interfaces/http/handlers"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// publisherCloser is an audit sink that must be flushed on shutdown.
type publisherCloser interface {
	domainservice.AuthEventPublisher
	Close() error
}

func main() {
	ctx := context.Background()

	// Logger for startup
	startupLogger, _ := monitoring.NewZapLogger(&config.LogConfig{Level: "info", Format: "json"})

	// Load config
	loader := config.NewLoader(os.Getenv("PORTAL_CONFIG_FILE"), startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	loader.Watch(func(next *config.Config) {
		appLogger.SetLevel(constants.LogLevel(next.Log.Level))
	})

	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(ctx, &cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize tracing", err)
	}

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	checks := map[string]handlers.Checker{}

	// Session persistence
	var (
		persister domainservice.SessionPersister
		redisConn *redis.RedisConnection
	)
	if cfg.Session.Store == "redis" {
		redisConn = redis.NewRedisConnection(&cfg.Redis, appLogger)
		if err := redisConn.Connect(ctx); err != nil {
			appLogger.Fatal(ctx, "Failed to connect to Redis", err)
		}
		persister = redis.NewSessionPersister(redisConn.GetClient(), cfg.Session.TTL)
		checks["redis"] = redisConn.Ping
	} else {
		appLogger.Warn(ctx, "Sessions are kept in memory only and are lost on restart")
	}

	// Identity provider
	clientSecret, err := secrets.ResolveClientSecret(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to resolve OIDC client secret", err)
	}
	provider, err := idp.NewProvider(ctx, idp.Config{
		IssuerURL:             cfg.Auth.IssuerURL,
		ClientID:              cfg.Auth.ClientID,
		ClientSecret:          clientSecret,
		RedirectURL:           cfg.Auth.RedirectURL,
		PostLogoutRedirectURL: cfg.Auth.PostLogoutRedirectURL,
		Scopes:                cfg.Auth.Scopes,
	}, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize identity provider", err)
	}

	// Audit events
	var publisher publisherCloser
	if cfg.Kafka.Enabled {
		publisher = audit.NewKafkaPublisher(cfg.Kafka, appLogger)
	} else {
		publisher = audit.NewLogPublisher(appLogger)
	}

	// Application services
	registry := appservice.NewSessionRegistry(appservice.RegistryConfig{
		IdleTimeout: cfg.Session.IdleTimeout,
		StaffRoles:  cfg.Auth.StaffRoles,
		Controller: domainservice.RefreshControllerConfig{
			RefreshTimeout:     cfg.Auth.RefreshTimeout,
			RefreshThreshold:   cfg.Auth.RefreshThreshold,
			BackgroundInterval: cfg.Auth.BackgroundInterval,
		},
		Gateway: appservice.GatewayConfig{
			GraphQLURL:  cfg.Upstream.GraphQLURL,
			RESTBaseURL: cfg.Upstream.RESTBaseURL,
			MinValidity: cfg.Auth.MinValidity,
			Timeout:     cfg.Upstream.Timeout,
		},
	}, provider, persister, appLogger,
		appservice.WithRegistryMetrics(monitoring.NewMetricsAdapter(metrics)),
		appservice.WithEventPublisher(publisher),
	)

	contexts := appservice.NewAcademicContextService(constants.AcademicContextCacheTTL, appLogger)
	var chatSvc *appservice.ChatService
	if cfg.Chat.Enabled {
		chatSvc = appservice.NewChatService(chat.NewCompletionClient(cfg.Chat, appLogger), contexts, appLogger)
	}

	// Chat throttling is shared between replicas when Redis is available
	var chatLimiter ratelimit.Limiter
	if cfg.Chat.RateLimit > 0 {
		if redisConn != nil {
			chatLimiter = ratelimit.NewRedisLimiter(redisConn.GetClient(), constants.RateLimitKeyPrefix+"chat", cfg.Chat.RateLimit, cfg.Chat.Burst, appLogger)
		} else {
			chatLimiter = ratelimit.NewLocalLimiter(cfg.Chat.RateLimit, cfg.Chat.Burst)
		}
	}

	// Initialize HTTP handlers and router
	router := http.NewRouter(cfg, appLogger, registry, tracing.Tracer(), metrics,
		handlers.NewHealthHandler(checks, appLogger),
		handlers.NewAuthHandler(registry, provider, contexts, handlers.NewCookieConfig(cfg.Session), appLogger),
		handlers.NewAPIHandler(contexts, appLogger),
		handlers.NewChatHandler(chatSvc, metrics, appLogger),
		chatLimiter,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- router.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		appLogger.Info(ctx, "Shutting down", logger.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			appLogger.Error(ctx, "HTTP server failed", err)
		}
	}

	shutdown(ctx, cfg.Server.ShutdownTimeout, appLogger, router, registry, tracing, publisher, redisConn)
}

func shutdown(ctx context.Context, timeout time.Duration, log logger.Logger, router *http.Router, registry *appservice.SessionRegistry, tracing *monitoring.TracingManager, publisher publisherCloser, redisConn *redis.RedisConnection) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := router.Stop(ctx); err != nil {
		log.Error(ctx, "Server forced to shutdown", err)
	}
	registry.Close()
	if err := publisher.Close(); err != nil {
		log.Error(ctx, "Failed to flush audit events", err)
	}
	if err := tracing.Shutdown(ctx); err != nil {
		log.Error(ctx, "Failed to flush traces", err)
	}
	if redisConn != nil {
		if err := redisConn.Close(); err != nil {
			log.Error(ctx, "Failed to close Redis", err)
		}
	}
	log.Info(ctx, "Server exited")
}

//Personal.AI order the ending
