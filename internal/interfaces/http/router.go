package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/portal-gateway/internal/application/service"
	"github.com/turtacn/portal-gateway/internal/config"
	"github.com/turtacn/portal-gateway/internal/infrastructure/monitoring"
	"github.com/turtacn/portal-gateway/internal/infrastructure/ratelimit"
	"github.com/turtacn/portal-gateway/internal/interfaces/http/handlers"
	"github.com/turtacn/portal-gateway/internal/interfaces/http/middleware"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

// Router HTTP 路由器
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	logger        logger.Logger
	registry      *service.SessionRegistry
	tracer        trace.Tracer
	metrics       *monitoring.Metrics
	healthHandler *handlers.HealthHandler
	authHandler   *handlers.AuthHandler
	apiHandler    *handlers.APIHandler
	chatHandler   *handlers.ChatHandler
	chatLimiter   *middleware.RateLimiter
	server        *http.Server
}

// NewRouter 创建路由器。chatLimiter 为 nil 时不限流
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	registry *service.SessionRegistry,
	tracer trace.Tracer,
	metrics *monitoring.Metrics,
	healthHandler *handlers.HealthHandler,
	authHandler *handlers.AuthHandler,
	apiHandler *handlers.APIHandler,
	chatHandler *handlers.ChatHandler,
	chatLimiter ratelimit.Limiter,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:        engine,
		config:        cfg,
		logger:        log,
		registry:      registry,
		tracer:        tracer,
		metrics:       metrics,
		healthHandler: healthHandler,
		authHandler:   authHandler,
		apiHandler:    apiHandler,
		chatHandler:   chatHandler,
	}
	if chatLimiter != nil {
		r.chatLimiter = middleware.NewRateLimiter("chat", cfg.Chat.RateLimit, chatLimiter, metrics, log)
	}
	return r
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes() {
	// 全局中间件
	r.engine.Use(middleware.Recovery(r.logger))
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.ObservabilityMiddleware(r.tracer, r.metrics))
	r.engine.Use(middleware.Logging(r.logger))

	if len(r.config.Server.AllowedOrigins) > 0 {
		r.engine.Use(cors.New(cors.Config{
			AllowOrigins:     r.config.Server.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-Requested-With"},
			ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// 健康检查路由（不需要认证）
	r.engine.GET("/health/live", r.healthHandler.LivenessCheck)
	r.engine.GET("/health/ready", r.healthHandler.ReadinessCheck)

	if r.config.Monitoring.MetricsEnabled {
		r.engine.GET(r.metricsPath(), gin.WrapH(promhttp.Handler()))
	}
	if r.config.Server.EnablePprof {
		pprof.Register(r.engine)
	}

	session := middleware.LoadSession(r.registry, r.logger)

	auth := r.engine.Group("/auth", session)
	{
		auth.GET("/login", r.authHandler.Login)
		auth.GET("/callback", r.authHandler.Callback)
		auth.GET("/logout", r.authHandler.Logout)
		auth.POST("/logout", r.authHandler.Logout)
		auth.GET("/session", r.authHandler.Session)
	}

	api := r.engine.Group("/api", session, middleware.RequireSession())
	{
		api.POST("/graphql", r.apiHandler.GraphQL)
		api.Any("/rest/*path", r.apiHandler.REST)
		api.GET("/me", r.apiHandler.Me)
		api.GET("/context", r.apiHandler.Context)

		chat := []gin.HandlerFunc{r.chatHandler.Chat}
		if r.chatLimiter != nil {
			chat = append([]gin.HandlerFunc{r.chatLimiter.Middleware()}, chat...)
		}
		api.POST("/chat", chat...)
	}

	// 404 处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

func (r *Router) metricsPath() string {
	if r.config.Monitoring.MetricsPath != "" {
		return r.config.Monitoring.MetricsPath
	}
	return "/metrics"
}

// Start 启动 HTTP 服务器，直到 Stop 被调用
func (r *Router) Start() error {
	r.SetupRoutes()

	addr := r.config.Server.Address()
	r.server = &http.Server{
		Addr:              addr,
		Handler:           r.engine,
		ReadTimeout:       r.config.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      r.config.Server.WriteTimeout,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", addr))

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}

	r.logger.Info(ctx, "Stopping HTTP server...")
	return r.server.Shutdown(ctx)
}

// Engine exposes the gin engine for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

//Personal.AI order the ending
