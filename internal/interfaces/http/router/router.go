// Package router assembles the gin engine.
package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookviz-api/internal/config"
	"bookviz-api/internal/infrastructure/persistence/redis"
	"bookviz-api/internal/interfaces/http/handler"
	"bookviz-api/internal/interfaces/http/middleware"
)

// Handlers are the route targets.
type Handlers struct {
	Health        *handler.HealthHandler
	Visualization *handler.VisualizationHandler
	Events        *handler.EventsHandler
	Providers     *handler.ProviderHandler
}

type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
}

// New builds the engine. limiter may be nil, which disables rate limiting.
func New(cfg *config.Config, handlers Handlers, limiter middleware.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
		MaxAge:         secondsDuration(r.cfg.Security.CORS.MaxAge),
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}

	r.engine.Use(middleware.Auth(middleware.AuthConfig{
		Secret:    r.cfg.Security.JWT.Secret,
		Issuer:    r.cfg.Security.JWT.Issuer,
		SkipPaths: middleware.DefaultSkipPaths,
		Enabled:   r.cfg.Security.JWT.Enabled,
		DevUserID: r.cfg.Security.JWT.DevUserID,
	}))
}

func (r *Router) setupRoutes() {
	h := r.handlers

	if h.Health != nil {
		r.engine.GET("/health", h.Health.Health)
		r.engine.GET("/ready", h.Health.Ready)
		r.engine.GET("/live", h.Health.Live)
	}

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	// Images written by the filesystem store are served by the API itself.
	if fs := r.cfg.Storage.Filesystem; r.cfg.Storage.Backend == "filesystem" && fs.Root != "" {
		r.engine.Static("/static/images", fs.Root)
	}

	createLimit := middleware.RateLimit(middleware.RateLimitConfig{
		Enabled: r.cfg.Security.RateLimit.Enabled,
		Limit:   r.cfg.Security.RateLimit.Limit,
		Window:  r.cfg.Security.RateLimit.Window,
		Action:  "create_visualization",
	}, r.limiter, redis.UserRateLimitKey)

	RegisterV1Routes(r.engine.Group("/v1"), h, createLimit)
}

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
