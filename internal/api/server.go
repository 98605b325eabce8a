// Package api assembles the HTTP surface: middleware stack, route groups,
// and the health and metrics endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"appforge/internal/agents"
	"appforge/internal/ai"
	"appforge/internal/auth"
	"appforge/internal/cache"
	"appforge/internal/chat"
	"appforge/internal/config"
	"appforge/internal/db"
	"appforge/internal/guide"
	"appforge/internal/metrics"
	"appforge/internal/middleware"
	"appforge/internal/preview"
)

// Deps carries everything the server wires together.
type Deps struct {
	Config       *config.Config
	Database     *db.Database
	Cache        *cache.Cache
	AIRouter     *ai.Router
	Orchestrator *agents.Orchestrator
	Hub          *agents.WSHub
	Auth         *auth.Service
	Chat         *chat.Service
	Guide        *guide.Guide
	Preview      *preview.Service
}

// Server owns the gin engine and its dependencies.
type Server struct {
	engine *gin.Engine
	deps   Deps
	start  time.Time
}

// NewServer builds the engine with the full middleware and route stack.
func NewServer(deps Deps) *Server {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.CORS(),
		middleware.Security(),
		metrics.Middleware(),
		middleware.RateLimit(),
	)

	s := &Server{engine: engine, deps: deps, start: time.Now()}
	s.routes()
	return s
}

// Engine exposes the underlying router, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Handler returns the http.Handler to serve.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", metrics.Handler())

	api := s.engine.Group("/api/v1")

	authHandlers := auth.NewHandlers(s.deps.Auth)

	public := api.Group("")
	public.Use(middleware.AuthRateLimit())
	authHandlers.RegisterPublicRoutes(public)

	protected := api.Group("")
	protected.Use(auth.Middleware(s.deps.Auth.JWT()))

	authHandlers.RegisterProtectedRoutes(protected)
	chat.NewHandlers(s.deps.Chat).RegisterRoutes(protected)
	guide.NewHandlers(s.deps.Guide).RegisterRoutes(protected)
	preview.NewHandlers(s.deps.Preview).RegisterRoutes(protected)

	buildHandlers := agents.NewHandlers(s.deps.Orchestrator)
	buildHandlers.RegisterRoutes(protected)

	aiHandlers := NewAIHandlers(s.deps.AIRouter, s.deps.Database)
	aiHandlers.RegisterRoutes(protected)

	// The socket authenticates via ?token= so it lives outside the Bearer
	// middleware.
	api.GET("/builds/:buildId/ws", s.deps.Hub.HandleWebSocket)
}

// Health reports component status.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"
	components := gin.H{}

	if s.deps.Database != nil {
		if err := s.deps.Database.Health(); err != nil {
			status = "degraded"
			components["database"] = "down"
		} else {
			components["database"] = s.deps.Database.Driver
		}
	}

	if s.deps.Cache != nil {
		stats := s.deps.Cache.Stats()
		if stats.RedisUp {
			components["cache"] = "redis"
		} else {
			components["cache"] = "memory"
		}
	}

	if s.deps.AIRouter != nil {
		healthy := 0
		for _, up := range s.deps.AIRouter.GetHealthStatus() {
			if up {
				healthy++
			}
		}
		components["ai_providers"] = healthy
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"uptime":     time.Since(s.start).String(),
		"components": components,
	})
}
