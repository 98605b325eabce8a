package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"appforge/internal/agents"
	"appforge/internal/ai"
	"appforge/internal/api"
	"appforge/internal/auth"
	"appforge/internal/cache"
	"appforge/internal/chat"
	"appforge/internal/config"
	"appforge/internal/db"
	"appforge/internal/guide"
	"appforge/internal/logging"
	"appforge/internal/preview"
)

func main() {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load("../.env")
	}

	logging.Init()
	defer logging.Sync()
	log := logging.L()

	cfg := config.Load()
	if err := cfg.ValidateSecrets(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	database, err := db.Connect(cfg.Database, "appforge.db")
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("database ready", zap.String("driver", database.Driver))

	rdb := db.ConnectRedis(cfg.RedisURL)
	appCache := cache.New(rdb)
	defer appCache.Close()

	aiRouter := ai.NewRouter(ai.Keys{
		Claude:     cfg.ClaudeAPIKey,
		Gemini:     cfg.GeminiAPIKey,
		Perplexity: cfg.PerplexityAPIKey,
		OpenAI:     cfg.OpenAIAPIKey,
	}, nil)
	defer aiRouter.Close()
	if !cfg.HasAnyProviderKey() {
		log.Warn("no AI provider keys configured, all generations will use mock data")
	}

	orchestrator := agents.NewOrchestrator(aiRouter, database.DB)
	if err := orchestrator.RecoverInterrupted(); err != nil {
		log.Warn("failed to recover interrupted builds", zap.Error(err))
	}

	previewService := preview.NewService(database.DB, appCache)
	orchestrator.SetPreviewInvalidator(previewService.Invalidate)

	jwtService := auth.NewJWTService(cfg.JWTSecret, "appforge")
	githubOAuth := auth.NewGitHubOAuth(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubRedirectURL)
	authService := auth.NewService(database.DB, jwtService, githubOAuth)

	hub := agents.NewWSHub(orchestrator, authService.ValidateUserToken)

	server := api.NewServer(api.Deps{
		Config:       cfg,
		Database:     database,
		Cache:        appCache,
		AIRouter:     aiRouter,
		Orchestrator: orchestrator,
		Hub:          hub,
		Auth:         authService,
		Chat:         chat.NewService(database.DB, appCache, aiRouter),
		Guide:        guide.New(),
		Preview:      previewService,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatal("server failed", zap.Error(err))
	case sig := <-shutdown:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("graceful shutdown incomplete", zap.Error(err))
		_ = httpServer.Close()
	}
	log.Info("shutdown complete")
}
