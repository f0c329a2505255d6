package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lexitau/lexitau-engine/pkg/audit"
	"github.com/lexitau/lexitau-engine/pkg/auth"
	"github.com/lexitau/lexitau-engine/pkg/catalog"
	"github.com/lexitau/lexitau-engine/pkg/config"
	"github.com/lexitau/lexitau-engine/pkg/database"
	"github.com/lexitau/lexitau-engine/pkg/executor"
	"github.com/lexitau/lexitau-engine/pkg/guard"
	"github.com/lexitau/lexitau-engine/pkg/handlers"
	"github.com/lexitau/lexitau-engine/pkg/linking"
	"github.com/lexitau/lexitau-engine/pkg/llm"
	"github.com/lexitau/lexitau-engine/pkg/logging"
	"github.com/lexitau/lexitau-engine/pkg/middleware"
	"github.com/lexitau/lexitau-engine/pkg/rewrite"
	"github.com/lexitau/lexitau-engine/pkg/services"
	"github.com/lexitau/lexitau-engine/pkg/tenantscope"
	"github.com/lexitau/lexitau-engine/pkg/valueindex"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("llm_provider", cfg.LLM.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(&cfg.Database, "migrations", logger); err != nil {
		logger.Fatal("Migrations failed", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	// Guard pipeline
	policy, err := guard.CompilePolicy(&cfg.Guard)
	if err != nil {
		logger.Fatal("Invalid guard policy", zap.Error(err))
	}
	validator := guard.NewValidator(policy, logger)

	accessor, err := catalog.NewAccessor(db.Pool, &cfg.Guard, logger)
	if err != nil {
		logger.Fatal("Catalog accessor failed", zap.Error(err))
	}

	rewriter := rewrite.NewRewriter(accessor, &cfg.Guard, logger)
	enforcer := tenantscope.NewEnforcer(&cfg.Guard, logger)
	exec := executor.NewExecutor(db.Pool, logger)
	auditor := audit.NewSecurityAuditor(logger)

	// Schema linking is optional: without an LLM API key the question
	// endpoint is disabled but SQL analysis still works.
	var orchestrator *linking.Orchestrator
	if cfg.LLM.APIKey != "" {
		chat, err := llm.NewChat(&cfg.LLM, logger)
		if err != nil {
			logger.Fatal("LLM client failed", zap.Error(err))
		}
		embedder, err := llm.NewEmbedder(&cfg.LLM, logger)
		if err != nil {
			logger.Fatal("Embedding client failed", zap.Error(err))
		}

		index := valueindex.NewIndex(db.Pool, logger)
		if err := index.Build(ctx); err != nil {
			logger.Warn("Value index build failed, literal matching disabled", zap.Error(err))
		}

		store := linking.NewProfileStore(db.Pool, logger)
		builder := linking.NewVariantBuilder(store, embedder, cfg.Linking, logger)
		orchestrator = linking.NewOrchestrator(builder, store, chat, index, enforcer, cfg.Linking, logger)
	} else {
		logger.Warn("LLM_API_KEY not set, question analysis disabled")
	}

	analysisService := services.NewAnalysisService(
		validator, rewriter, enforcer, exec, orchestrator, auditor, &cfg.Guard, logger)

	// HTTP wiring
	authService := auth.NewAuthService(&cfg.Auth, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewAnalysisHandler(analysisService, logger).RegisterRoutes(mux, authMiddleware)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting lexitau-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", zap.Error(err))
	}
}

// buildLogger returns a production JSON logger, or a development console
// logger for local runs.
func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
