package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/classification"
	"flag-classifier/internal/config"
	"flag-classifier/internal/metrics"
	"flag-classifier/internal/repository"
	"flag-classifier/internal/resolver"
	"flag-classifier/internal/server"
	"flag-classifier/internal/service"
	"flag-classifier/internal/taxonomy"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var logger *zap.Logger
	if cfg.Server.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting flag classifier...", zap.String("database", cfg.Database.Type))

	// Initialize database
	db, err := openDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.Migrate(db, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Classification store
	var (
		store  classification.Store
		reader classification.Reader
	)
	if cfg.Database.Type == "memory" {
		mem := classification.NewMemoryStore()
		defer mem.Close()
		store, reader = mem, mem
		logger.Warn("Classifications are kept in memory and will be lost on exit")
	} else {
		sqlStore := classification.NewSQLStore(db, logger)
		store, reader = sqlStore, sqlStore
	}
	store = classification.Instrument(store, m)

	// Catalog
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), cfg.Catalog.FetchTimeout*time.Duration(len(cfg.Catalog.Sources)+1))
	images, usedFallback := catalog.LoadWithFallback(loadCtx, catalog.NewSources(cfg.Catalog.Sources, cfg.Catalog.FetchTimeout, logger), logger)
	cancelLoad()
	logger.Info("Catalog loaded",
		zap.Int("images", images.Len()),
		zap.Bool("fallback", usedFallback))

	// Asset resolution
	prober, err := resolver.NewHTTPProber(resolver.HTTPProberConfig{
		Origin:   cfg.Assets.Origin,
		Timeout:  cfg.Assets.ProbeTimeout,
		CacheTTL: cfg.Assets.CacheTTL,
	}, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize asset prober", zap.Error(err))
	}
	assets := resolver.New(resolver.Config{
		Roots:        cfg.Assets.Roots,
		Placeholders: cfg.Assets.Placeholders,
	}, prober, m, logger)

	// Auth
	authService := service.NewAuthService(repository.NewExpertRepository(db, logger), service.AuthConfig{
		JWTSecret:         cfg.Auth.JWTSecret,
		TokenTTL:          cfg.Auth.TokenTTL,
		AllowRegistration: cfg.Auth.AllowRegistration,
	}, logger)

	srv := server.NewServer(server.Deps{
		Catalog:      images,
		Resolver:     assets,
		Taxonomy:     taxonomy.Default(),
		Store:        store,
		Reader:       reader,
		Auth:         authService,
		Positions:    repository.NewPositionRepository(db, logger),
		Gatherer:     registry,
		AuthRequired: cfg.Auth.Required,
		Development:  cfg.Server.Development,
	}, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Flag classifier is running",
		zap.String("address", serverAddr),
		zap.Bool("auth_required", cfg.Auth.Required))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openDatabase returns the database for experts, positions and, unless the
// memory store is selected, classifications.
func openDatabase(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, error) {
	switch cfg.Database.Type {
	case "postgres":
		return repository.NewPostgresDB(cfg.Database.URL, logger)
	case "memory":
		return repository.NewSQLiteDB(":memory:", logger)
	default:
		return repository.NewSQLiteDB(cfg.Database.Path, logger)
	}
}
