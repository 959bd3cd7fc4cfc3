package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flag-classifier/internal/catalog"
	"flag-classifier/internal/classification"
	"flag-classifier/internal/config"
	"flag-classifier/internal/repository"
	"flag-classifier/internal/resolver"
	"flag-classifier/internal/session"
	"flag-classifier/internal/taxonomy"
)

type options struct {
	configPath string
	expertID   string
	debug      bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "labeler",
		Short: "Label flag images from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&opts.configPath, "config", "configs/labeler.yml", "Path to the labeler config file")
	rootCmd.Flags().StringVar(&opts.expertID, "expert", "", "Expert identity, overrides expert_id from the config")
	rootCmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	_ = godotenv.Load()

	cfg, err := config.LoadLabelerConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.expertID != "" {
		cfg.ExpertID = opts.expertID
	}

	logger, err := newLogger(opts.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := repository.NewSQLiteDB(cfg.StatePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer db.Close()
	if err := repository.Migrate(db, logger); err != nil {
		return err
	}

	s, err := newSession(cfg, repository.NewPositionRepository(db, logger), logger)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	loopErr := newREPL(s, os.Stdout).run(ctx, os.Stdin)

	// Save the position even when the loop was interrupted
	if err := s.Logout(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return loopErr
}

// newSession builds a session that reads the catalog and records answers
// over HTTP. Relative asset paths resolve against the asset origin.
func newSession(cfg *config.LabelerConfig, positions session.PositionStore, logger *zap.Logger) (*session.Session, error) {
	prober, err := resolver.NewHTTPProber(resolver.HTTPProberConfig{
		Origin:   cfg.Assets.Origin,
		Timeout:  cfg.Assets.ProbeTimeout,
		CacheTTL: cfg.Assets.CacheTTL,
	}, nil, logger)
	if err != nil {
		return nil, err
	}

	return session.New(session.Options{
		ExpertID:  cfg.ExpertID,
		Catalog:   catalog.NewSources(cfg.Sources, cfg.Timeout, logger),
		Store:     classification.NewRemoteStore(cfg.ClassificationsURL(), cfg.Token, cfg.Timeout, logger),
		Positions: positions,
		Resolver: resolver.New(resolver.Config{
			Roots:        cfg.Assets.Roots,
			Placeholders: cfg.Assets.Placeholders,
		}, prober, nil, logger),
		Taxonomy: taxonomy.Default(),
		Logger:   logger,
	}), nil
}

// newLogger keeps the terminal quiet unless debugging.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}
