package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/maltedev/furniture-recommender/internal/config"
	"github.com/maltedev/furniture-recommender/internal/database"
	applog "github.com/maltedev/furniture-recommender/internal/logger"
	"github.com/maltedev/furniture-recommender/internal/similarity"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Furniture gallery and image recommender",
	Long: `gallery manages the image gallery database and serves similar-image
recommendations computed from a precomputed similarity matrix.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		cfg = c
		logger = applog.New(cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createDBCmd, dropDBCmd, importDBCmd, recommendCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*database.DB, error) {
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// loadMatrix returns nil when the matrix cannot be read; lookups then report
// the unavailable status.
func loadMatrix() similarity.Matrix {
	m, err := similarity.LoadFile(cfg.Recommender.MatrixPath)
	if err != nil {
		logger.Error("failed to load similarity matrix", "path", cfg.Recommender.MatrixPath, "error", err)
		return nil
	}
	logger.Info("similarity matrix loaded", "path", cfg.Recommender.MatrixPath, "items", len(m))
	return m
}
