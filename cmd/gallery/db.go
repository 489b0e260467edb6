package main

import (
	"fmt"

	"github.com/maltedev/furniture-recommender/internal/database"
	"github.com/maltedev/furniture-recommender/internal/gallery"
	"github.com/maltedev/furniture-recommender/internal/models"
	"github.com/spf13/cobra"
)

var createDBCmd = &cobra.Command{
	Use:   "create-db",
	Short: "Create the gallery tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CreateSchema(cmd.Context()); err != nil {
			return err
		}
		logger.Info("database schema created", "database", cfg.Database.DBName)
		return nil
	},
}

var dropDBCmd = &cobra.Command{
	Use:   "drop-db",
	Short: "Drop the gallery tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DropSchema(cmd.Context()); err != nil {
			return err
		}
		logger.Info("database schema dropped", "database", cfg.Database.DBName)
		return nil
	},
}

var catalogPath string

var importDBCmd = &cobra.Command{
	Use:   "import-db",
	Short: "Import the image catalog and its recommendations",
	Long: `Import every image of the catalog into the gallery together with its
top-k most similar images. Without --catalog the built-in sample catalog is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readCatalog()
		if err != nil {
			return err
		}

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.CreateSchema(cmd.Context()); err != nil {
			return err
		}

		repo := database.NewGalleryRepository(db, cfg.Redis.Stream)
		svc := gallery.NewService(repo, loadMatrix(), cfg.Recommender.NumRecommendations, logger)

		summary, err := svc.Import(cmd.Context(), entries)
		if err != nil {
			return err
		}

		fmt.Printf("Imported %d images (%d without similarity data, %d recommendations)\n",
			summary.Processed, summary.Unmatched, summary.Recommendations)
		return nil
	},
}

func init() {
	importDBCmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML catalog file (default: GALLERY_CATALOG_PATH or the built-in catalog)")
}

func readCatalog() ([]models.CatalogEntry, error) {
	path := catalogPath
	if path == "" {
		path = cfg.Recommender.CatalogPath
	}
	if path == "" {
		return gallery.DefaultCatalog()
	}
	return gallery.LoadCatalog(path)
}
