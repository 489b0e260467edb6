package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/furniture-recommender/internal/browser"
	"github.com/maltedev/furniture-recommender/internal/config"
	"github.com/maltedev/furniture-recommender/internal/logger"
	"github.com/maltedev/furniture-recommender/internal/parser"
	"github.com/maltedev/furniture-recommender/internal/ratelimit"
	"github.com/maltedev/furniture-recommender/internal/scraper"
	"github.com/maltedev/furniture-recommender/internal/storage"
	"github.com/spf13/cobra"
)

var (
	root       string
	headless   bool
	iterations int
	categories []string
)

var rootCmd = &cobra.Command{
	Use:   "link-scraper",
	Short: "Collect product links from the living-room collections",
	Long: `link-scraper walks the paginated living-room collection pages of every
category, writes links_cat_<k>.json per category and product_links.json with
all categories combined.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cmd.Flags().Changed("root") {
			cfg.Scraper.Root = root
		}
		if cmd.Flags().Changed("headless") {
			cfg.Browser.Headless = headless
		}
		if cmd.Flags().Changed("iterations") {
			cfg.Scraper.MaxIterations = iterations
		}
		if len(categories) > 0 {
			cfg.Scraper.Categories = categories
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, log)
	},
}

func init() {
	rootCmd.Flags().StringVar(&root, "root", "", "directory the link files are written to (default: ROOT or the working directory)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")
	rootCmd.Flags().IntVar(&iterations, "iterations", 0, "pages to request per category (default: SCRAPER_MAX_ITERATIONS)")
	rootCmd.Flags().StringArrayVar(&categories, "category", nil, "category to crawl, repeatable (default: all living-room categories)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	linkStorage, err := storage.NewLinkStorage(cfg.Scraper.Root)
	if err != nil {
		return err
	}

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		LoadTimeout:    cfg.Scraper.LoadTimeout,
		MaxRetries:     cfg.Scraper.MaxRetries,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("failed to close browser", "error", err)
		}
	}()

	crawler := scraper.NewCategoryCrawler(
		b,
		parser.NewLinkParser(),
		linkStorage,
		ratelimit.NewJitterLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax),
		scraper.Options{
			Domain:        cfg.Scraper.Domain,
			Categories:    cfg.Scraper.Categories,
			ItemsPerPage:  cfg.Scraper.ItemsPerPage,
			MaxIterations: cfg.Scraper.MaxIterations,
		},
	)

	log.Info("starting link scraper",
		"root", linkStorage.Root(),
		"categories", len(cfg.Scraper.Categories),
		"iterations", cfg.Scraper.MaxIterations)

	results, err := crawler.Run(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, r := range results {
		total += len(r.Links)
		fmt.Printf("%-22s %4d links\n", r.Category, len(r.Links))
	}
	fmt.Printf("Saved %d links to %s\n", total, linkStorage.Root())
	return nil
}
