package scraper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/furniture-recommender/internal/models"
	"github.com/maltedev/furniture-recommender/internal/parser"
	"github.com/maltedev/furniture-recommender/internal/ratelimit"
)

// CategoryCrawler collects product links from the paginated collection pages
// of each category.
type CategoryCrawler struct {
	fetcher Fetcher
	parser  parser.Parser
	sink    LinkSink
	limiter ratelimit.RateLimiter
	opts    Options
	logger  *slog.Logger
}

func NewCategoryCrawler(f Fetcher, p parser.Parser, sink LinkSink, limiter ratelimit.RateLimiter, opts Options) *CategoryCrawler {
	defaults := DefaultOptions()
	if opts.Domain == "" {
		opts.Domain = defaults.Domain
	}
	if opts.ItemsPerPage < 1 {
		opts.ItemsPerPage = defaults.ItemsPerPage
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = defaults.MaxIterations
	}

	return &CategoryCrawler{
		fetcher: f,
		parser:  p,
		sink:    sink,
		limiter: limiter,
		opts:    opts,
		logger:  slog.Default().With("component", "category_crawler"),
	}
}

// CategoryURL builds the collection page URL for a category at a result offset.
func (c *CategoryCrawler) CategoryURL(category string, offset int) string {
	return fmt.Sprintf("https://%s/collections/furniture-living-room-%s?offset=%d", c.opts.Domain, category, offset)
}

// Run crawls every category, saves one link file per category and finally the
// combined file.
func (c *CategoryCrawler) Run(ctx context.Context) ([]*models.CategoryLinks, error) {
	if len(c.opts.Categories) == 0 {
		return nil, ErrNoCategories
	}

	for k, category := range c.opts.Categories {
		c.logger.Info("start scraping category", "category", category)

		links, err := c.CrawlCategory(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("failed to crawl category %s: %w", category, err)
		}

		if err := c.sink.SaveCategory(k, &models.CategoryLinks{Category: category, Links: links}); err != nil {
			return nil, fmt.Errorf("failed to save category %s: %w", category, err)
		}

		c.logger.Info("finish scraping category", "category", category, "links", len(links))
	}

	c.logger.Info("start combining all category links")
	all, err := c.sink.Combine(len(c.opts.Categories))
	if err != nil {
		return nil, fmt.Errorf("failed to combine category links: %w", err)
	}
	c.logger.Info("finish combining all category links", "categories", len(all))

	return all, nil
}

// CrawlCategory runs a fixed number of page visits for one category. A page
// that fails to load is skipped without pausing; every loaded page is followed
// by a limiter pause. The offset only advances once the collected count is a
// whole number of pages.
func (c *CategoryCrawler) CrawlCategory(ctx context.Context, category string) ([]string, error) {
	links := []string{}
	seen := make(map[string]struct{})
	offset := 0

	for i := 0; i < c.opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		url := c.CategoryURL(category, offset)
		c.logger.Info("start iteration", "iteration", i, "offset", offset)

		html, err := c.fetcher.Fetch(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("page did not load properly", "url", url, "error", err)
			continue
		}

		links, offset = c.collect(html, url, links, seen, offset)

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	return links, nil
}

// collect appends the unseen product links of a loaded page and returns the
// offset of the next page to request.
func (c *CategoryCrawler) collect(html, url string, links []string, seen map[string]struct{}, offset int) ([]string, int) {
	found, err := c.parser.ExtractProductLinks(html)
	if err != nil {
		c.logger.Warn("failed to parse page", "url", url, "error", err)
		return links, offset
	}

	for _, link := range found {
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
		c.logger.Debug("found new link", "link", link)
	}

	if len(links) > 0 && len(links)%c.opts.ItemsPerPage == 0 {
		offset += c.opts.ItemsPerPage
	}

	c.logger.Info("collected items", "count", len(links))
	return links, offset
}
