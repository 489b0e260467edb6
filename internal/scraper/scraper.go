package scraper

import (
	"context"
	"errors"

	"github.com/maltedev/furniture-recommender/internal/models"
)

var ErrNoCategories = errors.New("no categories to crawl")

// Fetcher returns the rendered HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// LinkSink persists crawl results.
type LinkSink interface {
	SaveCategory(k int, links *models.CategoryLinks) error
	Combine(count int) ([]*models.CategoryLinks, error)
}

type Options struct {
	Domain        string
	Categories    []string
	ItemsPerPage  int
	MaxIterations int
}

func DefaultOptions() Options {
	return Options{
		Domain:        "www.furniture.ca",
		ItemsPerPage:  24,
		MaxIterations: 10,
	}
}
