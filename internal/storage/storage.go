package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maltedev/furniture-recommender/internal/models"
)

const CombinedFile = "product_links.json"

// LinkStorage writes per-category link files and the combined harvest into a
// root directory.
type LinkStorage struct {
	root string
}

func NewLinkStorage(root string) (*LinkStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}
	return &LinkStorage{root: root}, nil
}

func (ls *LinkStorage) Root() string {
	return ls.root
}

// CategoryPath returns the file holding the links of category index k.
func (ls *LinkStorage) CategoryPath(k int) string {
	return filepath.Join(ls.root, fmt.Sprintf("links_cat_%d.json", k))
}

func (ls *LinkStorage) SaveCategory(k int, links *models.CategoryLinks) error {
	if links.Links == nil {
		links.Links = []string{}
	}
	return ls.save(ls.CategoryPath(k), links)
}

func (ls *LinkStorage) LoadCategory(k int) (*models.CategoryLinks, error) {
	data, err := os.ReadFile(ls.CategoryPath(k))
	if err != nil {
		return nil, err
	}

	var links models.CategoryLinks
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ls.CategoryPath(k), err)
	}
	return &links, nil
}

// Combine reads category files 0..count-1 and writes them, in order, as one
// JSON array to product_links.json.
func (ls *LinkStorage) Combine(count int) ([]*models.CategoryLinks, error) {
	all := make([]*models.CategoryLinks, 0, count)
	for k := 0; k < count; k++ {
		links, err := ls.LoadCategory(k)
		if err != nil {
			return nil, fmt.Errorf("failed to load category %d: %w", k, err)
		}
		all = append(all, links)
	}

	if err := ls.save(filepath.Join(ls.root, CombinedFile), all); err != nil {
		return nil, err
	}
	return all, nil
}

func (ls *LinkStorage) save(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, path)
}
