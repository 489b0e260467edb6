package gallery

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/maltedev/furniture-recommender/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Images []models.CatalogEntry `yaml:"images"`
}

// DefaultCatalog returns the bundled sample furniture images.
func DefaultCatalog() ([]models.CatalogEntry, error) {
	return ParseCatalog(defaultCatalog)
}

func LoadCatalog(path string) ([]models.CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a catalog. Names must be unique.
func ParseCatalog(data []byte) ([]models.CatalogEntry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Images))
	for i, entry := range f.Images {
		if problems := entry.Validate(); len(problems) > 0 {
			return nil, fmt.Errorf("catalog entry %d: %s", i, strings.Join(problems, ", "))
		}
		if _, dup := seen[entry.Name]; dup {
			return nil, fmt.Errorf("catalog entry %d: duplicate name %q", i, entry.Name)
		}
		seen[entry.Name] = struct{}{}
	}

	return f.Images, nil
}
