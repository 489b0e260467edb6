package models

import (
	"time"
)

// CategoryLinks is the product link harvest of one store category.
type CategoryLinks struct {
	Category string   `json:"category"`
	Links    []string `json:"links"`
}

// CatalogEntry describes one gallery image to import.
type CatalogEntry struct {
	Name    string `json:"name" yaml:"name"`
	Caption string `json:"caption" yaml:"caption"`
}

type GalleryImage struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ImageRecommendation is a stored neighbour of a gallery image. Rank starts at 1.
type ImageRecommendation struct {
	ImageID         int64   `json:"image_id"`
	RecommendedName string  `json:"recommended_name"`
	SimilarityValue float64 `json:"similarity_value"`
	Rank            int     `json:"rank"`
}

func NewGalleryImage(entry CatalogEntry) *GalleryImage {
	return &GalleryImage{
		Name:        entry.Name,
		Description: entry.Caption,
	}
}

func (e CatalogEntry) Validate() []string {
	var errors []string

	if e.Name == "" {
		errors = append(errors, "name is required")
	}

	return errors
}
