package gallery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/furniture-recommender/internal/models"
	"github.com/maltedev/furniture-recommender/internal/similarity"
)

// Store persists gallery images and their stored recommendations.
type Store interface {
	InsertImage(ctx context.Context, img *models.GalleryImage, recs []models.ImageRecommendation) error
	ListImages(ctx context.Context) ([]*models.GalleryImage, error)
	GetImageByName(ctx context.Context, name string) (*models.GalleryImage, error)
	GetRecommendations(ctx context.Context, imageID int64) ([]models.ImageRecommendation, error)
}

type Service struct {
	store  Store
	matrix similarity.Matrix
	k      int
	logger *slog.Logger
}

// ImportSummary reports what an import wrote. Unmatched counts images that had
// no row in the similarity matrix and were stored without recommendations.
type ImportSummary struct {
	Processed       int `json:"processed"`
	Unmatched       int `json:"unmatched"`
	Recommendations int `json:"recommendations"`
}

// ImageDetail is a stored image with its stored neighbours.
type ImageDetail struct {
	Image           *models.GalleryImage         `json:"image"`
	Recommendations []models.ImageRecommendation `json:"recommendations"`
}

// NewService wires a store to a loaded matrix. matrix may be nil when the
// similarity data is unavailable; k <= 0 selects similarity.DefaultK.
func NewService(store Store, matrix similarity.Matrix, k int, logger *slog.Logger) *Service {
	if k <= 0 {
		k = similarity.DefaultK
	}
	return &Service{
		store:  store,
		matrix: matrix,
		k:      k,
		logger: logger.With("component", "gallery_service"),
	}
}

func (s *Service) MatrixLoaded() bool {
	return s.matrix != nil
}

// Recommend looks up the neighbours of name in the loaded matrix. k <= 0 uses
// the service default.
func (s *Service) Recommend(name string, k int) similarity.Result {
	if k <= 0 {
		k = s.k
	}
	return similarity.Lookup(name, s.matrix, k)
}

// Import stores every catalog entry with its top-k neighbours. It stops at the
// first store error; entries written before it stay imported.
func (s *Service) Import(ctx context.Context, entries []models.CatalogEntry) (*ImportSummary, error) {
	summary := &ImportSummary{}

	if !s.MatrixLoaded() {
		s.logger.Warn("similarity matrix unavailable, importing without recommendations")
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res := s.Recommend(entry.Name, s.k)
		if !res.Available() {
			summary.Unmatched++
			s.logger.Warn("no similarity data for image", "image", entry.Name, "status", res.Status)
		}

		recs := make([]models.ImageRecommendation, len(res.Items))
		for i := range res.Items {
			recs[i] = models.ImageRecommendation{
				RecommendedName: res.Items[i],
				SimilarityValue: res.Scores[i],
				Rank:            i + 1,
			}
		}

		img := models.NewGalleryImage(entry)
		if err := s.store.InsertImage(ctx, img, recs); err != nil {
			return summary, fmt.Errorf("failed to import %q: %w", entry.Name, err)
		}

		summary.Processed++
		summary.Recommendations += len(recs)
		s.logger.Debug("imported image", "image", entry.Name, "id", img.ID, "recommendations", len(recs))
	}

	s.logger.Info("import completed",
		"processed", summary.Processed,
		"unmatched", summary.Unmatched,
		"recommendations", summary.Recommendations)

	return summary, nil
}

func (s *Service) ListImages(ctx context.Context) ([]*models.GalleryImage, error) {
	return s.store.ListImages(ctx)
}

func (s *Service) GetImage(ctx context.Context, name string) (*ImageDetail, error) {
	img, err := s.store.GetImageByName(ctx, name)
	if err != nil {
		return nil, err
	}

	recs, err := s.store.GetRecommendations(ctx, img.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendations for %q: %w", name, err)
	}

	return &ImageDetail{Image: img, Recommendations: recs}, nil
}
