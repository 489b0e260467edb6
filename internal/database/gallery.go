package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/furniture-recommender/internal/models"
)

const (
	EventTypeGalleryImageImported = "GALLERY_IMAGE_IMPORTED"
	DefaultGalleryStream          = "stream:gallery"
)

// GalleryImageImportedPayload is the outbox payload written for every import.
type GalleryImageImportedPayload struct {
	ImageID         int64     `json:"image_id"`
	ImageName       string    `json:"image_name"`
	Description     string    `json:"description,omitempty"`
	Recommendations []string  `json:"recommendations"`
	Scores          []float64 `json:"scores"`
	ImportedAt      time.Time `json:"imported_at"`
}

// GalleryRepository stores gallery images and their precomputed neighbours.
type GalleryRepository struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewGalleryRepository(db *DB, stream string) *GalleryRepository {
	if stream == "" {
		stream = DefaultGalleryStream
	}
	return &GalleryRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
	}
}

// InsertImage upserts img, replaces its recommendation rows and enqueues an
// import event, all in one transaction. img.ID and img.CreatedAt are filled in.
func (r *GalleryRepository) InsertImage(ctx context.Context, img *models.GalleryImage, recs []models.ImageRecommendation) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO gallery_images (image_name, image_description)
			VALUES ($1, $2)
			ON CONFLICT (image_name) DO UPDATE SET
				image_description = EXCLUDED.image_description
			RETURNING id, created_at`

		if err := tx.QueryRow(ctx, query, img.Name, img.Description).Scan(&img.ID, &img.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert gallery image: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM image_recommendations WHERE recommended_id = $1`, img.ID); err != nil {
			return fmt.Errorf("failed to clear recommendations: %w", err)
		}

		names := make([]string, 0, len(recs))
		scores := make([]float64, 0, len(recs))
		for i := range recs {
			recs[i].ImageID = img.ID
			_, err := tx.Exec(ctx, `
				INSERT INTO image_recommendations (recommended_id, recommended_name, similarity_value, rank)
				VALUES ($1, $2, $3, $4)`,
				img.ID, recs[i].RecommendedName, recs[i].SimilarityValue, recs[i].Rank,
			)
			if err != nil {
				return fmt.Errorf("failed to insert recommendation: %w", err)
			}
			names = append(names, recs[i].RecommendedName)
			scores = append(scores, recs[i].SimilarityValue)
		}

		payload, err := json.Marshal(GalleryImageImportedPayload{
			ImageID:         img.ID,
			ImageName:       img.Name,
			Description:     img.Description,
			Recommendations: names,
			Scores:          scores,
			ImportedAt:      time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal import event: %w", err)
		}

		return r.outbox.Enqueue(ctx, tx, &GalleryEvent{
			EventType: EventTypeGalleryImageImported,
			ImageName: img.Name,
			Payload:   payload,
			Stream:    r.stream,
		})
	})
}

func (r *GalleryRepository) ListImages(ctx context.Context) ([]*models.GalleryImage, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, image_name, image_description, created_at
		FROM gallery_images
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query gallery images: %w", err)
	}
	defer rows.Close()

	images := []*models.GalleryImage{}
	for rows.Next() {
		img := &models.GalleryImage{}
		if err := rows.Scan(&img.ID, &img.Name, &img.Description, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gallery image: %w", err)
		}
		images = append(images, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return images, nil
}

// GetImageByName returns ErrNotFound when no image has that name.
func (r *GalleryRepository) GetImageByName(ctx context.Context, name string) (*models.GalleryImage, error) {
	img := &models.GalleryImage{}
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, image_name, image_description, created_at
		FROM gallery_images
		WHERE image_name = $1`, name,
	).Scan(&img.ID, &img.Name, &img.Description, &img.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("gallery image %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gallery image: %w", err)
	}

	return img, nil
}

func (r *GalleryRepository) GetRecommendations(ctx context.Context, imageID int64) ([]models.ImageRecommendation, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT recommended_id, recommended_name, similarity_value, rank
		FROM image_recommendations
		WHERE recommended_id = $1
		ORDER BY rank ASC`, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	recs := []models.ImageRecommendation{}
	for rows.Next() {
		var rec models.ImageRecommendation
		if err := rows.Scan(&rec.ImageID, &rec.RecommendedName, &rec.SimilarityValue, &rec.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return recs, nil
}

// CountImages returns the number of stored gallery images.
func (r *GalleryRepository) CountImages(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM gallery_images`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count gallery images: %w", err)
	}
	return count, nil
}
