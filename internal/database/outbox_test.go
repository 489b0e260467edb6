package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/furniture-recommender/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySchedule(t *testing.T) {
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		attempts   int
		wantStatus string
		wantWait   time.Duration
	}{
		{1, EventStatusRetrying, 2 * time.Second},
		{3, EventStatusRetrying, 8 * time.Second},
		{4, EventStatusRetrying, 16 * time.Second},
		{MaxPublishAttempts, EventStatusDeadLetter, 32 * time.Second},
		{8, EventStatusDeadLetter, 256 * time.Second},
		{9, EventStatusDeadLetter, maxRetryBackoff},
		{63, EventStatusDeadLetter, maxRetryBackoff},
	}

	for _, tt := range tests {
		status, next := retrySchedule(tt.attempts, now)
		assert.Equal(t, tt.wantStatus, status, "attempts=%d", tt.attempts)
		assert.Equal(t, tt.wantWait, next.Sub(now), "attempts=%d", tt.attempts)
	}
}

func TestGalleryEventValidate(t *testing.T) {
	valid := GalleryEvent{
		EventType: EventTypeGalleryImageImported,
		ImageName: "Abner Chair  Grey.jpg",
		Payload:   json.RawMessage(`{"image_name":"Abner Chair  Grey.jpg"}`),
	}
	assert.NoError(t, valid.validate())

	noName := valid
	noName.ImageName = ""
	assert.ErrorIs(t, noName.validate(), ErrInvalidEvent)

	noType := valid
	noType.EventType = ""
	assert.ErrorIs(t, noType.validate(), ErrInvalidEvent)

	broken := valid
	broken.Payload = json.RawMessage(`{"image_name":`)
	assert.ErrorIs(t, broken.validate(), ErrInvalidEvent)
}

func TestOutboxFollowsGalleryImport(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	gallery := NewGalleryRepository(db, "stream:gallery-test")
	outbox := NewOutboxRepository(db)

	chair := &models.GalleryImage{Name: "Abner Chair  Grey.jpg", Description: "Comfortable grey chair"}
	require.NoError(t, gallery.InsertImage(ctx, chair, []models.ImageRecommendation{
		{RecommendedName: "Abner Sofa  Grey.jpg", SimilarityValue: 0.82, Rank: 1},
	}))
	sofa := &models.GalleryImage{Name: "Abner Sofa  Grey.jpg"}
	require.NoError(t, gallery.InsertImage(ctx, sofa, nil))

	due, err := outbox.Due(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	t.Run("events are due in import order", func(t *testing.T) {
		assert.Equal(t, "Abner Chair  Grey.jpg", due[0].ImageName)
		assert.Equal(t, "Abner Sofa  Grey.jpg", due[1].ImageName)
		assert.Equal(t, "stream:gallery-test", due[0].Stream)
		assert.Equal(t, EventStatusPending, due[0].Status)

		values, err := streamValues(due[0])
		require.NoError(t, err)
		assert.Equal(t, `["Abner Sofa  Grey.jpg"]`, values["recommendations"])
		assert.Equal(t, `[0.82]`, values["scores"])
	})

	t.Run("published events leave the backlog", func(t *testing.T) {
		require.NoError(t, outbox.MarkPublished(ctx, due[0].ID))

		b, err := outbox.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, Backlog{Pending: 1}, b)
	})

	t.Run("failed publish waits for its retry", func(t *testing.T) {
		require.NoError(t, outbox.MarkFailed(ctx, due[1].ID, errors.New("connection refused")))

		again, err := outbox.Due(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, again)

		b, err := outbox.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.Pending)
	})

	t.Run("repeated failures dead-letter the event", func(t *testing.T) {
		for i := 1; i < MaxPublishAttempts; i++ {
			require.NoError(t, outbox.MarkFailed(ctx, due[1].ID, errors.New("connection refused")))
		}

		var status, lastErr string
		var attempts int
		require.NoError(t, db.pool.QueryRow(ctx,
			`SELECT status, attempts, last_error FROM gallery_outbox WHERE id = $1`, due[1].ID,
		).Scan(&status, &attempts, &lastErr))
		assert.Equal(t, EventStatusDeadLetter, status)
		assert.Equal(t, MaxPublishAttempts, attempts)
		assert.Equal(t, "connection refused", lastErr)

		b, err := outbox.Backlog(ctx)
		require.NoError(t, err)
		assert.Equal(t, Backlog{DeadLetter: 1}, b)
	})

	t.Run("unknown event", func(t *testing.T) {
		assert.ErrorIs(t, outbox.MarkPublished(ctx, uuid.New()), ErrNotFound)
		assert.ErrorIs(t, outbox.MarkFailed(ctx, uuid.New(), errors.New("x")), ErrNotFound)
		assert.ErrorIs(t, outbox.MarkDeadLetter(ctx, uuid.New(), errors.New("x")), ErrNotFound)
	})
}

func TestOutboxDeadLetterSkipsRetries(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	outbox := NewOutboxRepository(db)
	e := &GalleryEvent{
		EventType: "GALLERY_IMAGE_RENAMED",
		ImageName: "Ellis Sofa  Charcoal.jpg",
		Payload:   json.RawMessage(`{}`),
	}
	require.NoError(t, db.WithTx(ctx, func(tx pgx.Tx) error {
		return outbox.Enqueue(ctx, tx, e)
	}))
	assert.Equal(t, DefaultGalleryStream, e.Stream)

	require.NoError(t, outbox.MarkDeadLetter(ctx, e.ID, ErrUnpublishable))

	due, err := outbox.Due(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	b, err := outbox.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, Backlog{DeadLetter: 1}, b)
}

func TestOutboxEnqueueRollsBackWithImport(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	outbox := NewOutboxRepository(db)
	failure := errors.New("recommendation insert failed")

	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		require.NoError(t, outbox.Enqueue(ctx, tx, &GalleryEvent{
			EventType: EventTypeGalleryImageImported,
			ImageName: "Abner Chair  Grey.jpg",
			Payload:   json.RawMessage(`{"image_name":"Abner Chair  Grey.jpg"}`),
		}))
		return failure
	})
	assert.ErrorIs(t, err, failure)

	b, err := outbox.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, Backlog{}, b)
}

func TestOutboxEnqueueRejectsInvalidEvent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	outbox := NewOutboxRepository(db)
	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		return outbox.Enqueue(ctx, tx, &GalleryEvent{EventType: EventTypeGalleryImageImported})
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

// setupTestDB connects to TEST_DATABASE_URL and recreates the schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn, Config{MaxConns: 4})
	require.NoError(t, err)

	require.NoError(t, db.DropSchema(ctx))
	require.NoError(t, db.CreateSchema(ctx))

	return db
}
