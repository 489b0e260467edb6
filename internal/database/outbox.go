package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Delivery states of a gallery event.
const (
	EventStatusPending    = "pending"
	EventStatusRetrying   = "retrying"
	EventStatusPublished  = "published"
	EventStatusDeadLetter = "dead_letter"
)

const (
	MaxPublishAttempts = 5
	maxRetryBackoff    = 5 * time.Minute
)

var ErrInvalidEvent = errors.New("invalid gallery event")

// GalleryEvent is a row of gallery_outbox: a gallery change written in the
// same transaction as the change itself and later published to its stream.
type GalleryEvent struct {
	ID            uuid.UUID
	EventType     string
	ImageName     string
	Payload       json.RawMessage
	Stream        string
	Status        string
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
	NextAttemptAt time.Time
}

func (e *GalleryEvent) validate() error {
	switch {
	case e.EventType == "":
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	case e.ImageName == "":
		return fmt.Errorf("%w: image name is required", ErrInvalidEvent)
	case !json.Valid(e.Payload):
		return fmt.Errorf("%w: payload is not a JSON document", ErrInvalidEvent)
	}
	return nil
}

// Backlog counts events the relay has not delivered yet.
type Backlog struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue writes e inside tx so it commits or rolls back with the gallery
// change it describes. ID, Status, Stream and CreatedAt are filled in.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx pgx.Tx, e *GalleryEvent) error {
	if err := e.validate(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Stream == "" {
		e.Stream = DefaultGalleryStream
	}
	e.Status = EventStatusPending

	err := tx.QueryRow(ctx, `
		INSERT INTO gallery_outbox (id, event_type, image_name, payload, stream, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, next_attempt_at`,
		e.ID, e.EventType, e.ImageName, e.Payload, e.Stream, e.Status,
	).Scan(&e.CreatedAt, &e.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for %q: %w", e.EventType, e.ImageName, err)
	}

	return nil
}

// Due returns up to limit undelivered events whose next attempt has come,
// oldest first.
func (r *OutboxRepository) Due(ctx context.Context, limit int) ([]*GalleryEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, event_type, image_name, payload, stream, status, attempts,
			last_error, created_at, published_at, next_attempt_at
		FROM gallery_outbox
		WHERE status IN ($1, $2) AND next_attempt_at <= NOW()
		ORDER BY created_at ASC, id ASC
		LIMIT $3`,
		EventStatusPending, EventStatusRetrying, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due gallery events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*GalleryEvent, error) {
		e := &GalleryEvent{}
		err := row.Scan(&e.ID, &e.EventType, &e.ImageName, &e.Payload, &e.Stream, &e.Status,
			&e.Attempts, &e.LastError, &e.CreatedAt, &e.PublishedAt, &e.NextAttemptAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan gallery events: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE gallery_outbox
		SET status = $1, published_at = NOW(), last_error = NULL
		WHERE id = $2`,
		EventStatusPublished, id)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gallery event %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed records a failed publish and schedules the next attempt. After
// MaxPublishAttempts failures the event becomes a dead letter.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx,
			`SELECT attempts FROM gallery_outbox WHERE id = $1 FOR UPDATE`, id).Scan(&attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("gallery event %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock gallery event: %w", err)
		}

		attempts++
		status, next := retrySchedule(attempts, time.Now())

		_, err = tx.Exec(ctx, `
			UPDATE gallery_outbox
			SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4
			WHERE id = $5`,
			status, attempts, cause.Error(), next, id)
		if err != nil {
			return fmt.Errorf("failed to record publish failure: %w", err)
		}
		return nil
	})
}

// MarkDeadLetter parks an event that can never be published.
func (r *OutboxRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, cause error) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE gallery_outbox
		SET status = $1, attempts = attempts + 1, last_error = $2
		WHERE id = $3`,
		EventStatusDeadLetter, cause.Error(), id)
	if err != nil {
		return fmt.Errorf("failed to dead-letter event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("gallery event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *OutboxRepository) Backlog(ctx context.Context) (Backlog, error) {
	var b Backlog
	err := r.db.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM gallery_outbox`,
		EventStatusPending, EventStatusRetrying, EventStatusDeadLetter,
	).Scan(&b.Pending, &b.DeadLetter)
	if err != nil {
		return Backlog{}, fmt.Errorf("failed to count gallery outbox: %w", err)
	}
	return b, nil
}

// retrySchedule returns the state and next attempt time after attempts failed
// publishes. The wait doubles from 2s and is capped at maxRetryBackoff.
func retrySchedule(attempts int, now time.Time) (string, time.Time) {
	status := EventStatusRetrying
	if attempts >= MaxPublishAttempts {
		status = EventStatusDeadLetter
	}

	backoff := maxRetryBackoff
	if attempts < 9 {
		backoff = min(time.Duration(1<<attempts)*time.Second, maxRetryBackoff)
	}
	return status, now.Add(backoff)
}
