package database

import (
	"context"
	"fmt"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS gallery_images (
	id                BIGSERIAL PRIMARY KEY,
	image_name        TEXT NOT NULL UNIQUE,
	image_description TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS image_recommendations (
	id               BIGSERIAL PRIMARY KEY,
	recommended_id   BIGINT NOT NULL REFERENCES gallery_images(id) ON DELETE CASCADE,
	recommended_name TEXT NOT NULL,
	similarity_value DOUBLE PRECISION NOT NULL,
	rank             INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_image_recommendations_recommended_id
	ON image_recommendations (recommended_id, rank);

CREATE TABLE IF NOT EXISTS gallery_outbox (
	id              UUID PRIMARY KEY,
	event_type      TEXT NOT NULL,
	image_name      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	stream          TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	published_at    TIMESTAMPTZ,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_gallery_outbox_due
	ON gallery_outbox (status, next_attempt_at);
`

const dropSchemaSQL = `
DROP TABLE IF EXISTS image_recommendations;
DROP TABLE IF EXISTS gallery_images;
DROP TABLE IF EXISTS gallery_outbox;
`

// CreateSchema creates the gallery and outbox tables if missing.
func (db *DB) CreateSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DropSchema removes every table created by CreateSchema.
func (db *DB) DropSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, dropSchemaSQL); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	return nil
}
