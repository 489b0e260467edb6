package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const eventSource = "image-recommender"

// ErrUnpublishable marks events that no retry can deliver.
var ErrUnpublishable = errors.New("gallery event cannot be published")

// StreamPublisher is the part of the Redis client the relay uses.
type StreamPublisher interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// EventQueue is the outbox side of the relay.
type EventQueue interface {
	Due(ctx context.Context, limit int) ([]*GalleryEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, cause error) error
	Backlog(ctx context.Context) (Backlog, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen caps each stream approximately; 0 leaves streams untrimmed.
	StreamMaxLen int64
}

// Relay publishes committed gallery events to their Redis streams, one flat
// stream entry per imported image.
type Relay struct {
	redis  StreamPublisher
	events EventQueue
	logger *slog.Logger
	cfg    RelayConfig
}

func NewRelay(db *DB, redisClient StreamPublisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	return newRelay(NewOutboxRepository(db), redisClient, logger, cfg)
}

func newRelay(events EventQueue, redisClient StreamPublisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Relay{
		redis:  redisClient,
		events: events,
		logger: logger.With("component", "gallery_relay"),
		cfg:    cfg,
	}
}

// Start drains the outbox, then again every poll interval, until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize,
		"stream_max_len", r.cfg.StreamMaxLen)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if n, err := r.drain(ctx); err != nil {
			r.logger.Error("failed to drain gallery outbox", "error", err)
		} else if n > 0 {
			r.logger.Info("published gallery events", "count", n)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain publishes due events batch by batch. It stops after a short batch or
// after a batch in which nothing was published.
func (r *Relay) drain(ctx context.Context) (int, error) {
	published := 0

	for ctx.Err() == nil {
		events, err := r.events.Due(ctx, r.cfg.BatchSize)
		if err != nil {
			return published, fmt.Errorf("failed to load due events: %w", err)
		}

		delivered := 0
		for _, e := range events {
			if r.deliver(ctx, e) {
				delivered++
			}
		}
		published += delivered

		if len(events) < r.cfg.BatchSize || delivered == 0 {
			break
		}
	}

	return published, nil
}

func (r *Relay) deliver(ctx context.Context, e *GalleryEvent) bool {
	log := r.logger.With("event_id", e.ID, "image", e.ImageName, "stream", e.Stream)

	values, err := streamValues(e)
	if err != nil {
		log.Warn("dead-lettering gallery event", "error", err)
		if markErr := r.events.MarkDeadLetter(ctx, e.ID, err); markErr != nil {
			log.Error("failed to dead-letter gallery event", "error", markErr)
		}
		return false
	}

	args := &redis.XAddArgs{Stream: e.Stream, Values: values}
	if r.cfg.StreamMaxLen > 0 {
		args.MaxLen = r.cfg.StreamMaxLen
		args.Approx = true
	}

	entryID, err := r.redis.XAdd(ctx, args).Result()
	if err != nil {
		log.Warn("failed to publish gallery event", "attempt", e.Attempts+1, "error", err)
		if markErr := r.events.MarkFailed(ctx, e.ID, err); markErr != nil {
			log.Error("failed to record publish failure", "error", markErr)
		}
		return false
	}

	if err := r.events.MarkPublished(ctx, e.ID); err != nil {
		// the entry is already in the stream; the next drain publishes it again
		log.Error("failed to mark gallery event published", "entry_id", entryID, "error", err)
		return false
	}

	log.Debug("gallery event published", "entry_id", entryID)
	return true
}

// streamValues flattens an event into stream entry fields so consumers can
// read the image and its recommendations without decoding a nested envelope.
func streamValues(e *GalleryEvent) (map[string]interface{}, error) {
	switch e.EventType {
	case EventTypeGalleryImageImported:
		var p GalleryImageImportedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnpublishable, err)
		}
		if p.ImageName == "" {
			return nil, fmt.Errorf("%w: payload has no image name", ErrUnpublishable)
		}
		if len(p.Scores) != len(p.Recommendations) {
			return nil, fmt.Errorf("%w: %d recommendations but %d scores",
				ErrUnpublishable, len(p.Recommendations), len(p.Scores))
		}

		recs, err := json.Marshal(nonNil(p.Recommendations))
		if err != nil {
			return nil, err
		}
		scores, err := json.Marshal(nonNil(p.Scores))
		if err != nil {
			return nil, err
		}

		return map[string]interface{}{
			"event_id":             e.ID.String(),
			"event_type":           e.EventType,
			"source":               eventSource,
			"image_id":             strconv.FormatInt(p.ImageID, 10),
			"image_name":           p.ImageName,
			"description":          p.Description,
			"recommendations":      string(recs),
			"scores":               string(scores),
			"recommendation_count": strconv.Itoa(len(p.Recommendations)),
			"imported_at":          p.ImportedAt.UTC().Format(time.RFC3339),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrUnpublishable, e.EventType)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Backlog reports how many events wait for delivery and how many gave up.
func (r *Relay) Backlog(ctx context.Context) (Backlog, error) {
	return r.events.Backlog(ctx)
}
