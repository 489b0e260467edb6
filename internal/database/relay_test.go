package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamPublisher struct {
	mock.Mock
}

func (m *MockStreamPublisher) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	called := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := called.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1718000000000-0")
	}
	return cmd
}

type MockEventQueue struct {
	mock.Mock
}

func (m *MockEventQueue) Due(ctx context.Context, limit int) ([]*GalleryEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*GalleryEvent), args.Error(1)
}

func (m *MockEventQueue) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockEventQueue) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return m.Called(ctx, id, cause).Error(0)
}

func (m *MockEventQueue) MarkDeadLetter(ctx context.Context, id uuid.UUID, cause error) error {
	return m.Called(ctx, id, cause).Error(0)
}

func (m *MockEventQueue) Backlog(ctx context.Context) (Backlog, error) {
	args := m.Called(ctx)
	return args.Get(0).(Backlog), args.Error(1)
}

func importedEvent(t *testing.T, name string, recs []string, scores []float64) *GalleryEvent {
	t.Helper()
	payload, err := json.Marshal(GalleryImageImportedPayload{
		ImageID:         42,
		ImageName:       name,
		Description:     "Comfortable grey chair",
		Recommendations: recs,
		Scores:          scores,
		ImportedAt:      time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	return &GalleryEvent{
		ID:        uuid.New(),
		EventType: EventTypeGalleryImageImported,
		ImageName: name,
		Payload:   payload,
		Stream:    DefaultGalleryStream,
		Status:    EventStatusPending,
	}
}

func TestStreamValues(t *testing.T) {
	e := importedEvent(t, "Abner Chair  Grey.jpg",
		[]string{"Abner Sofa  Grey.jpg", "Ellis Chair  Charcoal.jpg"}, []float64{0.82, 0.61})

	values, err := streamValues(e)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"event_id":             e.ID.String(),
		"event_type":           EventTypeGalleryImageImported,
		"source":               "image-recommender",
		"image_id":             "42",
		"image_name":           "Abner Chair  Grey.jpg",
		"description":          "Comfortable grey chair",
		"recommendations":      `["Abner Sofa  Grey.jpg","Ellis Chair  Charcoal.jpg"]`,
		"scores":               `[0.82,0.61]`,
		"recommendation_count": "2",
		"imported_at":          "2024-06-10T08:30:00Z",
	}, values)
}

func TestStreamValuesImageWithoutRecommendations(t *testing.T) {
	values, err := streamValues(importedEvent(t, "Dion Ottoman  White.jpg", nil, nil))
	require.NoError(t, err)

	assert.Equal(t, "[]", values["recommendations"])
	assert.Equal(t, "[]", values["scores"])
	assert.Equal(t, "0", values["recommendation_count"])
}

func TestStreamValuesRejectsUnpublishableEvents(t *testing.T) {
	tests := []struct {
		name  string
		event func(t *testing.T) *GalleryEvent
	}{
		{"unknown type", func(t *testing.T) *GalleryEvent {
			e := importedEvent(t, "a.jpg", nil, nil)
			e.EventType = "GALLERY_IMAGE_DELETED"
			return e
		}},
		{"payload not an object", func(t *testing.T) *GalleryEvent {
			e := importedEvent(t, "a.jpg", nil, nil)
			e.Payload = json.RawMessage(`["a.jpg"]`)
			return e
		}},
		{"missing image name", func(t *testing.T) *GalleryEvent {
			return importedEvent(t, "", nil, nil)
		}},
		{"scores out of step", func(t *testing.T) *GalleryEvent {
			return importedEvent(t, "a.jpg", []string{"b.jpg", "c.jpg"}, []float64{0.5})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := streamValues(tt.event(t))
			assert.ErrorIs(t, err, ErrUnpublishable)
		})
	}
}

func TestRelayPublishesImportedImage(t *testing.T) {
	ctx := context.Background()
	queue := new(MockEventQueue)
	publisher := new(MockStreamPublisher)
	relay := newRelay(queue, publisher, slog.Default(), RelayConfig{BatchSize: 10, StreamMaxLen: 5000})

	e := importedEvent(t, "Abner Chair  Grey.jpg", []string{"Abner Sofa  Grey.jpg"}, []float64{0.82})
	queue.On("Due", ctx, 10).Return([]*GalleryEvent{e}, nil).Once()
	publisher.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		values := args.Values.(map[string]interface{})
		return args.Stream == DefaultGalleryStream &&
			args.MaxLen == 5000 && args.Approx &&
			values["image_name"] == "Abner Chair  Grey.jpg" &&
			values["recommendations"] == `["Abner Sofa  Grey.jpg"]`
	})).Return(nil).Once()
	queue.On("MarkPublished", ctx, e.ID).Return(nil).Once()

	n, err := relay.drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	queue.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRelayRetriesWhenRedisFails(t *testing.T) {
	ctx := context.Background()
	queue := new(MockEventQueue)
	publisher := new(MockStreamPublisher)
	relay := newRelay(queue, publisher, slog.Default(), RelayConfig{BatchSize: 10})

	e := importedEvent(t, "Campbell Sofa  Black.jpg", nil, nil)
	redisErr := errors.New("LOADING Redis is loading the dataset in memory")
	queue.On("Due", ctx, 10).Return([]*GalleryEvent{e}, nil).Once()
	publisher.On("XAdd", ctx, mock.Anything).Return(redisErr).Once()
	queue.On("MarkFailed", ctx, e.ID, redisErr).Return(nil).Once()

	n, err := relay.drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	queue.AssertExpectations(t)
	queue.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
}

func TestRelayDeadLettersMalformedImport(t *testing.T) {
	ctx := context.Background()
	queue := new(MockEventQueue)
	publisher := new(MockStreamPublisher)
	relay := newRelay(queue, publisher, slog.Default(), RelayConfig{BatchSize: 10})

	e := importedEvent(t, "Abner Chair  Grey.jpg", nil, nil)
	e.Payload = json.RawMessage(`{"image_name": 7}`)
	queue.On("Due", ctx, 10).Return([]*GalleryEvent{e}, nil).Once()
	queue.On("MarkDeadLetter", ctx, e.ID, mock.MatchedBy(func(err error) bool {
		return errors.Is(err, ErrUnpublishable)
	})).Return(nil).Once()

	_, err := relay.drain(ctx)
	require.NoError(t, err)

	queue.AssertExpectations(t)
	publisher.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	queue.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestRelayDrainsFullBatches(t *testing.T) {
	ctx := context.Background()
	queue := new(MockEventQueue)
	publisher := new(MockStreamPublisher)
	relay := newRelay(queue, publisher, slog.Default(), RelayConfig{BatchSize: 2})

	first := []*GalleryEvent{
		importedEvent(t, "Abie Expandable  73 to 95 TV Stand.jpg", nil, nil),
		importedEvent(t, "Abner Chair  Grey.jpg", nil, nil),
	}
	second := []*GalleryEvent{importedEvent(t, "Abner Sofa  Grey.jpg", nil, nil)}

	queue.On("Due", ctx, 2).Return(first, nil).Once()
	queue.On("Due", ctx, 2).Return(second, nil).Once()
	publisher.On("XAdd", ctx, mock.Anything).Return(nil).Times(3)
	queue.On("MarkPublished", ctx, mock.Anything).Return(nil).Times(3)

	n, err := relay.drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	queue.AssertNumberOfCalls(t, "Due", 2)
}

func TestRelayStopsDrainWhenNothingPublishes(t *testing.T) {
	ctx := context.Background()
	queue := new(MockEventQueue)
	publisher := new(MockStreamPublisher)
	relay := newRelay(queue, publisher, slog.Default(), RelayConfig{BatchSize: 1})

	e := importedEvent(t, "Abner Chair  Grey.jpg", nil, nil)
	queue.On("Due", ctx, 1).Return([]*GalleryEvent{e}, nil)
	publisher.On("XAdd", ctx, mock.Anything).Return(errors.New("connection refused"))
	queue.On("MarkFailed", ctx, e.ID, mock.Anything).Return(errors.New("database is down"))

	n, err := relay.drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	queue.AssertNumberOfCalls(t, "Due", 1)
}

func TestRelayDrainReportsQueueError(t *testing.T) {
	ctx := context.Background()
	queue := new(MockEventQueue)
	relay := newRelay(queue, new(MockStreamPublisher), slog.Default(), RelayConfig{})

	queue.On("Due", ctx, 100).Return(nil, errors.New("too many connections"))

	_, err := relay.drain(ctx)
	assert.ErrorContains(t, err, "too many connections")
}

func TestRelayStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	queue := new(MockEventQueue)
	relay := newRelay(queue, new(MockStreamPublisher), slog.Default(), RelayConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
	})

	queue.On("Due", mock.Anything, 10).Return([]*GalleryEvent{}, nil)

	done := make(chan error, 1)
	go func() { done <- relay.Start(ctx) }()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	assert.GreaterOrEqual(t, len(queue.Calls), 2)
}

func TestRelayBacklog(t *testing.T) {
	ctx := context.Background()
	queue := new(MockEventQueue)
	relay := newRelay(queue, new(MockStreamPublisher), slog.Default(), RelayConfig{})

	queue.On("Backlog", ctx).Return(Backlog{Pending: 3, DeadLetter: 1}, nil)

	b, err := relay.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, Backlog{Pending: 3, DeadLetter: 1}, b)
}
