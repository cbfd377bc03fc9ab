package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	trackingApp "github.com/davicafu/sagalab/internal/tracking/application"
	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	trackingSQLite "github.com/davicafu/sagalab/internal/tracking/infra/outbound/db/sqlite"
	sharedEvents "github.com/davicafu/sagalab/shared/events"
	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
)

const group = "audit-service"

func newTracker(t *testing.T) *trackingApp.ConsumptionTracker {
	t.Helper()
	db, err := sharedDB.OpenSQLiteMemory()
	require.NoError(t, err)
	require.NoError(t, trackingSQLite.InitSQLiteTrackingSchema(db))
	t.Cleanup(func() { db.Close() })
	return trackingApp.NewConsumptionTracker(trackingSQLite.NewConsumptionRepoSQLite(db), 3, zap.NewNop())
}

func delivery(t *testing.T, id string, offset int64) sharedBus.Delivery {
	t.Helper()
	evt := sharedEvents.IntegrationEvent{
		ID:            id,
		Type:          sharedEvents.SeatReserved,
		AggregateID:   "booking-1",
		AggregateType: sharedEvents.BookingAggregateType,
		CorrelationID: "saga-1",
		Timestamp:     time.Now().UTC(),
		Data:          []byte(`{"seatId":"12A"}`),
	}
	raw, err := evt.Encode()
	require.NoError(t, err)
	return sharedBus.Delivery{
		Message: sharedBus.Message{Topic: sharedEvents.BookingTopic, Key: evt.AggregateID, Value: raw},
		Source:  sharedBus.Coordinates{Topic: sharedEvents.BookingTopic, Partition: 0, Offset: offset},
	}
}

func TestTrackedConsumer_DuplicateDeliveryRunsHandlerOnce(t *testing.T) {
	tracker := newTracker(t)
	var calls int32
	consumer := NewTrackedConsumer(tracker, group, EventHandlerFunc(func(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, consumer.HandleMessage(ctx, delivery(t, "evt-dup", 0)))
	require.NoError(t, consumer.HandleMessage(ctx, delivery(t, "evt-dup", 7)))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	rec, err := tracker.Get(ctx, "evt-dup")
	require.NoError(t, err)
	assert.Equal(t, trackingDomain.ConsumptionProcessed, rec.Status)
	assert.Equal(t, int64(0), rec.Source.Offset, "se conserva la primera entrega")
	assert.NotNil(t, rec.ProcessedAt)
}

func TestTrackedConsumer_FailureIsRetriedUntilFailed(t *testing.T) {
	tracker := newTracker(t)
	var calls int32
	boom := errors.New("clickhouse unavailable")
	consumer := NewTrackedConsumer(tracker, group, EventHandlerFunc(func(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
		atomic.AddInt32(&calls, 1)
		return boom
	}), zap.NewNop())
	ctx := context.Background()
	d := delivery(t, "evt-fail", 3)

	assert.ErrorIs(t, consumer.HandleMessage(ctx, d), boom)
	assert.ErrorIs(t, consumer.HandleMessage(ctx, d), boom)
	// El tercer fallo agota los intentos: se confirma el mensaje y queda FAILED.
	assert.NoError(t, consumer.HandleMessage(ctx, d))

	rec, err := tracker.Get(ctx, "evt-fail")
	require.NoError(t, err)
	assert.Equal(t, trackingDomain.ConsumptionFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, "clickhouse unavailable", rec.ErrorMessage)
	assert.NotEmpty(t, rec.ErrorStack)

	assert.NoError(t, consumer.HandleMessage(ctx, d))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "un FAILED terminal no vuelve a ejecutar el handler")
}

func TestTrackedConsumer_HandleExhaustedClosesRecord(t *testing.T) {
	tracker := newTracker(t)
	boom := errors.New("clickhouse unavailable")
	consumer := NewTrackedConsumer(tracker, group, EventHandlerFunc(func(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
		return boom
	}), zap.NewNop())
	ctx := context.Background()
	d := delivery(t, "evt-exhausted", 4)

	assert.ErrorIs(t, consumer.HandleMessage(ctx, d), boom)
	rec, err := tracker.Get(ctx, "evt-exhausted")
	require.NoError(t, err)
	assert.Equal(t, trackingDomain.ConsumptionReceived, rec.Status)

	consumer.HandleExhausted(ctx, d, boom)

	rec, err = tracker.Get(ctx, "evt-exhausted")
	require.NoError(t, err)
	assert.Equal(t, trackingDomain.ConsumptionFailed, rec.Status)
	assert.Equal(t, rec.MaxRetries, rec.RetryCount)
	assert.True(t, rec.Terminal())

	// Un registro ya procesado no se toca.
	ok := NewTrackedConsumer(tracker, group, EventHandlerFunc(func(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
		return nil
	}), zap.NewNop())
	done := delivery(t, "evt-done", 5)
	require.NoError(t, ok.HandleMessage(ctx, done))
	ok.HandleExhausted(ctx, done, boom)
	rec, err = tracker.Get(ctx, "evt-done")
	require.NoError(t, err)
	assert.Equal(t, trackingDomain.ConsumptionProcessed, rec.Status)
}

func TestTrackedConsumer_PanicIsRecorded(t *testing.T) {
	tracker := newTracker(t)
	consumer := NewTrackedConsumer(tracker, group, EventHandlerFunc(func(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
		panic("nil seat map")
	}), zap.NewNop())
	ctx := context.Background()

	err := consumer.HandleMessage(ctx, delivery(t, "evt-panic", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil seat map")

	rec, err := tracker.Get(ctx, "evt-panic")
	require.NoError(t, err)
	assert.Equal(t, trackingDomain.ConsumptionReceived, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Contains(t, rec.ErrorMessage, "handler panic")
	assert.Contains(t, rec.ErrorStack, "goroutine")
	assert.LessOrEqual(t, len(rec.ErrorStack), trackingDomain.MaxStackLength)
}

func TestTrackedConsumer_MalformedEnvelopeIsDropped(t *testing.T) {
	tracker := newTracker(t)
	called := false
	consumer := NewTrackedConsumer(tracker, group, EventHandlerFunc(func(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
		called = true
		return nil
	}), zap.NewNop())

	err := consumer.HandleMessage(context.Background(), sharedBus.Delivery{
		Message: sharedBus.Message{Topic: sharedEvents.BookingTopic, Value: []byte(`{not json`)},
	})
	assert.NoError(t, err)
	assert.False(t, called)

	counts, err := tracker.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestTrackedConsumer_ConcurrentDeliveriesProcessOnce(t *testing.T) {
	tracker := newTracker(t)
	var calls int32
	consumer := NewTrackedConsumer(tracker, group, EventHandlerFunc(func(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return nil
	}), zap.NewNop())
	ctx := context.Background()

	deliveries := make([]sharedBus.Delivery, 8)
	for i := range deliveries {
		deliveries[i] = delivery(t, "evt-race", int64(i))
	}

	var wg sync.WaitGroup
	for _, d := range deliveries {
		wg.Add(1)
		go func(d sharedBus.Delivery) {
			defer wg.Done()
			assert.NoError(t, consumer.HandleMessage(ctx, d))
		}(d)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	rec, err := tracker.Get(ctx, "evt-race")
	require.NoError(t, err)
	assert.Equal(t, trackingDomain.ConsumptionProcessed, rec.Status)
}
