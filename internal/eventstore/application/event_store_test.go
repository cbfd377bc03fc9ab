package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
	"github.com/davicafu/sagalab/tests/mocks"
)

// stepClock avanza un segundo en cada lectura.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(repo *mocks.InMemoryEventRepo) *EventStore {
	return NewEventStore(repo, zap.NewNop(),
		WithClock(stepClock(t0)),
		WithRetryPolicy(sharedUtils.BackoffPolicy{Attempts: 200, BaseDelay: 50 * time.Microsecond, MaxDelay: time.Millisecond, Jitter: 1}),
	)
}

func appendCmd(aggregateID, eventType string) AppendCommand {
	return AppendCommand{
		AggregateID:   aggregateID,
		AggregateType: "booking",
		EventType:     eventType,
		Payload:       map[string]string{"k": "v"},
		CorrelationID: "saga-1",
	}
}

func TestAppend_AssignsGapFreeSequence(t *testing.T) {
	// Arrange
	store := newStore(mocks.NewInMemoryEventRepo())
	ctx := context.Background()

	// Act
	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, appendCmd("booking-1", fmt.Sprintf("E%d", i)))
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, appendCmd("booking-2", "OTHER"))
	require.NoError(t, err)

	// Assert
	stream, err := store.GetEventStream(ctx, "booking-1")
	require.NoError(t, err)
	require.Len(t, stream, 5)
	for i, evt := range stream {
		assert.Equal(t, int64(i+1), evt.SequenceNumber)
		assert.Equal(t, fmt.Sprintf("E%d", i), evt.EventType)
		assert.NotEmpty(t, evt.EventID)
	}

	other, err := store.GetEventStream(ctx, "booking-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other[0].SequenceNumber)
}

func TestAppend_ConcurrentWritersNeverLeaveGaps(t *testing.T) {
	store := newStore(mocks.NewInMemoryEventRepo())
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendWithRetry(ctx, appendCmd("booking-1", fmt.Sprintf("E%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stream, err := store.GetEventStream(ctx, "booking-1")
	require.NoError(t, err)
	require.Len(t, stream, writers)
	for i, evt := range stream {
		assert.Equal(t, int64(i+1), evt.SequenceNumber)
		if i > 0 {
			assert.False(t, evt.OccurredAt.Before(stream[i-1].OccurredAt))
		}
	}
}

func TestAppend_ConflictSurfacesWithoutRetry(t *testing.T) {
	repo := mocks.NewInMemoryEventRepo()
	repo.InjectConflicts = 1
	store := newStore(repo)

	_, err := store.Append(context.Background(), appendCmd("booking-1", "E"))

	assert.ErrorIs(t, err, esDomain.ErrConcurrencyConflict)
	assert.True(t, sharedDomain.IsConflict(err))
}

func TestAppendWithRetry_RecoversFromConflicts(t *testing.T) {
	repo := mocks.NewInMemoryEventRepo()
	repo.InjectConflicts = 2
	store := newStore(repo)

	evt, err := store.AppendWithRetry(context.Background(), appendCmd("booking-1", "E"))

	require.NoError(t, err)
	assert.Equal(t, int64(1), evt.SequenceNumber)
	assert.Len(t, repo.Events, 1)
}

func TestAppend_ExpectedVersionMismatch(t *testing.T) {
	store := newStore(mocks.NewInMemoryEventRepo())
	ctx := context.Background()
	_, err := store.Append(ctx, appendCmd("booking-1", "E1"))
	require.NoError(t, err)

	stale := appendCmd("booking-1", "E2")
	stale.ExpectedVersion = ExpectVersion(0)
	_, err = store.AppendWithRetry(ctx, stale)
	assert.ErrorIs(t, err, esDomain.ErrConcurrencyConflict)

	fresh := appendCmd("booking-1", "E2")
	fresh.ExpectedVersion = ExpectVersion(1)
	evt, err := store.Append(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(2), evt.SequenceNumber)
}

func TestAppend_ZeroValueCommandSkipsVersionCheck(t *testing.T) {
	store := newStore(mocks.NewInMemoryEventRepo())
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		evt, err := store.AppendWithRetry(ctx, AppendCommand{
			AggregateID:   "booking-1",
			AggregateType: "booking",
			EventType:     "E",
			Payload:       map[string]int{"n": i},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), evt.SequenceNumber)
	}

	fresh := appendCmd("booking-2", "E1")
	fresh.ExpectedVersion = ExpectVersion(0)
	evt, err := store.Append(ctx, fresh)
	require.NoError(t, err, "0 exige un agregado nuevo")
	assert.Equal(t, int64(1), evt.SequenceNumber)
}

func TestAppend_DuplicateEventIDIsIdempotent(t *testing.T) {
	repo := mocks.NewInMemoryEventRepo()
	store := newStore(repo)
	ctx := context.Background()

	cmd := appendCmd("booking-1", "SEAT_RESERVED")
	cmd.EventID = "evt-1"

	first, err := store.Append(ctx, cmd)
	require.NoError(t, err)
	second, err := store.Append(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, repo.Events, 1)

	reused := appendCmd("booking-1", "PAYMENT_CHARGED")
	reused.EventID = "evt-1"
	_, err = store.Append(ctx, reused)
	assert.ErrorIs(t, err, esDomain.ErrEventIDReused)
}

func TestAppend_RejectsInvalidInput(t *testing.T) {
	store := newStore(mocks.NewInMemoryEventRepo())
	ctx := context.Background()

	_, err := store.Append(ctx, appendCmd("", "E"))
	assert.True(t, sharedDomain.IsValidation(err))

	bad := appendCmd("booking-1", "E")
	bad.Payload = json.RawMessage(`{"broken":`)
	_, err = store.Append(ctx, bad)
	assert.True(t, sharedDomain.IsValidation(err))

	noType := appendCmd("booking-1", "")
	_, err = store.Append(ctx, noType)
	assert.ErrorIs(t, err, esDomain.ErrInvalidEvent)
}

func TestQueries(t *testing.T) {
	store := newStore(mocks.NewInMemoryEventRepo())
	ctx := context.Background()

	for _, et := range []string{"A", "B", "A", "C"} {
		_, err := store.Append(ctx, appendCmd("booking-1", et))
		require.NoError(t, err)
	}
	other := appendCmd("booking-2", "A")
	other.CorrelationID = "saga-1"
	_, err := store.Append(ctx, other)
	require.NoError(t, err)

	byType, err := store.GetEventsByType(ctx, "booking-1", "A")
	require.NoError(t, err)
	require.Len(t, byType, 2)
	assert.Equal(t, int64(1), byType[0].SequenceNumber)
	assert.Equal(t, int64(3), byType[1].SequenceNumber)

	latest, err := store.GetLatestEvent(ctx, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, "C", latest.EventType)
	assert.Equal(t, int64(4), latest.SequenceNumber)

	count, err := store.GetEventCount(ctx, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	// t0+1s .. t0+4s para booking-1; el rango [2s, 3s] devuelve las secuencias 2 y 3.
	inRange, err := store.GetEventsInTimeRange(ctx, "booking-1", t0.Add(2*time.Second), t0.Add(3*time.Second))
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, int64(2), inRange[0].SequenceNumber)

	_, err = store.GetEventsInTimeRange(ctx, "booking-1", t0.Add(time.Hour), t0)
	assert.True(t, sharedDomain.IsValidation(err))

	correlated, err := store.GetEventsByCorrelationID(ctx, "saga-1")
	require.NoError(t, err)
	require.Len(t, correlated, 5)
	for i := 1; i < len(correlated); i++ {
		assert.False(t, correlated[i].OccurredAt.Before(correlated[i-1].OccurredAt))
	}
	assert.Equal(t, "booking-2", correlated[4].AggregateID)

	_, err = store.GetLatestEvent(ctx, "missing")
	assert.ErrorIs(t, err, esDomain.ErrEventNotFound)
}

func TestAppend_OccurredAtNeverGoesBackwards(t *testing.T) {
	repo := mocks.NewInMemoryEventRepo()
	times := []time.Time{t0.Add(10 * time.Second), t0} // el reloj retrocede
	i := 0
	store := NewEventStore(repo, zap.NewNop(), WithClock(func() time.Time {
		now := times[i]
		i++
		return now
	}))
	ctx := context.Background()

	first, err := store.Append(ctx, appendCmd("booking-1", "A"))
	require.NoError(t, err)
	second, err := store.Append(ctx, appendCmd("booking-1", "B"))
	require.NoError(t, err)

	assert.True(t, second.OccurredAt.Equal(first.OccurredAt))
}
