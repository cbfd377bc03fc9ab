package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	esApp "github.com/davicafu/sagalab/internal/eventstore/application"
	replayDomain "github.com/davicafu/sagalab/internal/replay/domain"
	sharedEvents "github.com/davicafu/sagalab/shared/events"
	"github.com/davicafu/sagalab/tests/mocks"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// seed escribe un booking completo, un evento por segundo a partir de t0.
func seed(t *testing.T) (*ReplayService, *esApp.EventStore) {
	t.Helper()

	tick := 0
	clock := func() time.Time {
		now := t0.Add(time.Duration(tick) * time.Second)
		tick++
		return now
	}
	store := esApp.NewEventStore(mocks.NewInMemoryEventRepo(), zap.NewNop(), esApp.WithClock(clock))

	ctx := context.Background()
	appendEvt := func(eventType string, payload interface{}) {
		_, err := store.Append(ctx, esApp.AppendCommand{
			AggregateID:   "booking-1",
			AggregateType: sharedEvents.BookingAggregateType,
			EventType:     eventType,
			Payload:       payload,
			CorrelationID: "saga-1",
		})
		require.NoError(t, err)
	}
	appendEvt(sharedEvents.BookingRequested, sharedEvents.BookingRequestedPayload{SagaID: "saga-1", UserID: 7, TrainID: 42, Fare: 9900, Currency: "EUR"})
	appendEvt(sharedEvents.SeatReserved, sharedEvents.SeatReservedPayload{HoldID: "hold-1", SeatNumber: "3C", TrainID: 42})
	appendEvt(sharedEvents.BookingCreated, sharedEvents.BookingCreatedPayload{BookingRef: "REF-9"})
	appendEvt(sharedEvents.PaymentCharged, sharedEvents.PaymentChargedPayload{PaymentID: "pay-9", Amount: 9900, Currency: "EUR"})
	appendEvt(sharedEvents.BookingConfirmed, sharedEvents.BookingConfirmedPayload{SagaID: "saga-1"})

	return NewReplayService(store, zap.NewNop()), store
}

func TestReplayEvents_Deterministic(t *testing.T) {
	svc, _ := seed(t)
	ctx := context.Background()

	first, err := svc.ReplayEvents(ctx, "booking-1")
	require.NoError(t, err)
	second, err := svc.ReplayEvents(ctx, "booking-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, replayDomain.StatusConfirmed, first.Status)
	assert.Equal(t, int64(5), first.Version)
}

func TestReplayEvents_NotFound(t *testing.T) {
	svc, _ := seed(t)

	_, err := svc.ReplayEvents(context.Background(), "missing")
	assert.ErrorIs(t, err, replayDomain.ErrAggregateNotFound)

	_, err = svc.GetEventTimeline(context.Background(), "missing")
	assert.ErrorIs(t, err, replayDomain.ErrAggregateNotFound)
}

func TestReplayEventsUpTo(t *testing.T) {
	svc, _ := seed(t)
	ctx := context.Background()

	full, err := svc.ReplayEvents(ctx, "booking-1")
	require.NoError(t, err)

	t.Run("Corte posterior al último evento equivale al replay completo", func(t *testing.T) {
		s, err := svc.ReplayEventsUpTo(ctx, "booking-1", t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, full, s)
	})

	t.Run("Corte exacto incluye el evento", func(t *testing.T) {
		s, err := svc.ReplayEventsUpTo(ctx, "booking-1", t0.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(3), s.Version)
		assert.Equal(t, replayDomain.StatusBooked, s.Status)
		assert.Equal(t, int64(0), s.ChargedAmount)
	})

	t.Run("Corte anterior al primer evento", func(t *testing.T) {
		_, err := svc.ReplayEventsUpTo(ctx, "booking-1", t0.Add(-time.Second))
		assert.ErrorIs(t, err, replayDomain.ErrAggregateNotFound)
	})
}

func TestGetEventTimeline(t *testing.T) {
	svc, _ := seed(t)

	timeline, err := svc.GetEventTimeline(context.Background(), "booking-1")
	require.NoError(t, err)
	require.Len(t, timeline, 5)
	assert.Equal(t, int64(1), timeline[0].Sequence)
	assert.Equal(t, sharedEvents.PaymentCharged, timeline[3].EventType)
	assert.Equal(t, "payment pay-9 charged 9900 EUR", timeline[3].Summary)
	assert.Equal(t, t0.Add(4*time.Second), timeline[4].OccurredAt)
}

func TestVerifyReadModel(t *testing.T) {
	svc, _ := seed(t)
	ctx := context.Background()

	replayed, err := svc.ReplayEvents(ctx, "booking-1")
	require.NoError(t, err)

	readModel := replayed
	readModel.CreatedAt = readModel.CreatedAt.In(time.FixedZone("CEST", 2*3600))
	_, err = svc.VerifyReadModel(ctx, "booking-1", readModel)
	assert.NoError(t, err, "el mismo instante en otra zona no es drift")

	readModel.Status = replayDomain.StatusPaid
	got, err := svc.VerifyReadModel(ctx, "booking-1", readModel)
	assert.ErrorIs(t, err, replayDomain.ErrReadModelDrift)
	assert.Equal(t, replayed, got)
}
