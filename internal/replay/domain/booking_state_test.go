package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sharedEvents "github.com/davicafu/sagalab/shared/events"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func stream(types ...string) []esDomain.Event {
	payloads := map[string]string{
		sharedEvents.BookingRequested: `{"sagaId":"saga-1","userId":7,"trainId":42,"fare":12000,"currency":"EUR"}`,
		sharedEvents.SeatReserved:     `{"holdId":"hold-1","seatNumber":"12A","trainId":42}`,
		sharedEvents.BookingCreated:   `{"bookingRef":"REF-1"}`,
		sharedEvents.PaymentCharged:   `{"paymentId":"pay-1","amount":12000,"currency":"EUR"}`,
		sharedEvents.SagaStepFailed:   `{"step":"CHARGE_PAYMENT","outcome":"FAILED","attempts":3,"reason":"gateway down"}`,
		sharedEvents.PaymentRefunded:  `{"paymentId":"pay-1","refundId":"ref-1","amount":12000}`,
		sharedEvents.SeatReleased:     `{"holdId":"hold-1","seatNumber":"12A"}`,
		sharedEvents.BookingCancelled: `{"sagaId":"saga-1","reason":"payment failed","manualIntervention":false}`,
	}

	events := make([]esDomain.Event, 0, len(types))
	for i, typ := range types {
		payload, ok := payloads[typ]
		if !ok {
			payload = `{}`
		}
		events = append(events, esDomain.Event{
			EventID:        typ,
			AggregateID:    "booking-1",
			AggregateType:  sharedEvents.BookingAggregateType,
			EventType:      typ,
			Payload:        []byte(payload),
			SequenceNumber: int64(i + 1),
			CorrelationID:  "saga-1",
			OccurredAt:     t0.Add(time.Duration(i) * time.Second),
		})
	}
	return events
}

func TestFold_HappyPath(t *testing.T) {
	s, err := Fold(stream(
		sharedEvents.BookingRequested,
		sharedEvents.SeatReserved,
		sharedEvents.BookingCreated,
		sharedEvents.PaymentCharged,
		sharedEvents.BookingConfirmed,
	))
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, s.Status)
	assert.Equal(t, "booking-1", s.BookingID)
	assert.Equal(t, "saga-1", s.SagaID)
	assert.Equal(t, int64(42), s.TrainID)
	assert.Equal(t, "12A", s.SeatNumber)
	assert.Equal(t, "REF-1", s.BookingRef)
	assert.Equal(t, int64(12000), s.ChargedAmount)
	assert.Equal(t, int64(5), s.Version)
	assert.Equal(t, 5, s.EventCount)
	assert.Equal(t, t0, s.CreatedAt)
	assert.Equal(t, t0.Add(4*time.Second), s.UpdatedAt)
}

func TestFold_CompensatedBooking(t *testing.T) {
	s, err := Fold(stream(
		sharedEvents.BookingRequested,
		sharedEvents.SeatReserved,
		sharedEvents.SagaStepFailed,
		sharedEvents.SeatReleased,
		sharedEvents.BookingCancelled,
	))
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, s.Status)
	assert.True(t, s.SeatReleased)
	assert.False(t, s.ManualIntervention)
	assert.Contains(t, s.FailureReason, "CHARGE_PAYMENT")
}

func TestApply_UnknownTypeIsSkippedButVersionAdvances(t *testing.T) {
	events := stream(sharedEvents.BookingRequested, "LOYALTY_POINTS_GRANTED", sharedEvents.SeatReserved)

	s, err := Fold(events)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Version)
	assert.Equal(t, 3, s.EventCount)
	assert.Equal(t, StatusSeatHeld, s.Status)
}

func TestApply_IsPureAndDeterministic(t *testing.T) {
	events := stream(sharedEvents.BookingRequested, sharedEvents.SeatReserved, sharedEvents.BookingCreated)

	before := BookingState{}
	after, err := Apply(before, events[0])
	require.NoError(t, err)
	assert.Equal(t, BookingState{}, before, "Apply no debe modificar el estado de entrada")

	a, err := Fold(events)
	require.NoError(t, err)
	b, err := Fold(events)
	require.NoError(t, err)
	assert.True(t, a == b)
	assert.NotEqual(t, before, after)
}

func TestApply_Errors(t *testing.T) {
	t.Run("Hueco en la secuencia", func(t *testing.T) {
		events := stream(sharedEvents.BookingRequested, sharedEvents.SeatReserved)
		_, err := Apply(BookingState{}, events[1])
		assert.ErrorIs(t, err, ErrSequenceGap)
	})

	t.Run("Payload corrupto de un tipo conocido", func(t *testing.T) {
		evt := stream(sharedEvents.BookingRequested)[0]
		evt.Payload = []byte(`{"userId":"not-a-number"}`)
		s, err := Apply(BookingState{}, evt)
		assert.ErrorIs(t, err, ErrCorruptEvent)
		assert.Equal(t, BookingState{}, s)
	})
}

func TestSummarize(t *testing.T) {
	events := stream(sharedEvents.SeatReserved, "SOMETHING_NEW")
	assert.Equal(t, "seat 12A held (hold hold-1)", Summarize(events[0]))
	assert.Equal(t, "SOMETHING_NEW", Summarize(events[1]))

	broken := events[0]
	broken.Payload = []byte(`not json`)
	assert.Equal(t, sharedEvents.SeatReserved, Summarize(broken))
}
