package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	"github.com/davicafu/sagalab/shared/events"
	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
	"github.com/davicafu/sagalab/tests/mocks"
)

func pendingRecord(t *testing.T, id string) trackingDomain.ProductionRecord {
	t.Helper()
	rec, err := trackingDomain.NewProductionRecord(events.BookingTopic, "", events.IntegrationEvent{
		ID:            id,
		Type:          events.SeatReserved,
		AggregateID:   "booking-1",
		CorrelationID: "saga-1",
		Timestamp:     time.Now(),
		Data:          []byte(`{}`),
	}, 3, time.Now())
	require.NoError(t, err)
	return rec
}

func TestOutboxWorker_ProcessBatch_Success(t *testing.T) {
	// ARRANGE
	tracker := new(mocks.MockProductionTracker)
	publisher := new(mocks.MockPublisher)

	rec := pendingRecord(t, "evt-1")
	dest := sharedBus.Coordinates{Topic: events.BookingTopic, Partition: 1, Offset: -1}

	tracker.On("ListPending", mock.Anything, 10).Return([]trackingDomain.ProductionRecord{rec}, nil).Once()
	tracker.On("MarkPublishing", mock.Anything, "evt-1").Return(nil).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(msg sharedBus.Message) bool {
		return msg.Topic == events.BookingTopic && msg.Key == "booking-1" && msg.Headers["event_id"] == "evt-1"
	})).Return(dest, nil).Once()
	tracker.On("MarkPublished", mock.Anything, "evt-1", dest).Return(&rec, nil).Once()

	worker := NewOutboxWorker(tracker, publisher, time.Second, 10, zap.NewNop())

	// ACT
	published := worker.ProcessBatch(context.Background())

	// ASSERT
	assert.Equal(t, 1, published)
	tracker.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestOutboxWorker_ProcessBatch_PublisherFails(t *testing.T) {
	// ARRANGE
	tracker := new(mocks.MockProductionTracker)
	publisher := new(mocks.MockPublisher)

	rec := pendingRecord(t, "evt-2")
	brokerErr := errors.New("kafka is down")

	tracker.On("ListPending", mock.Anything, 10).Return([]trackingDomain.ProductionRecord{rec}, nil).Once()
	tracker.On("MarkPublishing", mock.Anything, "evt-2").Return(nil).Once()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(sharedBus.Coordinates{}, brokerErr).Once()
	tracker.On("MarkPublishFailed", mock.Anything, "evt-2", brokerErr).Return(&rec, nil).Once()

	worker := NewOutboxWorker(tracker, publisher, time.Second, 10, zap.NewNop())

	// ACT
	published := worker.ProcessBatch(context.Background())

	// ASSERT
	assert.Zero(t, published)
	tracker.AssertExpectations(t)
	tracker.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_ClaimLost(t *testing.T) {
	// ARRANGE
	tracker := new(mocks.MockProductionTracker)
	publisher := new(mocks.MockPublisher)

	rec := pendingRecord(t, "evt-3")

	tracker.On("ListPending", mock.Anything, 10).Return([]trackingDomain.ProductionRecord{rec}, nil).Once()
	tracker.On("MarkPublishing", mock.Anything, "evt-3").Return(trackingDomain.ErrInvalidTransition).Once()

	worker := NewOutboxWorker(tracker, publisher, time.Second, 10, zap.NewNop())

	// ACT
	worker.ProcessBatch(context.Background())

	// ASSERT
	tracker.AssertExpectations(t)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestOutboxWorker_ProcessBatch_ListFails(t *testing.T) {
	tracker := new(mocks.MockProductionTracker)
	publisher := new(mocks.MockPublisher)

	tracker.On("ListPending", mock.Anything, 10).Return(nil, errors.New("db locked")).Once()

	worker := NewOutboxWorker(tracker, publisher, time.Second, 10, zap.NewNop())

	assert.Zero(t, worker.ProcessBatch(context.Background()))
	tracker.AssertNotCalled(t, "MarkPublishing", mock.Anything, mock.Anything)
}

// Verificación estática de que los mocks cumplen las interfaces.
var _ ProductionTracker = (*mocks.MockProductionTracker)(nil)
