package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	auditDomain "github.com/davicafu/sagalab/internal/audit/domain"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/events"
	"github.com/davicafu/sagalab/tests/mocks"
)

var consumedAt = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

func newService(repo auditDomain.AuditRepository) *AuditService {
	s := NewAuditService(repo, zap.NewNop())
	s.now = func() time.Time { return consumedAt }
	return s
}

func confirmedEvent() events.IntegrationEvent {
	return events.IntegrationEvent{
		ID:            "evt-confirm-1",
		Type:          events.BookingConfirmed,
		AggregateID:   "booking-1",
		CorrelationID: "saga-1",
		Sequence:      5,
		Timestamp:     consumedAt.Add(-time.Minute),
		Data:          []byte(`{"bookingId":"bk-1"}`),
	}
}

func TestAuditService_HandleEvent_WritesEntry(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockAuditRepository)
	repo.On("LogBatch", mock.Anything, mock.MatchedBy(func(entries []auditDomain.AuditEntry) bool {
		if len(entries) != 1 {
			return false
		}
		e := entries[0]
		return e.EventID == "evt-confirm-1" &&
			e.EventType == events.BookingConfirmed &&
			e.Sequence == 5 &&
			e.Payload == `{"bookingId":"bk-1"}` &&
			e.ConsumedAt.Equal(consumedAt)
	})).Return(nil).Once()

	// ACT
	err := newService(repo).HandleEvent(context.Background(), confirmedEvent())

	// ASSERT
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestAuditService_HandleEvent_StoreFailureIsTransient(t *testing.T) {
	repo := new(mocks.MockAuditRepository)
	repo.On("LogBatch", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

	err := newService(repo).HandleEvent(context.Background(), confirmedEvent())

	assert.ErrorIs(t, err, sharedDomain.ErrTransientDependency)
	assert.ErrorIs(t, err, auditDomain.ErrAuditUnavailable)
}

func TestAuditService_HandleEvent_InvalidEnvelope(t *testing.T) {
	repo := new(mocks.MockAuditRepository)

	err := newService(repo).HandleEvent(context.Background(), events.IntegrationEvent{Type: events.BookingConfirmed})

	assert.True(t, sharedDomain.IsValidation(err))
	repo.AssertNotCalled(t, "LogBatch", mock.Anything, mock.Anything)
}

func TestAuditService_GetDailyTrend(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	repo := new(mocks.MockAuditRepository)
	repo.On("GetDailyTrend", mock.Anything, start, end).Return(nil, nil).Once()
	service := newService(repo)

	trend, err := service.GetDailyTrend(context.Background(), start, end)
	require.NoError(t, err)
	assert.NotNil(t, trend)
	assert.Empty(t, trend)

	_, err = service.GetDailyTrend(context.Background(), end, start)
	assert.ErrorIs(t, err, auditDomain.ErrInvalidRange)
	repo.AssertExpectations(t)
}
