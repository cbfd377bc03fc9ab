package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
)

// --- MockProductionTracker ---

type MockProductionTracker struct {
	mock.Mock
}

func (m *MockProductionTracker) ListPending(ctx context.Context, limit int) ([]trackingDomain.ProductionRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]trackingDomain.ProductionRecord), args.Error(1)
}

func (m *MockProductionTracker) MarkPublishing(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

func (m *MockProductionTracker) MarkPublished(ctx context.Context, eventID string, dest sharedBus.Coordinates) (*trackingDomain.ProductionRecord, error) {
	args := m.Called(ctx, eventID, dest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trackingDomain.ProductionRecord), args.Error(1)
}

func (m *MockProductionTracker) MarkPublishFailed(ctx context.Context, eventID string, cause error) (*trackingDomain.ProductionRecord, error) {
	args := m.Called(ctx, eventID, cause)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*trackingDomain.ProductionRecord), args.Error(1)
}

// --- MockPublisher ---

type MockPublisher struct {
	mock.Mock
}

var _ sharedBus.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, msg sharedBus.Message) (sharedBus.Coordinates, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(sharedBus.Coordinates), args.Error(1)
}
