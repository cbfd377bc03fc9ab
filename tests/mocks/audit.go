package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	auditDomain "github.com/davicafu/sagalab/internal/audit/domain"
)

type MockAuditRepository struct {
	mock.Mock
}

var _ auditDomain.AuditRepository = (*MockAuditRepository)(nil)

func (m *MockAuditRepository) LogBatch(ctx context.Context, entries []auditDomain.AuditEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockAuditRepository) GetDailyTrend(ctx context.Context, start, end time.Time) ([]auditDomain.DailyBookingTrend, error) {
	args := m.Called(ctx, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]auditDomain.DailyBookingTrend), args.Error(1)
}
