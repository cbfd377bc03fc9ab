package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	auditDomain "github.com/davicafu/sagalab/internal/audit/domain"
	"github.com/davicafu/sagalab/pkg/metrics"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/events"
)

const defaultWriteTimeout = 2 * time.Second

// AuditService registra cada evento de reserva consumido y sirve la tendencia diaria.
type AuditService struct {
	repo         auditDomain.AuditRepository
	writeTimeout time.Duration
	now          func() time.Time
	log          *zap.Logger
}

func NewAuditService(repo auditDomain.AuditRepository, log *zap.Logger) *AuditService {
	return &AuditService{
		repo:         repo,
		writeTimeout: defaultWriteTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// HandleEvent es el handler de negocio detrás del consumidor con tracking.
func (s *AuditService) HandleEvent(ctx context.Context, evt events.IntegrationEvent) error {
	entry, err := auditDomain.NewAuditEntry(evt, s.now())
	if err != nil {
		return err
	}
	return s.Record(ctx, entry)
}

// Record escribe un lote de entradas con timeout propio.
func (s *AuditService) Record(ctx context.Context, entries ...auditDomain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctxWrite, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := s.repo.LogBatch(ctxWrite, entries); err != nil {
		s.log.Warn("⚠️ audit write failed", zap.Int("entries", len(entries)), zap.Error(err))
		if errors.Is(err, sharedDomain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: %v", auditDomain.ErrAuditUnavailable, err)
	}

	metrics.AuditEntriesLogged.Add(float64(len(entries)))
	for _, e := range entries {
		s.log.Debug("📝 audit entry logged", zap.String("event_id", e.EventID), zap.String("event_type", e.EventType))
	}
	return nil
}

func (s *AuditService) GetDailyTrend(ctx context.Context, start, end time.Time) ([]auditDomain.DailyBookingTrend, error) {
	if err := auditDomain.ValidateRange(start, end); err != nil {
		return nil, err
	}
	trend, err := s.repo.GetDailyTrend(ctx, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auditDomain.ErrAuditUnavailable, err)
	}
	if trend == nil {
		trend = []auditDomain.DailyBookingTrend{}
	}
	return trend, nil
}
