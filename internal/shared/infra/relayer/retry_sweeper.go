package relayer

import (
	"context"
	"time"

	"go.uber.org/zap"

	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
)

type ProductionSweepTarget interface {
	ResetStalePublishing(ctx context.Context, olderThan time.Duration) (int64, error)
	ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ProductionRecord, error)
	Requeue(ctx context.Context, eventID string) error
}

type ConsumptionSweepTarget interface {
	ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ConsumptionRecord, error)
	Requeue(ctx context.Context, eventID string) error
}

// Sweeper recupera registros atascados (proceso caído a mitad de una entrega) y vuelve
// a encolar los FAILED que aún tienen intentos (p. ej. tras GrantRetries).
type Sweeper struct {
	production  ProductionSweepTarget
	consumption ConsumptionSweepTarget
	staleAfter  time.Duration
	batchSize   int
	interval    time.Duration
	log         *zap.Logger
}

func NewSweeper(production ProductionSweepTarget, consumption ConsumptionSweepTarget, staleAfter time.Duration, batchSize int, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		production:  production,
		consumption: consumption,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
		interval:    interval,
		log:         log,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("🧹 Retry sweeper iniciado", zap.Duration("interval", s.interval), zap.Duration("stale_after", s.staleAfter))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("🛑 Retry sweeper detenido.")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce devuelve cuántos registros volvieron a estar disponibles.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0

	if s.production != nil {
		if n, err := s.production.ResetStalePublishing(ctx, s.staleAfter); err != nil {
			s.log.Warn("⚠️ reset de publicaciones atascadas fallido", zap.Error(err))
		} else {
			total += int(n)
		}

		failed, err := s.production.ListFailedRetryable(ctx, s.batchSize)
		if err != nil {
			s.log.Warn("⚠️ no se pudieron listar publicaciones fallidas", zap.Error(err))
		}
		for _, rec := range failed {
			if err := s.production.Requeue(ctx, rec.EventID); err != nil {
				s.log.Debug("requeue skipped", zap.String("event_id", rec.EventID), zap.Error(err))
				continue
			}
			total++
		}
	}

	if s.consumption != nil {
		if n, err := s.consumption.ResetStaleProcessing(ctx, s.staleAfter); err != nil {
			s.log.Warn("⚠️ reset de consumos atascados fallido", zap.Error(err))
		} else {
			total += int(n)
		}

		failed, err := s.consumption.ListFailedRetryable(ctx, s.batchSize)
		if err != nil {
			s.log.Warn("⚠️ no se pudieron listar consumos fallidos", zap.Error(err))
		}
		for _, rec := range failed {
			if err := s.consumption.Requeue(ctx, rec.EventID); err != nil {
				s.log.Debug("requeue skipped", zap.String("event_id", rec.EventID), zap.Error(err))
				continue
			}
			total++
		}
	}

	if total > 0 {
		s.log.Info("🔄 registros recuperados", zap.Int("count", total))
	}
	return total
}
