package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	"github.com/davicafu/sagalab/pkg/metrics"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/events"
	"github.com/davicafu/sagalab/shared/platform/bus"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

// ProductionTracker registra cada evento antes de entregarlo al bus y sigue su publicación.
type ProductionTracker struct {
	repo       trackingDomain.ProductionRepository
	maxRetries int
	opts       options
	log        *zap.Logger
}

func NewProductionTracker(repo trackingDomain.ProductionRepository, maxRetries int, log *zap.Logger, opts ...Option) *ProductionTracker {
	if maxRetries < 1 {
		maxRetries = trackingDomain.DefaultMaxRetries
	}
	return &ProductionTracker{repo: repo, maxRetries: maxRetries, opts: buildOptions(opts), log: log}
}

// LogEventProduction deja el registro en PENDING. Repetir el mismo event_id devuelve el registro existente.
func (t *ProductionTracker) LogEventProduction(ctx context.Context, topic, key string, evt events.IntegrationEvent) (*trackingDomain.ProductionRecord, error) {
	rec, err := trackingDomain.NewProductionRecord(topic, key, evt, t.maxRetries, t.opts.now())
	if err != nil {
		return nil, err
	}

	inserted, err := t.repo.Insert(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !inserted {
		t.log.Debug("production already logged", zap.String("event_id", evt.ID))
		return t.repo.GetByID(ctx, evt.ID)
	}

	metrics.ProductionTransitions.WithLabelValues(string(trackingDomain.ProductionPending)).Inc()
	return &rec, nil
}

// MarkPublishing reclama el registro para publicarlo. Solo desde PENDING.
func (t *ProductionTracker) MarkPublishing(ctx context.Context, eventID string) error {
	ok, err := t.repo.MarkPublishing(ctx, eventID, t.opts.now())
	if err != nil {
		return err
	}
	if !ok {
		current, err := t.repo.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s, expected %s", trackingDomain.ErrInvalidTransition, eventID, current.Status, trackingDomain.ProductionPending)
	}
	metrics.ProductionTransitions.WithLabelValues(string(trackingDomain.ProductionPublishing)).Inc()
	return nil
}

// MarkPublished es idempotente: sobre un registro ya terminal no cambia nada y devuelve su estado actual.
func (t *ProductionTracker) MarkPublished(ctx context.Context, eventID string, dest bus.Coordinates) (*trackingDomain.ProductionRecord, error) {
	ok, err := t.repo.MarkPublished(ctx, eventID, dest, t.opts.now())
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.ProductionTransitions.WithLabelValues(string(trackingDomain.ProductionPublished)).Inc()
	}
	return t.repo.GetByID(ctx, eventID)
}

// MarkPublishFailed suma un intento: FAILED al agotar max_retries, si no vuelve a PENDING.
func (t *ProductionTracker) MarkPublishFailed(ctx context.Context, eventID string, cause error) (*trackingDomain.ProductionRecord, error) {
	msg := sharedUtils.Truncate(errorText(cause), trackingDomain.MaxErrorLength)

	ok, err := t.repo.MarkFailed(ctx, eventID, msg, t.opts.now())
	if err != nil {
		return nil, err
	}
	rec, err := t.repo.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rec, nil
	}

	metrics.ProductionTransitions.WithLabelValues(string(rec.Status)).Inc()
	if rec.Status == trackingDomain.ProductionFailed {
		t.log.Error("❌ event publication exhausted its retries",
			zap.String("event_id", eventID),
			zap.String("topic", rec.Topic),
			zap.Int("retry_count", rec.RetryCount),
			zap.String("last_error", msg))
	}
	return rec, nil
}

// GrantRetries amplía max_retries de un registro FAILED para que vuelva a ser reintentable.
func (t *ProductionTracker) GrantRetries(ctx context.Context, eventID string, extra int) (*trackingDomain.ProductionRecord, error) {
	if extra < 1 {
		return nil, fmt.Errorf("%w: extra retries must be positive", sharedDomain.ErrValidation)
	}
	ok, err := t.repo.GrantRetries(ctx, eventID, extra, t.opts.now())
	if err != nil {
		return nil, err
	}
	rec, err := t.repo.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rec, fmt.Errorf("%w: %s is %s, expected %s", trackingDomain.ErrInvalidTransition, eventID, rec.Status, trackingDomain.ProductionFailed)
	}
	t.log.Info("🔁 retries granted", zap.String("event_id", eventID), zap.Int("max_retries", rec.MaxRetries))
	return rec, nil
}

// Requeue devuelve a PENDING un registro FAILED que aún tiene intentos.
func (t *ProductionTracker) Requeue(ctx context.Context, eventID string) error {
	ok, err := t.repo.Requeue(ctx, eventID, t.opts.now())
	if err != nil {
		return err
	}
	if !ok {
		current, err := t.repo.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s with %d/%d retries", trackingDomain.ErrInvalidTransition, eventID, current.Status, current.RetryCount, current.MaxRetries)
	}
	metrics.ProductionTransitions.WithLabelValues(string(trackingDomain.ProductionPending)).Inc()
	return nil
}

// ResetStalePublishing devuelve a PENDING los registros que llevan más de olderThan en PUBLISHING
// (el proceso que los reclamó murió antes de anotar el resultado).
func (t *ProductionTracker) ResetStalePublishing(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := t.opts.now()
	n, err := t.repo.ResetStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.log.Warn("⚠️ stale publishing records reset", zap.Int64("count", n))
	}
	return n, nil
}

// ------------------ Consultas ------------------

func (t *ProductionTracker) Get(ctx context.Context, eventID string) (*trackingDomain.ProductionRecord, error) {
	return t.repo.GetByID(ctx, eventID)
}

func (t *ProductionTracker) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]trackingDomain.ProductionRecord, error) {
	return t.repo.List(ctx, criteria, page, sort)
}

func (t *ProductionTracker) ListByStatus(ctx context.Context, status trackingDomain.ProductionStatus, page sharedQuery.OffsetPagination) ([]trackingDomain.ProductionRecord, error) {
	return t.repo.List(ctx, sharedDomain.Eq(trackingDomain.FieldStatus, string(status)), page, trackingDomain.DefaultProductionSort)
}

func (t *ProductionTracker) ListByTopic(ctx context.Context, topic string, page sharedQuery.OffsetPagination) ([]trackingDomain.ProductionRecord, error) {
	return t.repo.List(ctx, sharedDomain.Eq(trackingDomain.FieldTopic, topic), page, trackingDomain.DefaultProductionSort)
}

func (t *ProductionTracker) ListByCorrelationID(ctx context.Context, correlationID string, page sharedQuery.OffsetPagination) ([]trackingDomain.ProductionRecord, error) {
	return t.repo.List(ctx, sharedDomain.Eq(trackingDomain.FieldCorrelationID, correlationID), page, trackingDomain.DefaultProductionSort)
}

// ListPending devuelve los registros listos para publicar, los más antiguos primero.
func (t *ProductionTracker) ListPending(ctx context.Context, limit int) ([]trackingDomain.ProductionRecord, error) {
	return t.repo.List(ctx,
		sharedDomain.Eq(trackingDomain.FieldStatus, string(trackingDomain.ProductionPending)),
		sharedQuery.OffsetPagination{Limit: limit},
		sharedQuery.Sort{Field: trackingDomain.FieldCreatedAt})
}

func (t *ProductionTracker) CountByStatus(ctx context.Context) (map[trackingDomain.ProductionStatus]int64, error) {
	return t.repo.CountByStatus(ctx)
}

// ListFailedRetryable: FAILED con retry_count < max_retries, los más antiguos primero.
func (t *ProductionTracker) ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ProductionRecord, error) {
	return t.repo.ListFailedRetryable(ctx, limit)
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
