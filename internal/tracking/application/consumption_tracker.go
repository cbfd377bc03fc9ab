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

// ConsumptionTracker garantiza que cada event_id se procesa con éxito como mucho una vez.
type ConsumptionTracker struct {
	repo       trackingDomain.ConsumptionRepository
	maxRetries int
	opts       options
	log        *zap.Logger
}

func NewConsumptionTracker(repo trackingDomain.ConsumptionRepository, maxRetries int, log *zap.Logger, opts ...Option) *ConsumptionTracker {
	if maxRetries < 1 {
		maxRetries = trackingDomain.DefaultMaxRetries
	}
	return &ConsumptionTracker{repo: repo, maxRetries: maxRetries, opts: buildOptions(opts), log: log}
}

// LogEventConsumption registra la recepción. alreadyProcessed=true indica que el evento ya
// se procesó antes y el llamante debe descartarlo.
func (t *ConsumptionTracker) LogEventConsumption(ctx context.Context, source bus.Coordinates, group string, evt events.IntegrationEvent) (*trackingDomain.ConsumptionRecord, bool, error) {
	rec, err := trackingDomain.NewConsumptionRecord(source, group, evt, t.maxRetries, t.opts.now())
	if err != nil {
		return nil, false, err
	}

	inserted, err := t.repo.Insert(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		metrics.ConsumptionTransitions.WithLabelValues(string(trackingDomain.ConsumptionReceived)).Inc()
		return &rec, false, nil
	}

	existing, err := t.repo.GetByID(ctx, evt.ID)
	if err != nil {
		return nil, false, err
	}
	if existing.Status == trackingDomain.ConsumptionProcessed {
		metrics.DuplicateDeliveries.Inc()
		t.log.Info("♻️ duplicate delivery skipped",
			zap.String("event_id", evt.ID),
			zap.String("source", source.String()))
		return existing, true, nil
	}
	return existing, false, nil
}

// MarkProcessing reclama el evento (RECEIVED -> PROCESSING). Quien pierde la carrera recibe
// ErrInvalidTransition y no debe ejecutar el handler.
func (t *ConsumptionTracker) MarkProcessing(ctx context.Context, eventID string) error {
	ok, err := t.repo.MarkProcessing(ctx, eventID, t.opts.now())
	if err != nil {
		return err
	}
	if !ok {
		current, err := t.repo.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s is %s, expected %s", trackingDomain.ErrInvalidTransition, eventID, current.Status, trackingDomain.ConsumptionReceived)
	}
	metrics.ConsumptionTransitions.WithLabelValues(string(trackingDomain.ConsumptionProcessing)).Inc()
	return nil
}

func (t *ConsumptionTracker) MarkProcessed(ctx context.Context, eventID string, elapsed time.Duration) (*trackingDomain.ConsumptionRecord, error) {
	ok, err := t.repo.MarkProcessed(ctx, eventID, elapsed, t.opts.now())
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.ConsumptionTransitions.WithLabelValues(string(trackingDomain.ConsumptionProcessed)).Inc()
	}
	return t.repo.GetByID(ctx, eventID)
}

// MarkConsumptionFailed guarda el error (1000 caracteres) y la traza (4000) y suma un intento.
func (t *ConsumptionTracker) MarkConsumptionFailed(ctx context.Context, eventID string, cause error, stack []byte) (*trackingDomain.ConsumptionRecord, error) {
	msg := sharedUtils.Truncate(errorText(cause), trackingDomain.MaxErrorLength)
	trace := sharedUtils.Truncate(string(stack), trackingDomain.MaxStackLength)

	ok, err := t.repo.MarkFailed(ctx, eventID, msg, trace, t.opts.now())
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

	metrics.ConsumptionTransitions.WithLabelValues(string(rec.Status)).Inc()
	if rec.Status == trackingDomain.ConsumptionFailed {
		t.log.Error("❌ event consumption exhausted its retries",
			zap.String("event_id", eventID),
			zap.String("consumer_group", rec.ConsumerGroup),
			zap.Int("retry_count", rec.RetryCount),
			zap.String("error", msg))
	}
	return rec, nil
}

// AbandonConsumption deja en FAILED terminal un evento que el bus dejó de reintentar
// antes de agotar MaxRetries. Sin redelivery nadie volvería a procesarlo.
func (t *ConsumptionTracker) AbandonConsumption(ctx context.Context, eventID string, cause error) (*trackingDomain.ConsumptionRecord, error) {
	msg := sharedUtils.Truncate(errorText(cause), trackingDomain.MaxErrorLength)

	ok, err := t.repo.Abandon(ctx, eventID, msg, t.opts.now())
	if err != nil {
		return nil, err
	}
	rec, err := t.repo.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ok {
		metrics.ConsumptionTransitions.WithLabelValues(string(trackingDomain.ConsumptionFailed)).Inc()
		t.log.Error("❌ event consumption abandoned by the bus",
			zap.String("event_id", eventID),
			zap.String("consumer_group", rec.ConsumerGroup),
			zap.Int("retry_count", rec.RetryCount),
			zap.String("error", msg))
	}
	return rec, nil
}

func (t *ConsumptionTracker) GrantRetries(ctx context.Context, eventID string, extra int) (*trackingDomain.ConsumptionRecord, error) {
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
		return rec, fmt.Errorf("%w: %s is %s, expected %s", trackingDomain.ErrInvalidTransition, eventID, rec.Status, trackingDomain.ConsumptionFailed)
	}
	t.log.Info("🔁 retries granted", zap.String("event_id", eventID), zap.Int("max_retries", rec.MaxRetries))
	return rec, nil
}

// Requeue devuelve a RECEIVED un registro FAILED que aún tiene intentos.
func (t *ConsumptionTracker) Requeue(ctx context.Context, eventID string) error {
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
	metrics.ConsumptionTransitions.WithLabelValues(string(trackingDomain.ConsumptionReceived)).Inc()
	return nil
}

func (t *ConsumptionTracker) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := t.opts.now()
	n, err := t.repo.ResetStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.log.Warn("⚠️ stale processing records reset", zap.Int64("count", n))
	}
	return n, nil
}

// ------------------ Consultas ------------------

func (t *ConsumptionTracker) Get(ctx context.Context, eventID string) (*trackingDomain.ConsumptionRecord, error) {
	return t.repo.GetByID(ctx, eventID)
}

func (t *ConsumptionTracker) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]trackingDomain.ConsumptionRecord, error) {
	return t.repo.List(ctx, criteria, page, sort)
}

func (t *ConsumptionTracker) ListByStatus(ctx context.Context, status trackingDomain.ConsumptionStatus, page sharedQuery.OffsetPagination) ([]trackingDomain.ConsumptionRecord, error) {
	return t.repo.List(ctx, sharedDomain.Eq(trackingDomain.FieldStatus, string(status)), page, trackingDomain.DefaultConsumptionSort)
}

func (t *ConsumptionTracker) ListByTopic(ctx context.Context, topic string, page sharedQuery.OffsetPagination) ([]trackingDomain.ConsumptionRecord, error) {
	return t.repo.List(ctx, sharedDomain.Eq(trackingDomain.FieldTopic, topic), page, trackingDomain.DefaultConsumptionSort)
}

func (t *ConsumptionTracker) ListByCorrelationID(ctx context.Context, correlationID string, page sharedQuery.OffsetPagination) ([]trackingDomain.ConsumptionRecord, error) {
	return t.repo.List(ctx, sharedDomain.Eq(trackingDomain.FieldCorrelationID, correlationID), page, trackingDomain.DefaultConsumptionSort)
}

func (t *ConsumptionTracker) CountByStatus(ctx context.Context) (map[trackingDomain.ConsumptionStatus]int64, error) {
	return t.repo.CountByStatus(ctx)
}

func (t *ConsumptionTracker) ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ConsumptionRecord, error) {
	return t.repo.ListFailedRetryable(ctx, limit)
}
