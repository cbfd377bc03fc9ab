package relayer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	"github.com/davicafu/sagalab/pkg/metrics"
	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
)

// ProductionTracker es lo que el worker necesita del tracker de producción.
type ProductionTracker interface {
	ListPending(ctx context.Context, limit int) ([]trackingDomain.ProductionRecord, error)
	MarkPublishing(ctx context.Context, eventID string) error
	MarkPublished(ctx context.Context, eventID string, dest sharedBus.Coordinates) (*trackingDomain.ProductionRecord, error)
	MarkPublishFailed(ctx context.Context, eventID string, cause error) (*trackingDomain.ProductionRecord, error)
}

// Worker publica en el bus los registros PENDING del tracker de producción.
type Worker struct {
	tracker   ProductionTracker
	publisher sharedBus.EventPublisher
	interval  time.Duration
	batchSize int
	log       *zap.Logger
}

func NewOutboxWorker(
	tracker ProductionTracker,
	publisher sharedBus.EventPublisher,
	interval time.Duration,
	batchSize int,
	log *zap.Logger,
) *Worker {
	return &Worker{
		tracker:   tracker,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

// Start inicia el bucle de polling del worker.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("🚀 Outbox worker iniciado", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch publica un lote y devuelve cuántos eventos llegaron al bus.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	records, err := w.tracker.ListPending(ctx, w.batchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener eventos pendientes", zap.Error(err))
		return 0
	}
	if len(records) > 0 {
		w.log.Debug("📬 eventos pendientes", zap.Int("count", len(records)))
	}

	published := 0
	for _, rec := range records {
		if w.publishAndMark(ctx, rec) {
			published++
		}
	}
	return published
}

func (w *Worker) publishAndMark(ctx context.Context, rec trackingDomain.ProductionRecord) bool {
	// 1. Reclamar el registro: si otra instancia lo cogió antes, no se publica dos veces
	if err := w.tracker.MarkPublishing(ctx, rec.EventID); err != nil {
		if !errors.Is(err, trackingDomain.ErrInvalidTransition) {
			w.log.Warn("⚠️ No se pudo reclamar el evento", zap.String("event_id", rec.EventID), zap.Error(err))
		}
		return false
	}

	// 2. Publicar el sobre tal cual se registró
	dest, err := w.publisher.Publish(ctx, rec.Message())
	if err != nil {
		metrics.RelayerPublishErrors.Inc()
		w.log.Warn("⚠️ No se pudo publicar evento",
			zap.String("event_id", rec.EventID),
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		if _, markErr := w.tracker.MarkPublishFailed(ctx, rec.EventID, err); markErr != nil {
			w.log.Error("No se pudo anotar el fallo de publicación", zap.String("event_id", rec.EventID), zap.Error(markErr))
		}
		return false
	}

	// 3. Anotar dónde quedó el mensaje
	metrics.RelayerPublished.Inc()
	if _, err := w.tracker.MarkPublished(ctx, rec.EventID, dest); err != nil {
		// Queda en PUBLISHING; el sweeper lo devolverá a PENDING y se publicará otra vez (al menos una vez).
		w.log.Warn("⚠️ No se pudo marcar evento como publicado",
			zap.String("event_id", rec.EventID),
			zap.Error(err),
		)
		return true
	}
	w.log.Info("✅ Evento publicado y marcado",
		zap.String("event_id", rec.EventID),
		zap.String("destination", dest.String()))
	return true
}
