package events

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	"github.com/davicafu/sagalab/pkg/metrics"
	sharedEvents "github.com/davicafu/sagalab/shared/events"
	sharedBus "github.com/davicafu/sagalab/shared/platform/bus"
)

// EventHandler es la lógica de negocio que se ejecuta una vez por evento.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt sharedEvents.IntegrationEvent) error
}

type EventHandlerFunc func(ctx context.Context, evt sharedEvents.IntegrationEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, evt sharedEvents.IntegrationEvent) error {
	return f(ctx, evt)
}

// ConsumptionTracker es lo que el consumidor necesita del tracker de consumo.
type ConsumptionTracker interface {
	LogEventConsumption(ctx context.Context, source sharedBus.Coordinates, group string, evt sharedEvents.IntegrationEvent) (*trackingDomain.ConsumptionRecord, bool, error)
	MarkProcessing(ctx context.Context, eventID string) error
	MarkProcessed(ctx context.Context, eventID string, elapsed time.Duration) (*trackingDomain.ConsumptionRecord, error)
	MarkConsumptionFailed(ctx context.Context, eventID string, cause error, stack []byte) (*trackingDomain.ConsumptionRecord, error)
	AbandonConsumption(ctx context.Context, eventID string, cause error) (*trackingDomain.ConsumptionRecord, error)
}

// TrackedConsumer envuelve un EventHandler con el contrato de consumo idempotente:
// registrar, descartar duplicados, reclamar, procesar y anotar el resultado.
type TrackedConsumer struct {
	tracker ConsumptionTracker
	group   string
	handler EventHandler
	log     *zap.Logger
}

var (
	_ sharedBus.MessageHandler   = (*TrackedConsumer)(nil)
	_ sharedBus.ExhaustedHandler = (*TrackedConsumer)(nil)
)

func NewTrackedConsumer(tracker ConsumptionTracker, group string, handler EventHandler, log *zap.Logger) *TrackedConsumer {
	return &TrackedConsumer{tracker: tracker, group: group, handler: handler, log: log}
}

// HandleMessage devuelve error solo cuando el bus debe volver a entregar el mensaje.
func (c *TrackedConsumer) HandleMessage(ctx context.Context, d sharedBus.Delivery) error {
	evt, err := sharedEvents.DecodeIntegrationEvent(d.Message.Value)
	if err != nil {
		// Sin event_id no hay nada que registrar: reintentarlo no lo arregla.
		c.log.Warn("Failed to decode integration event", zap.String("source", d.Source.String()), zap.Error(err))
		return nil
	}

	rec, alreadyProcessed, err := c.tracker.LogEventConsumption(ctx, d.Source, c.group, evt)
	if err != nil {
		return fmt.Errorf("log consumption of %s: %w", evt.ID, err)
	}
	if alreadyProcessed || rec.Terminal() {
		return nil
	}

	if err := c.tracker.MarkProcessing(ctx, evt.ID); err != nil {
		if errors.Is(err, trackingDomain.ErrInvalidTransition) {
			metrics.DuplicateDeliveries.Inc()
			c.log.Debug("event handled elsewhere", zap.String("event_id", evt.ID))
			return nil
		}
		return err
	}

	start := time.Now()
	stack, handleErr := c.safeHandle(ctx, evt)
	if handleErr == nil {
		_, err := c.tracker.MarkProcessed(ctx, evt.ID, time.Since(start))
		return err
	}

	failed, err := c.tracker.MarkConsumptionFailed(ctx, evt.ID, handleErr, stack)
	if err != nil {
		return err
	}
	if failed.Status == trackingDomain.ConsumptionFailed {
		return nil
	}
	c.log.Warn("⚠️ event handler failed, will retry",
		zap.String("event_id", evt.ID),
		zap.Int("retry_count", failed.RetryCount),
		zap.Error(handleErr))
	return handleErr
}

// HandleExhausted cierra el registro cuando el bus confirma el mensaje sin haberlo procesado.
func (c *TrackedConsumer) HandleExhausted(ctx context.Context, d sharedBus.Delivery, cause error) {
	evt, err := sharedEvents.DecodeIntegrationEvent(d.Message.Value)
	if err != nil {
		return
	}
	if _, err := c.tracker.AbandonConsumption(ctx, evt.ID, cause); err != nil {
		c.log.Warn("⚠️ could not abandon consumption record",
			zap.String("event_id", evt.ID),
			zap.String("source", d.Source.String()),
			zap.Error(err))
	}
}

func (c *TrackedConsumer) safeHandle(ctx context.Context, evt sharedEvents.IntegrationEvent) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			stack = debug.Stack()
		}
	}()

	if err = c.handler.HandleEvent(ctx, evt); err != nil {
		stack = debug.Stack()
	}
	return stack, err
}
