package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	replayDomain "github.com/davicafu/sagalab/internal/replay/domain"
)

// ReplayService reconstruye el estado de un booking a partir de su stream de eventos.
type ReplayService struct {
	source replayDomain.EventSource
	log    *zap.Logger
}

func NewReplayService(source replayDomain.EventSource, log *zap.Logger) *ReplayService {
	return &ReplayService{source: source, log: log}
}

func (s *ReplayService) ReplayEvents(ctx context.Context, aggregateID string) (replayDomain.BookingState, error) {
	events, err := s.source.GetEventStream(ctx, aggregateID)
	if err != nil {
		return replayDomain.BookingState{}, err
	}
	return s.fold(aggregateID, events)
}

// ReplayEventsUpTo pliega solo los eventos con OccurredAt <= cutoff.
// OccurredAt no decrece dentro del agregado, así que el resultado es un prefijo del stream.
func (s *ReplayService) ReplayEventsUpTo(ctx context.Context, aggregateID string, cutoff time.Time) (replayDomain.BookingState, error) {
	events, err := s.source.GetEventStream(ctx, aggregateID)
	if err != nil {
		return replayDomain.BookingState{}, err
	}

	n := 0
	for n < len(events) && !events[n].OccurredAt.After(cutoff) {
		n++
	}
	return s.fold(aggregateID, events[:n])
}

// GetEventTimeline lista el historial sin plegarlo.
func (s *ReplayService) GetEventTimeline(ctx context.Context, aggregateID string) ([]replayDomain.TimelineEntry, error) {
	events, err := s.source.GetEventStream(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", replayDomain.ErrAggregateNotFound, aggregateID)
	}

	timeline := make([]replayDomain.TimelineEntry, 0, len(events))
	for _, evt := range events {
		timeline = append(timeline, replayDomain.NewTimelineEntry(evt))
	}
	return timeline, nil
}

// VerifyReadModel compara un read model mantenido aparte con el estado reconstruido.
// Siempre devuelve el estado reconstruido; ErrReadModelDrift si no coinciden.
func (s *ReplayService) VerifyReadModel(ctx context.Context, aggregateID string, readModel replayDomain.BookingState) (replayDomain.BookingState, error) {
	replayed, err := s.ReplayEvents(ctx, aggregateID)
	if err != nil {
		return replayDomain.BookingState{}, err
	}
	if !sameState(replayed, readModel) {
		s.log.Warn("⚠️ read model drift detected",
			zap.String("aggregate_id", aggregateID),
			zap.Int64("replayed_version", replayed.Version),
			zap.Int64("read_model_version", readModel.Version),
			zap.String("replayed_status", string(replayed.Status)),
			zap.String("read_model_status", string(readModel.Status)))
		return replayed, fmt.Errorf("%w: %s", replayDomain.ErrReadModelDrift, aggregateID)
	}
	return replayed, nil
}

func (s *ReplayService) fold(aggregateID string, events []esDomain.Event) (replayDomain.BookingState, error) {
	if len(events) == 0 {
		return replayDomain.BookingState{}, fmt.Errorf("%w: %s", replayDomain.ErrAggregateNotFound, aggregateID)
	}
	state, err := replayDomain.Fold(events)
	if err != nil {
		s.log.Error("❌ replay failed",
			zap.String("aggregate_id", aggregateID),
			zap.Error(err))
		return replayDomain.BookingState{}, err
	}
	return state, nil
}

// sameState compara instantes con Equal: un read model deserializado de JSON
// trae otra *time.Location aunque represente el mismo instante.
func sameState(a, b replayDomain.BookingState) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	a.CreatedAt, a.UpdatedAt = time.Time{}, time.Time{}
	b.CreatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a == b
}
