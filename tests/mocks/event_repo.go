package mocks

import (
	"context"
	"sort"
	"sync"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
)

// InMemoryEventRepo simula EventRepository con las mismas restricciones de unicidad
// que las tablas reales: (aggregate_id, sequence_number) y event_id.
type InMemoryEventRepo struct {
	Events []esDomain.Event
	// InjectConflicts hace que los próximos N Append fallen con conflicto de concurrencia.
	InjectConflicts int
	mu              sync.Mutex
}

var _ esDomain.EventRepository = (*InMemoryEventRepo)(nil)

func NewInMemoryEventRepo() *InMemoryEventRepo {
	return &InMemoryEventRepo{}
}

func (r *InMemoryEventRepo) Append(ctx context.Context, evt esDomain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.InjectConflicts > 0 {
		r.InjectConflicts--
		return esDomain.ErrConcurrencyConflict
	}
	for _, e := range r.Events {
		if e.EventID == evt.EventID {
			return esDomain.ErrDuplicateEventID
		}
		if e.AggregateID == evt.AggregateID && e.SequenceNumber == evt.SequenceNumber {
			return esDomain.ErrConcurrencyConflict
		}
	}
	r.Events = append(r.Events, evt)
	return nil
}

func (r *InMemoryEventRepo) FindByID(ctx context.Context, eventID string) (*esDomain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Events {
		if e.EventID == eventID {
			found := e
			return &found, nil
		}
	}
	return nil, esDomain.ErrEventNotFound
}

func (r *InMemoryEventRepo) Find(ctx context.Context, f esDomain.EventFilter) ([]esDomain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []esDomain.Event
	for _, e := range r.Events {
		if f.AggregateID != "" && e.AggregateID != f.AggregateID {
			continue
		}
		if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.From != nil && e.OccurredAt.Before(*f.From) {
			continue
		}
		if f.Until != nil && e.OccurredAt.After(*f.Until) {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if f.CorrelationID != "" && !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		if a.AggregateID != b.AggregateID {
			return a.AggregateID < b.AggregateID
		}
		return a.SequenceNumber < b.SequenceNumber
	})
	if f.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *InMemoryEventRepo) Count(ctx context.Context, aggregateID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.Events {
		if e.AggregateID == aggregateID {
			n++
		}
	}
	return n, nil
}
