package domain

import (
	"context"
	"time"
)

// EventFilter describe una lectura del log. Sin CorrelationID se lee un único agregado
// ordenado por secuencia; con CorrelationID se cruzan agregados ordenando por OccurredAt.
type EventFilter struct {
	AggregateID   string
	CorrelationID string
	EventType     string
	From          *time.Time // inclusivo
	Until         *time.Time // inclusivo
	Descending    bool
	Limit         int
}

// EventRepository es el puerto de persistencia del log. No existe operación de borrado.
type EventRepository interface {
	// Append inserta un evento ya numerado. Debe devolver ErrConcurrencyConflict si la
	// secuencia ya está ocupada y ErrDuplicateEventID si el EventID ya existe.
	Append(ctx context.Context, evt Event) error
	FindByID(ctx context.Context, eventID string) (*Event, error)
	Find(ctx context.Context, filter EventFilter) ([]Event, error)
	Count(ctx context.Context, aggregateID string) (int64, error)
}
