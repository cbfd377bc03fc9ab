package domain

import (
	"encoding/json"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedEvents "github.com/davicafu/sagalab/shared/events"
)

// Event es un hecho inmutable de un agregado. El orden total dentro del agregado
// lo da SequenceNumber (empieza en 1, sin huecos); OccurredAt es solo informativo.
type Event struct {
	EventID        string          `json:"eventId"`
	AggregateID    string          `json:"aggregateId"`
	AggregateType  string          `json:"aggregateType"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	SequenceNumber int64           `json:"sequenceNumber"`
	CorrelationID  string          `json:"correlationId"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// Precision con la que se guardan los instantes. PostgreSQL no pasa de microsegundos,
// así que todos los backends usan la misma para que los eventos se lean tal cual se escribieron.
const TimePrecision = time.Microsecond

// NormalizeTime lleva un instante a UTC y a la precisión común.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimePrecision)
}

var (
	ErrEventNotFound       = fmt.Errorf("%w: event", sharedDomain.ErrNotFound)
	ErrConcurrencyConflict = fmt.Errorf("%w: concurrent append on aggregate", sharedDomain.ErrConflict)
	ErrDuplicateEventID    = fmt.Errorf("%w: event id already stored", sharedDomain.ErrConflict)
	ErrEventIDReused       = fmt.Errorf("%w: event id already used by a different event", sharedDomain.ErrValidation)
	ErrInvalidEvent        = fmt.Errorf("%w: invalid event", sharedDomain.ErrValidation)
)

// Validate comprueba los campos obligatorios antes de persistir.
func (e Event) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	case e.AggregateID == "":
		return fmt.Errorf("%w: aggregate id is required", ErrInvalidEvent)
	case e.AggregateType == "":
		return fmt.Errorf("%w: aggregate type is required", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	case e.SequenceNumber < 1:
		return fmt.Errorf("%w: sequence number must start at 1", ErrInvalidEvent)
	}
	return nil
}

// SameAs indica si otro evento con el mismo ID describe el mismo hecho
// (para reintentos idempotentes de append).
func (e Event) SameAs(o Event) bool {
	return e.EventID == o.EventID &&
		e.AggregateID == o.AggregateID &&
		e.EventType == o.EventType &&
		e.CorrelationID == o.CorrelationID
}

// ToIntegrationEvent construye el sobre que viaja por el bus.
func (e Event) ToIntegrationEvent() sharedEvents.IntegrationEvent {
	return sharedEvents.IntegrationEvent{
		ID:            e.EventID,
		Type:          e.EventType,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		CorrelationID: e.CorrelationID,
		Sequence:      e.SequenceNumber,
		Timestamp:     e.OccurredAt,
		Data:          e.Payload,
	}
}
