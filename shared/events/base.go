package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
)

// IntegrationEvent es el sobre que viaja por el bus y que registra el tracker de entregas.
// Todo evento de dominio expone explícitamente su identidad; no hay extracción por reflexión
// ni IDs aleatorios de respaldo.
type IntegrationEvent struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType"`
	CorrelationID string          `json:"correlationId"`
	Sequence      int64           `json:"sequence,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"` // contenido específico del evento
}

var (
	ErrMissingEventID   = fmt.Errorf("%w: event id is required", sharedDomain.ErrValidation)
	ErrMissingEventType = fmt.Errorf("%w: event type is required", sharedDomain.ErrValidation)
)

// Validate comprueba el contrato mínimo de identidad del evento.
func (e IntegrationEvent) Validate() error {
	var errs []error
	if e.ID == "" {
		errs = append(errs, ErrMissingEventID)
	}
	if e.Type == "" {
		errs = append(errs, ErrMissingEventType)
	}
	return errors.Join(errs...)
}

// PartitionKey mantiene juntos en la misma partición los eventos de un agregado.
func (e IntegrationEvent) PartitionKey() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// Encode serializa el sobre completo.
func (e IntegrationEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeIntegrationEvent reconstruye un sobre recibido del bus y valida su identidad.
func DecodeIntegrationEvent(raw []byte) (IntegrationEvent, error) {
	var evt IntegrationEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return IntegrationEvent{}, fmt.Errorf("%w: malformed envelope: %v", sharedDomain.ErrValidation, err)
	}
	if err := evt.Validate(); err != nil {
		return IntegrationEvent{}, err
	}
	return evt, nil
}
