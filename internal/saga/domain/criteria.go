package domain

import (
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
)

// Filtrado por estado
type StatusCriteria struct {
	Status SagaStatus
}

func (c StatusCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: FieldStatus, Op: sharedDomain.OpEq, Value: string(c.Status)}}
}

type TypeCriteria struct {
	Type SagaType
}

func (c TypeCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: FieldSagaType, Op: sharedDomain.OpEq, Value: string(c.Type)}}
}

type BookingCriteria struct {
	BookingID string
}

func (c BookingCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: FieldBookingID, Op: sharedDomain.OpEq, Value: c.BookingID}}
}

// Sagas pendientes de revisión por un operador
type ManualInterventionCriteria struct{}

func (ManualInterventionCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: FieldManualIntervention, Op: sharedDomain.OpEq, Value: true}}
}

// Filtrado por fecha de creación [From, To)
type CreatedRangeCriteria struct {
	From *time.Time
	To   *time.Time
}

func (c CreatedRangeCriteria) ToConditions() []sharedDomain.Criterion {
	var conds []sharedDomain.Criterion
	if c.From != nil {
		conds = append(conds, sharedDomain.Criterion{Field: FieldCreatedAt, Op: sharedDomain.OpGte, Value: c.From.UTC()})
	}
	if c.To != nil {
		conds = append(conds, sharedDomain.Criterion{Field: FieldCreatedAt, Op: sharedDomain.OpLt, Value: c.To.UTC()})
	}
	return conds
}
