package domain

import (
	"context"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

// SagaRepository persiste las instancias. Update es un compare-and-swap sobre Version:
// si otro proceso la modificó antes devuelve ErrSagaVersionConflict.
type SagaRepository interface {
	Create(ctx context.Context, s *SagaInstance) error
	Update(ctx context.Context, s *SagaInstance) error
	GetByID(ctx context.Context, id string) (*SagaInstance, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*SagaInstance, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*SagaInstance, error)
	// ListInFlight devuelve sagas no terminales sin actividad desde updatedBefore, las más antiguas primero.
	ListInFlight(ctx context.Context, updatedBefore time.Time, limit int) ([]SagaInstance, error)
	List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]SagaInstance, error)
}

// Campos filtrables y ordenables.
const (
	FieldStatus             = "status"
	FieldSagaType           = "saga_type"
	FieldBookingID          = "booking_id"
	FieldManualIntervention = "manual_intervention"
	FieldCreatedAt          = "created_at"
	FieldUpdatedAt          = "updated_at"
	FieldID                 = "id"
)

var (
	DefaultSort    = sharedQuery.Sort{Field: FieldCreatedAt, Desc: true}
	SortableFields = []string{FieldCreatedAt, FieldUpdatedAt, FieldID}
)

// ---------- Helpers de caché ----------

func SagaCacheKeyByID(id string) string {
	return fmt.Sprintf("saga:id:%s", id)
}

func SagaCacheKeyByCorrelationID(correlationID string) string {
	return fmt.Sprintf("saga:correlation:%s", correlationID)
}
