package domain

import (
	"context"
	"time"

	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/platform/bus"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

// Todas las transiciones son escrituras condicionales sobre event_id: el bool indica
// si la condición se cumplió (false = otro proceso llegó antes o el estado no lo permite).

type ProductionRepository interface {
	// Insert no hace nada si el event_id ya existe (inserted=false).
	Insert(ctx context.Context, rec ProductionRecord) (inserted bool, err error)
	GetByID(ctx context.Context, eventID string) (*ProductionRecord, error)

	MarkPublishing(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkPublished(ctx context.Context, eventID string, dest bus.Coordinates, now time.Time) (bool, error)
	// MarkFailed incrementa retry_count y decide FAILED/PENDING en la misma sentencia.
	MarkFailed(ctx context.Context, eventID, errMsg string, now time.Time) (bool, error)
	GrantRetries(ctx context.Context, eventID string, extra int, now time.Time) (bool, error)
	Requeue(ctx context.Context, eventID string, now time.Time) (bool, error)
	ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error)

	List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]ProductionRecord, error)
	CountByStatus(ctx context.Context) (map[ProductionStatus]int64, error)
	ListFailedRetryable(ctx context.Context, limit int) ([]ProductionRecord, error)
}

type ConsumptionRepository interface {
	Insert(ctx context.Context, rec ConsumptionRecord) (inserted bool, err error)
	GetByID(ctx context.Context, eventID string) (*ConsumptionRecord, error)

	MarkProcessing(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, elapsed time.Duration, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, eventID, errMsg, stack string, now time.Time) (bool, error)
	// Abandon cierra en FAILED con retry_count = max_retries un registro que el bus ya no volverá a entregar.
	Abandon(ctx context.Context, eventID, errMsg string, now time.Time) (bool, error)
	GrantRetries(ctx context.Context, eventID string, extra int, now time.Time) (bool, error)
	Requeue(ctx context.Context, eventID string, now time.Time) (bool, error)
	ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error)

	List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]ConsumptionRecord, error)
	CountByStatus(ctx context.Context) (map[ConsumptionStatus]int64, error)
	ListFailedRetryable(ctx context.Context, limit int) ([]ConsumptionRecord, error)
}
