package postgre

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

func setupPostgresTestDB(t *testing.T) *sql.DB {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL no está configurada, saltando test de integración con Postgres")
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, InitPostgresSagaSchema(db))

	_, err = db.Exec(`TRUNCATE TABLE sagas`)
	require.NoError(t, err)
	return db
}

func TestSagaRepoPostgres_Integration(t *testing.T) {
	db := setupPostgresTestDB(t)
	defer db.Close()

	repo := NewSagaRepoPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.NewString()
	req := sagaDomain.BookingRequest{UserID: 1, TrainID: 2, Fare: 990, Currency: "EUR", BookingID: "bk-" + id}
	s := sagaDomain.NewSagaInstance(id, sagaDomain.TypeBooking, "key:"+id, req, now.Add(-time.Hour))
	require.NoError(t, repo.Create(ctx, s))

	dup := sagaDomain.NewSagaInstance(uuid.NewString(), sagaDomain.TypeBooking, "key:"+id, req, now)
	assert.ErrorIs(t, repo.Create(ctx, dup), sagaDomain.ErrDuplicateSaga)

	stale := s.SnapshotCopy()
	s.Status = sagaDomain.StatusStepRunning
	s.Record(sagaDomain.StepResult{Name: sagaDomain.StepReserveSeat, Kind: sagaDomain.KindForward, Outcome: sagaDomain.OutcomeSuccess})
	require.NoError(t, repo.Update(ctx, s))
	assert.ErrorIs(t, repo.Update(ctx, stale), sagaDomain.ErrSagaVersionConflict)

	got, err := repo.GetByFingerprint(ctx, "key:"+id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Len(t, got.StepResults, 1)
	assert.True(t, got.CreatedAt.Equal(now.Add(-time.Hour)))

	inflight, err := repo.ListInFlight(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, inflight, 1)

	running, err := repo.List(ctx, sagaDomain.StatusCriteria{Status: sagaDomain.StatusStepRunning}, sharedQuery.OffsetPagination{}, sagaDomain.DefaultSort)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	byCorr, err := repo.GetByCorrelationID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, byCorr.ID)
}
