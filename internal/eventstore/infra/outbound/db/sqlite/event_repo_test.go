package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
)

func setupRepo(t *testing.T) *EventRepoSQLite {
	t.Helper()
	db, err := sharedDB.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, InitSQLite(db))
	return NewEventRepoSQLite(db)
}

func event(id, aggregateID string, seq int64, at time.Time) esDomain.Event {
	return esDomain.Event{
		EventID:        id,
		AggregateID:    aggregateID,
		AggregateType:  "booking",
		EventType:      "SEAT_RESERVED",
		Payload:        json.RawMessage(`{"holdId":"h-1"}`),
		SequenceNumber: seq,
		CorrelationID:  "saga-1",
		OccurredAt:     esDomain.NormalizeTime(at),
	}
}

func TestEventRepoSQLite_AppendAndRead(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	original := event("evt-1", "booking-1", 1, now)
	require.NoError(t, repo.Append(ctx, original))

	got, err := repo.FindByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, original, *got)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, esDomain.ErrEventNotFound)
}

func TestEventRepoSQLite_UniquenessMapping(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Append(ctx, event("evt-1", "booking-1", 1, now)))

	err := repo.Append(ctx, event("evt-2", "booking-1", 1, now))
	assert.ErrorIs(t, err, esDomain.ErrConcurrencyConflict)

	err = repo.Append(ctx, event("evt-1", "booking-1", 2, now))
	assert.ErrorIs(t, err, esDomain.ErrDuplicateEventID)
}

func TestEventRepoSQLite_FindFilters(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 4; i++ {
		evt := event("b1-"+string(rune('0'+i)), "booking-1", i, base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			evt.EventType = "PAYMENT_CHARGED"
		}
		require.NoError(t, repo.Append(ctx, evt))
	}
	require.NoError(t, repo.Append(ctx, event("b2-1", "booking-2", 1, base.Add(90*time.Second))))

	stream, err := repo.Find(ctx, esDomain.EventFilter{AggregateID: "booking-1"})
	require.NoError(t, err)
	require.Len(t, stream, 4)
	assert.Equal(t, int64(1), stream[0].SequenceNumber)
	assert.Equal(t, int64(4), stream[3].SequenceNumber)

	latest, err := repo.Find(ctx, esDomain.EventFilter{AggregateID: "booking-1", Descending: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, int64(4), latest[0].SequenceNumber)

	byType, err := repo.Find(ctx, esDomain.EventFilter{AggregateID: "booking-1", EventType: "PAYMENT_CHARGED"})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	from, until := base.Add(2*time.Minute), base.Add(3*time.Minute)
	inRange, err := repo.Find(ctx, esDomain.EventFilter{AggregateID: "booking-1", From: &from, Until: &until})
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.Equal(t, int64(2), inRange[0].SequenceNumber)

	correlated, err := repo.Find(ctx, esDomain.EventFilter{CorrelationID: "saga-1"})
	require.NoError(t, err)
	require.Len(t, correlated, 5)
	assert.Equal(t, "booking-1", correlated[0].AggregateID)
	assert.Equal(t, "booking-2", correlated[1].AggregateID)

	count, err := repo.Count(ctx, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestInitSQLite_IsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	require.NoError(t, InitSQLite(db))
	require.NoError(t, InitSQLite(db))
}
