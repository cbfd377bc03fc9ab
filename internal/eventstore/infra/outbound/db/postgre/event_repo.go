package postgre

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialecto "postgres"
	"github.com/doug-martin/goqu/v9/exp"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
)

const (
	dialectPostgres     = "postgres"
	tableEvents         = "events"
	colEventID          = "event_id"
	colAggregateID      = "aggregate_id"
	colAggregateType    = "aggregate_type"
	colEventType        = "event_type"
	colPayload          = "payload"
	colSequenceNumber   = "sequence_number"
	colCorrelationID    = "correlation_id"
	colOccurredAt       = "occurred_at"
	constraintPrimary   = "events_pkey"
	constraintAggSeqUnq = "uq_events_aggregate_sequence"
)

var selectColumns = []interface{}{
	colEventID, colAggregateID, colAggregateType, colEventType, colPayload,
	colSequenceNumber, colCorrelationID, colOccurredAt,
}

// EventRepoPostgres construye sus sentencias con goqu (placeholders $n preparados).
type EventRepoPostgres struct {
	db      *sql.DB
	builder goqu.DialectWrapper
}

var _ esDomain.EventRepository = (*EventRepoPostgres)(nil)

func NewEventRepoPostgres(db *sql.DB) *EventRepoPostgres {
	return &EventRepoPostgres{db: db, builder: goqu.Dialect(dialectPostgres)}
}

func (r *EventRepoPostgres) Append(ctx context.Context, evt esDomain.Event) error {
	query, args, err := r.builder.
		Insert(tableEvents).
		Rows(goqu.Record{
			colEventID:        evt.EventID,
			colAggregateID:    evt.AggregateID,
			colAggregateType:  evt.AggregateType,
			colEventType:      evt.EventType,
			colPayload:        string(evt.Payload),
			colSequenceNumber: evt.SequenceNumber,
			colCorrelationID:  evt.CorrelationID,
			colOccurredAt:     evt.OccurredAt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return errors.Join(errors.New("failed to build insert query"), err)
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	switch {
	case err == nil:
		return nil
	case sharedDB.IsUniqueViolationOn(err, constraintPrimary):
		return esDomain.ErrDuplicateEventID
	case sharedDB.IsUniqueViolation(err):
		return esDomain.ErrConcurrencyConflict
	default:
		return fmt.Errorf("failed to insert event: %w", err)
	}
}

func (r *EventRepoPostgres) FindByID(ctx context.Context, eventID string) (*esDomain.Event, error) {
	events, err := r.query(ctx, r.builder.From(tableEvents).Select(selectColumns...).
		Where(goqu.Ex{colEventID: eventID}))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, esDomain.ErrEventNotFound
	}
	return &events[0], nil
}

func (r *EventRepoPostgres) Find(ctx context.Context, f esDomain.EventFilter) ([]esDomain.Event, error) {
	ds := r.builder.From(tableEvents).Select(selectColumns...)

	ex := goqu.Ex{}
	if f.AggregateID != "" {
		ex[colAggregateID] = f.AggregateID
	}
	if f.CorrelationID != "" {
		ex[colCorrelationID] = f.CorrelationID
	}
	if f.EventType != "" {
		ex[colEventType] = f.EventType
	}
	if len(ex) > 0 {
		ds = ds.Where(ex)
	}
	if f.From != nil {
		ds = ds.Where(goqu.C(colOccurredAt).Gte(*f.From))
	}
	if f.Until != nil {
		ds = ds.Where(goqu.C(colOccurredAt).Lte(*f.Until))
	}

	order := func(col string) exp.OrderedExpression {
		if f.Descending {
			return goqu.I(col).Desc()
		}
		return goqu.I(col).Asc()
	}
	if f.CorrelationID != "" {
		ds = ds.Order(order(colOccurredAt), order(colAggregateID), order(colSequenceNumber))
	} else {
		ds = ds.Order(order(colAggregateID), order(colSequenceNumber))
	}
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}

	return r.query(ctx, ds)
}

func (r *EventRepoPostgres) Count(ctx context.Context, aggregateID string) (int64, error) {
	query, args, err := r.builder.From(tableEvents).
		Select(goqu.COUNT("*")).
		Where(goqu.Ex{colAggregateID: aggregateID}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, errors.Join(errors.New("failed to build count query"), err)
	}

	var n int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (r *EventRepoPostgres) query(ctx context.Context, ds *goqu.SelectDataset) ([]esDomain.Event, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Join(errors.New("failed to build select query"), err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []esDomain.Event
	for rows.Next() {
		var (
			evt     esDomain.Event
			payload []byte
		)
		if err := rows.Scan(&evt.EventID, &evt.AggregateID, &evt.AggregateType, &evt.EventType, &payload,
			&evt.SequenceNumber, &evt.CorrelationID, &evt.OccurredAt); err != nil {
			return nil, err
		}
		evt.Payload = payload
		evt.OccurredAt = evt.OccurredAt.UTC()
		events = append(events, evt)
	}
	return events, rows.Err()
}

// InitPostgresEventSchema crea la tabla 'events' si no existe.
func InitPostgresEventSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		event_id        TEXT NOT NULL,
		aggregate_id    TEXT NOT NULL,
		aggregate_type  TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		payload         JSONB NOT NULL,
		sequence_number BIGINT NOT NULL,
		correlation_id  TEXT NOT NULL DEFAULT '',
		occurred_at     TIMESTAMPTZ NOT NULL,
		CONSTRAINT events_pkey PRIMARY KEY (event_id),
		CONSTRAINT uq_events_aggregate_sequence UNIQUE (aggregate_id, sequence_number)
	);
	CREATE INDEX IF NOT EXISTS idx_events_correlation ON events (correlation_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events (aggregate_id, event_type);
	`)
	return err
}
