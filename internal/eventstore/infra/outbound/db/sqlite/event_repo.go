package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	esDomain "github.com/davicafu/sagalab/internal/eventstore/domain"
	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	sharedUtils "github.com/davicafu/sagalab/shared/utils"
)

const eventColumns = `event_id, aggregate_id, aggregate_type, event_type, payload, sequence_number, correlation_id, occurred_at`

type EventRepoSQLite struct {
	db *sql.DB
}

var _ esDomain.EventRepository = (*EventRepoSQLite)(nil)

func NewEventRepoSQLite(db *sql.DB) *EventRepoSQLite {
	return &EventRepoSQLite{db: db}
}

// ------------------ Escritura ------------------

// Append inserta el evento. La unicidad de (aggregate_id, sequence_number) es quien detecta la carrera.
func (r *EventRepoSQLite) Append(ctx context.Context, evt esDomain.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		evt.EventID, evt.AggregateID, evt.AggregateType, evt.EventType, string(evt.Payload),
		evt.SequenceNumber, evt.CorrelationID, sharedDB.ToNanos(evt.OccurredAt),
	)
	switch {
	case err == nil:
		return nil
	case sharedDB.IsUniqueViolationOn(err, "events.event_id"):
		return esDomain.ErrDuplicateEventID
	case sharedDB.IsUniqueViolation(err):
		return esDomain.ErrConcurrencyConflict
	default:
		return fmt.Errorf("failed to insert event: %w", err)
	}
}

// ------------------ Lectura ------------------

func (r *EventRepoSQLite) FindByID(ctx context.Context, eventID string) (*esDomain.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE event_id = ?`, eventID)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, esDomain.ErrEventNotFound
		}
		return nil, err
	}
	return &evt, nil
}

func (r *EventRepoSQLite) Find(ctx context.Context, f esDomain.EventFilter) ([]esDomain.Event, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.AggregateID != "" {
		clauses = append(clauses, "aggregate_id = ?")
		args = append(args, f.AggregateID)
	}
	if f.CorrelationID != "" {
		clauses = append(clauses, "correlation_id = ?")
		args = append(args, f.CorrelationID)
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.From != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, sharedDB.ToNanos(*f.From))
	}
	if f.Until != nil {
		clauses = append(clauses, "occurred_at <= ?")
		args = append(args, sharedDB.ToNanos(*f.Until))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	dir := sharedUtils.Ternary(f.Descending, "DESC", "ASC")
	if f.CorrelationID != "" {
		query += fmt.Sprintf(" ORDER BY occurred_at %[1]s, aggregate_id %[1]s, sequence_number %[1]s", dir)
	} else {
		query += fmt.Sprintf(" ORDER BY aggregate_id %[1]s, sequence_number %[1]s", dir)
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []esDomain.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (r *EventRepoSQLite) Count(ctx context.Context, aggregateID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (esDomain.Event, error) {
	var (
		evt        esDomain.Event
		payload    string
		occurredAt int64
	)
	if err := s.Scan(&evt.EventID, &evt.AggregateID, &evt.AggregateType, &evt.EventType, &payload,
		&evt.SequenceNumber, &evt.CorrelationID, &occurredAt); err != nil {
		return esDomain.Event{}, err
	}
	evt.Payload = []byte(payload)
	evt.OccurredAt = sharedDB.FromNanos(occurredAt)
	return evt, nil
}

// ------------------ Inicialización del Esquema ------------------

// InitSQLite crea la tabla de eventos si no existe.
func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		event_id        TEXT PRIMARY KEY,
		aggregate_id    TEXT NOT NULL,
		aggregate_type  TEXT NOT NULL,
		event_type      TEXT NOT NULL,
		payload         TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		correlation_id  TEXT NOT NULL DEFAULT '',
		occurred_at     INTEGER NOT NULL,
		UNIQUE (aggregate_id, sequence_number)
	);
	CREATE INDEX IF NOT EXISTS idx_events_correlation ON events (correlation_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events (aggregate_id, event_type);
	`)
	return err
}
