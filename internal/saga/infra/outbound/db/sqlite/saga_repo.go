package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

const sagaColumns = `id, correlation_id, fingerprint, saga_type, booking_id, request, data, current_step, status,
	step_results, failure_reason, manual_intervention, version, created_at, updated_at`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InitSQLiteSagaSchema crea la tabla de sagas si no existe.
func InitSQLiteSagaSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sagas (
		id                  TEXT PRIMARY KEY,
		correlation_id      TEXT NOT NULL,
		fingerprint         TEXT NOT NULL UNIQUE,
		saga_type           TEXT NOT NULL,
		booking_id          TEXT NOT NULL,
		request             TEXT NOT NULL,
		data                TEXT NOT NULL,
		current_step        INTEGER NOT NULL DEFAULT 0,
		status              TEXT NOT NULL,
		step_results        TEXT NOT NULL,
		failure_reason      TEXT NOT NULL DEFAULT '',
		manual_intervention INTEGER NOT NULL DEFAULT 0,
		version             INTEGER NOT NULL DEFAULT 0,
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sagas_correlation ON sagas (correlation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sagas_status ON sagas (status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_sagas_booking ON sagas (booking_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create sagas table: %w", err)
	}
	return nil
}

type SagaRepoSQLite struct {
	db *sql.DB
}

var _ sagaDomain.SagaRepository = (*SagaRepoSQLite)(nil)

func NewSagaRepoSQLite(db *sql.DB) *SagaRepoSQLite {
	return &SagaRepoSQLite{db: db}
}

// ------------------ Escritura ------------------

func (r *SagaRepoSQLite) Create(ctx context.Context, s *sagaDomain.SagaInstance) error {
	request, data, results, err := encodeSaga(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sagas (`+sagaColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.CorrelationID, s.Fingerprint, s.SagaType, s.BookingID, request, data, s.CurrentStep, s.Status,
		results, s.FailureReason, s.ManualIntervention, s.Version,
		sharedDB.ToNanos(s.CreatedAt), sharedDB.ToNanos(s.UpdatedAt),
	)
	switch {
	case err == nil:
		return nil
	case sharedDB.IsUniqueViolationOn(err, "sagas.fingerprint"):
		return sagaDomain.ErrDuplicateSaga
	case sharedDB.IsUniqueViolation(err):
		return fmt.Errorf("%w: saga id %s", sharedDomain.ErrConflict, s.ID)
	default:
		return fmt.Errorf("failed to insert saga: %w", err)
	}
}

// Update guarda el estado si la versión en base de datos sigue siendo s.Version
// y la incrementa.
func (r *SagaRepoSQLite) Update(ctx context.Context, s *sagaDomain.SagaInstance) error {
	request, data, results, err := encodeSaga(s)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE sagas SET
			booking_id = ?, request = ?, data = ?, current_step = ?, status = ?, step_results = ?,
			failure_reason = ?, manual_intervention = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		s.BookingID, request, data, s.CurrentStep, s.Status, results,
		s.FailureReason, s.ManualIntervention, sharedDB.ToNanos(s.UpdatedAt),
		s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update saga: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := r.GetByID(ctx, s.ID); getErr != nil {
			return getErr
		}
		return sagaDomain.ErrSagaVersionConflict
	}
	s.Version++
	return nil
}

// ------------------ Lectura ------------------

func (r *SagaRepoSQLite) GetByID(ctx context.Context, id string) (*sagaDomain.SagaInstance, error) {
	return r.getOne(ctx, `SELECT `+sagaColumns+` FROM sagas WHERE id = ?`, id)
}

// GetByCorrelationID devuelve la saga más reciente con ese correlation id.
func (r *SagaRepoSQLite) GetByCorrelationID(ctx context.Context, correlationID string) (*sagaDomain.SagaInstance, error) {
	return r.getOne(ctx,
		`SELECT `+sagaColumns+` FROM sagas WHERE correlation_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		correlationID)
}

func (r *SagaRepoSQLite) GetByFingerprint(ctx context.Context, fingerprint string) (*sagaDomain.SagaInstance, error) {
	return r.getOne(ctx, `SELECT `+sagaColumns+` FROM sagas WHERE fingerprint = ?`, fingerprint)
}

func (r *SagaRepoSQLite) ListInFlight(ctx context.Context, updatedBefore time.Time, limit int) ([]sagaDomain.SagaInstance, error) {
	return r.query(ctx,
		`SELECT `+sagaColumns+` FROM sagas
		 WHERE status IN ('STARTED', 'STEP_RUNNING', 'COMPENSATING') AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		sharedDB.ToNanos(updatedBefore), sharedQuery.OffsetPagination{Limit: limit}.Normalize().Limit)
}

func (r *SagaRepoSQLite) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]sagaDomain.SagaInstance, error) {
	whereSQL, args := sharedDB.ApplyCriteria(criteria, sharedDB.QuestionMark, 1)
	for i, a := range args {
		args[i] = sqliteArg(a)
	}

	query := `SELECT ` + sagaColumns + ` FROM sagas`
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	sort = sharedQuery.SafeSort(sort, sagaDomain.DefaultSort, sagaDomain.SortableFields...)
	query += sharedDB.OrderBy(sort, sagaDomain.FieldID)

	page = page.Normalize()
	query += " LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset)

	return r.query(ctx, query, args...)
}

// sqliteArg convierte los instantes de los criterios a nanosegundos, como se guardan.
func sqliteArg(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return sharedDB.ToNanos(t)
	}
	return v
}

func (r *SagaRepoSQLite) getOne(ctx context.Context, query string, args ...interface{}) (*sagaDomain.SagaInstance, error) {
	s, err := scanSaga(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sagaDomain.ErrSagaNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *SagaRepoSQLite) query(ctx context.Context, query string, args ...interface{}) ([]sagaDomain.SagaInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sagas []sagaDomain.SagaInstance
	for rows.Next() {
		s, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, s)
	}
	return sagas, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSaga(sc scanner) (sagaDomain.SagaInstance, error) {
	var (
		s                      sagaDomain.SagaInstance
		request, data, results string
		createdAt, updatedAt   int64
	)
	if err := sc.Scan(&s.ID, &s.CorrelationID, &s.Fingerprint, &s.SagaType, &s.BookingID, &request, &data,
		&s.CurrentStep, &s.Status, &results, &s.FailureReason, &s.ManualIntervention, &s.Version,
		&createdAt, &updatedAt); err != nil {
		return s, err
	}
	if err := decodeSaga(&s, request, data, results); err != nil {
		return s, err
	}
	s.CreatedAt = sharedDB.FromNanos(createdAt)
	s.UpdatedAt = sharedDB.FromNanos(updatedAt)
	return s, nil
}

func encodeSaga(s *sagaDomain.SagaInstance) (request, data, results string, err error) {
	req, err := json.Marshal(s.Request)
	if err != nil {
		return "", "", "", fmt.Errorf("encode saga request: %w", err)
	}
	d, err := json.Marshal(s.Data)
	if err != nil {
		return "", "", "", fmt.Errorf("encode saga data: %w", err)
	}
	stepResults := s.StepResults
	if stepResults == nil {
		stepResults = []sagaDomain.StepResult{}
	}
	res, err := json.Marshal(stepResults)
	if err != nil {
		return "", "", "", fmt.Errorf("encode step results: %w", err)
	}
	return string(req), string(d), string(res), nil
}

func decodeSaga(s *sagaDomain.SagaInstance, request, data, results string) error {
	if err := json.Unmarshal([]byte(request), &s.Request); err != nil {
		return fmt.Errorf("decode saga request: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &s.Data); err != nil {
		return fmt.Errorf("decode saga data: %w", err)
	}
	if err := json.Unmarshal([]byte(results), &s.StepResults); err != nil {
		return fmt.Errorf("decode step results: %w", err)
	}
	return nil
}
