package postgre

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	_ "github.com/jackc/pgx/v5/stdlib"
	jsoniter "github.com/json-iterator/go"

	sagaDomain "github.com/davicafu/sagalab/internal/saga/domain"
	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

const (
	tableSagas            = "sagas"
	colID                 = "id"
	colCorrelationID      = "correlation_id"
	colFingerprint        = "fingerprint"
	colSagaType           = "saga_type"
	colBookingID          = "booking_id"
	colRequest            = "request"
	colData               = "data"
	colCurrentStep        = "current_step"
	colStatus             = "status"
	colStepResults        = "step_results"
	colFailureReason      = "failure_reason"
	colManualIntervention = "manual_intervention"
	colVersion            = "version"
	colCreatedAt          = "created_at"
	colUpdatedAt          = "updated_at"
	constraintFingerprint = "uq_sagas_fingerprint"
)

var (
	json          = jsoniter.ConfigCompatibleWithStandardLibrary
	selectColumns = []interface{}{
		colID, colCorrelationID, colFingerprint, colSagaType, colBookingID, colRequest, colData, colCurrentStep,
		colStatus, colStepResults, colFailureReason, colManualIntervention, colVersion, colCreatedAt, colUpdatedAt,
	}
	inFlightStatuses = []string{
		string(sagaDomain.StatusStarted), string(sagaDomain.StatusStepRunning), string(sagaDomain.StatusCompensating),
	}
)

// InitPostgresSagaSchema crea la tabla de sagas si no existe.
func InitPostgresSagaSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sagas (
		id                  TEXT PRIMARY KEY,
		correlation_id      TEXT NOT NULL,
		fingerprint         TEXT NOT NULL,
		saga_type           TEXT NOT NULL,
		booking_id          TEXT NOT NULL,
		request             JSONB NOT NULL,
		data                JSONB NOT NULL,
		current_step        INTEGER NOT NULL DEFAULT 0,
		status              TEXT NOT NULL,
		step_results        JSONB NOT NULL,
		failure_reason      TEXT NOT NULL DEFAULT '',
		manual_intervention BOOLEAN NOT NULL DEFAULT FALSE,
		version             BIGINT NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_sagas_fingerprint UNIQUE (fingerprint)
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

// SagaRepoPostgres construye sus sentencias con goqu.
type SagaRepoPostgres struct {
	db      *sql.DB
	builder goqu.DialectWrapper
}

var _ sagaDomain.SagaRepository = (*SagaRepoPostgres)(nil)

func NewSagaRepoPostgres(db *sql.DB) *SagaRepoPostgres {
	return &SagaRepoPostgres{db: db, builder: goqu.Dialect("postgres")}
}

// ------------------ Escritura ------------------

func (r *SagaRepoPostgres) Create(ctx context.Context, s *sagaDomain.SagaInstance) error {
	request, data, results, err := encodeSaga(s)
	if err != nil {
		return err
	}
	query, args, err := r.builder.Insert(tableSagas).Rows(goqu.Record{
		colID:                 s.ID,
		colCorrelationID:      s.CorrelationID,
		colFingerprint:        s.Fingerprint,
		colSagaType:           string(s.SagaType),
		colBookingID:          s.BookingID,
		colRequest:            request,
		colData:               data,
		colCurrentStep:        s.CurrentStep,
		colStatus:             string(s.Status),
		colStepResults:        results,
		colFailureReason:      s.FailureReason,
		colManualIntervention: s.ManualIntervention,
		colVersion:            s.Version,
		colCreatedAt:          s.CreatedAt.UTC(),
		colUpdatedAt:          s.UpdatedAt.UTC(),
	}).Prepared(true).ToSQL()
	if err != nil {
		return errors.Join(errors.New("failed to build insert query"), err)
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	switch {
	case err == nil:
		return nil
	case sharedDB.IsUniqueViolationOn(err, constraintFingerprint):
		return sagaDomain.ErrDuplicateSaga
	case sharedDB.IsUniqueViolation(err):
		return fmt.Errorf("%w: saga id %s", sharedDomain.ErrConflict, s.ID)
	default:
		return fmt.Errorf("failed to insert saga: %w", err)
	}
}

func (r *SagaRepoPostgres) Update(ctx context.Context, s *sagaDomain.SagaInstance) error {
	request, data, results, err := encodeSaga(s)
	if err != nil {
		return err
	}
	query, args, err := r.builder.Update(tableSagas).Set(goqu.Record{
		colBookingID:          s.BookingID,
		colRequest:            request,
		colData:               data,
		colCurrentStep:        s.CurrentStep,
		colStatus:             string(s.Status),
		colStepResults:        results,
		colFailureReason:      s.FailureReason,
		colManualIntervention: s.ManualIntervention,
		colVersion:            goqu.L(colVersion + " + 1"),
		colUpdatedAt:          s.UpdatedAt.UTC(),
	}).Where(goqu.Ex{colID: s.ID, colVersion: s.Version}).Prepared(true).ToSQL()
	if err != nil {
		return errors.Join(errors.New("failed to build update query"), err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *SagaRepoPostgres) GetByID(ctx context.Context, id string) (*sagaDomain.SagaInstance, error) {
	return r.getOne(ctx, r.selectSagas().Where(goqu.Ex{colID: id}))
}

func (r *SagaRepoPostgres) GetByCorrelationID(ctx context.Context, correlationID string) (*sagaDomain.SagaInstance, error) {
	return r.getOne(ctx, r.selectSagas().
		Where(goqu.Ex{colCorrelationID: correlationID}).
		Order(goqu.I(colCreatedAt).Desc(), goqu.I(colID).Desc()).
		Limit(1))
}

func (r *SagaRepoPostgres) GetByFingerprint(ctx context.Context, fingerprint string) (*sagaDomain.SagaInstance, error) {
	return r.getOne(ctx, r.selectSagas().Where(goqu.Ex{colFingerprint: fingerprint}))
}

func (r *SagaRepoPostgres) ListInFlight(ctx context.Context, updatedBefore time.Time, limit int) ([]sagaDomain.SagaInstance, error) {
	return r.query(ctx, r.selectSagas().
		Where(
			goqu.C(colStatus).In(inFlightStatuses),
			goqu.C(colUpdatedAt).Lt(updatedBefore.UTC()),
		).
		Order(goqu.I(colUpdatedAt).Asc(), goqu.I(colID).Asc()).
		Limit(uint(sharedQuery.OffsetPagination{Limit: limit}.Normalize().Limit)))
}

func (r *SagaRepoPostgres) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]sagaDomain.SagaInstance, error) {
	ds := r.selectSagas()
	if criteria != nil {
		for _, c := range criteria.ToConditions() {
			expr, err := condition(c)
			if err != nil {
				return nil, err
			}
			ds = ds.Where(expr)
		}
	}

	sort = sharedQuery.SafeSort(sort, sagaDomain.DefaultSort, sagaDomain.SortableFields...)
	order := func(col string) exp.OrderedExpression {
		if sort.Desc {
			return goqu.I(col).Desc()
		}
		return goqu.I(col).Asc()
	}
	ds = ds.Order(order(sort.Field))
	if sort.Field != colID {
		ds = ds.OrderAppend(order(colID))
	}

	page = page.Normalize()
	ds = ds.Limit(uint(page.Limit)).Offset(uint(page.Offset))
	return r.query(ctx, ds)
}

// condition traduce un criterio neutral a una expresión goqu.
func condition(c sharedDomain.Criterion) (exp.Expression, error) {
	col := goqu.C(c.Field)
	switch c.Op {
	case sharedDomain.OpEq:
		return col.Eq(c.Value), nil
	case sharedDomain.OpNeq:
		return col.Neq(c.Value), nil
	case sharedDomain.OpGt:
		return col.Gt(c.Value), nil
	case sharedDomain.OpGte:
		return col.Gte(c.Value), nil
	case sharedDomain.OpLt:
		return col.Lt(c.Value), nil
	case sharedDomain.OpLte:
		return col.Lte(c.Value), nil
	case sharedDomain.OpLike:
		return col.Like(c.Value), nil
	default:
		return nil, fmt.Errorf("%w: unsupported operator %q", sharedDomain.ErrValidation, c.Op)
	}
}

func (r *SagaRepoPostgres) selectSagas() *goqu.SelectDataset {
	return r.builder.From(tableSagas).Select(selectColumns...)
}

func (r *SagaRepoPostgres) getOne(ctx context.Context, ds *goqu.SelectDataset) (*sagaDomain.SagaInstance, error) {
	sagas, err := r.query(ctx, ds)
	if err != nil {
		return nil, err
	}
	if len(sagas) == 0 {
		return nil, sagaDomain.ErrSagaNotFound
	}
	return &sagas[0], nil
}

func (r *SagaRepoPostgres) query(ctx context.Context, ds *goqu.SelectDataset) ([]sagaDomain.SagaInstance, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Join(errors.New("failed to build select query"), err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sagas []sagaDomain.SagaInstance
	for rows.Next() {
		var (
			s                      sagaDomain.SagaInstance
			request, data, results []byte
		)
		if err := rows.Scan(&s.ID, &s.CorrelationID, &s.Fingerprint, &s.SagaType, &s.BookingID, &request, &data,
			&s.CurrentStep, &s.Status, &results, &s.FailureReason, &s.ManualIntervention, &s.Version,
			&s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(request, &s.Request); err != nil {
			return nil, fmt.Errorf("decode saga request: %w", err)
		}
		if err := json.Unmarshal(data, &s.Data); err != nil {
			return nil, fmt.Errorf("decode saga data: %w", err)
		}
		if err := json.Unmarshal(results, &s.StepResults); err != nil {
			return nil, fmt.Errorf("decode step results: %w", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		s.UpdatedAt = s.UpdatedAt.UTC()
		sagas = append(sagas, s)
	}
	return sagas, rows.Err()
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
