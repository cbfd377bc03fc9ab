package postgre

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

const consumptionColumns = `event_id, topic, source, consumer_group, event_type, correlation_id, status, retry_count,
	max_retries, processing_time_ms, error_message, error_stack, received_at, updated_at, processed_at`

type ConsumptionRepoPostgres struct {
	db *sql.DB
}

var _ trackingDomain.ConsumptionRepository = (*ConsumptionRepoPostgres)(nil)

func NewConsumptionRepoPostgres(db *sql.DB) *ConsumptionRepoPostgres {
	return &ConsumptionRepoPostgres{db: db}
}

// ------------------ Escritura ------------------

func (r *ConsumptionRepoPostgres) Insert(ctx context.Context, rec trackingDomain.ConsumptionRecord) (bool, error) {
	source, err := json.Marshal(rec.Source)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO consumption_records (`+consumptionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT(event_id) DO NOTHING`,
		rec.EventID, rec.Topic, string(source), rec.ConsumerGroup, rec.EventType, rec.CorrelationID, rec.Status,
		rec.RetryCount, rec.MaxRetries, rec.ProcessingTimeMs, rec.ErrorMessage, rec.ErrorStack,
		rec.ReceivedAt, rec.UpdatedAt, rec.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert consumption record: %w", err)
	}
	return affected(res)
}

func (r *ConsumptionRepoPostgres) MarkProcessing(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'PROCESSING', updated_at = $1
		 WHERE event_id = $2 AND status = 'RECEIVED'`,
		now, eventID)
}

func (r *ConsumptionRepoPostgres) MarkProcessed(ctx context.Context, eventID string, elapsed time.Duration, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'PROCESSED', processing_time_ms = $1, updated_at = $2, processed_at = $3
		 WHERE event_id = $4 AND status IN ('RECEIVED', 'PROCESSING')`,
		elapsed.Milliseconds(), now, now, eventID)
}

func (r *ConsumptionRepoPostgres) MarkFailed(ctx context.Context, eventID, errMsg, stack string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'RECEIVED' END,
			error_message = $1,
			error_stack = $2,
			updated_at = $3
		 WHERE event_id = $4 AND status IN ('RECEIVED', 'PROCESSING')`,
		errMsg, stack, now, eventID)
}

func (r *ConsumptionRepoPostgres) Abandon(ctx context.Context, eventID, errMsg string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'FAILED', retry_count = max_retries, error_message = $1, updated_at = $2
		 WHERE event_id = $3 AND status IN ('RECEIVED', 'PROCESSING')`,
		errMsg, now, eventID)
}

func (r *ConsumptionRepoPostgres) GrantRetries(ctx context.Context, eventID string, extra int, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET max_retries = max_retries + $1, updated_at = $2
		 WHERE event_id = $3 AND status = 'FAILED' AND $1 > 0`,
		extra, now, eventID)
}

func (r *ConsumptionRepoPostgres) Requeue(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'RECEIVED', updated_at = $1
		 WHERE event_id = $2 AND status = 'FAILED' AND retry_count < max_retries`,
		now, eventID)
}

func (r *ConsumptionRepoPostgres) ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE consumption_records SET status = 'RECEIVED', updated_at = $1
		 WHERE status = 'PROCESSING' AND updated_at < $2`,
		now, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ConsumptionRepoPostgres) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

// ------------------ Lectura ------------------

func (r *ConsumptionRepoPostgres) GetByID(ctx context.Context, eventID string) (*trackingDomain.ConsumptionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+consumptionColumns+` FROM consumption_records WHERE event_id = $1`, eventID)
	rec, err := scanConsumption(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trackingDomain.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ConsumptionRepoPostgres) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]trackingDomain.ConsumptionRecord, error) {
	whereSQL, args := sharedDB.ApplyCriteria(criteria, sharedDB.Dollar, 1)

	query := `SELECT ` + consumptionColumns + ` FROM consumption_records`
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	sort = sharedQuery.SafeSort(sort, trackingDomain.DefaultConsumptionSort, trackingDomain.ConsumptionSortFields...)
	query += sharedDB.OrderBy(sort, trackingDomain.FieldEventID)

	page = page.Normalize()
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset)

	return r.query(ctx, query, args...)
}

func (r *ConsumptionRepoPostgres) ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ConsumptionRecord, error) {
	return r.query(ctx,
		`SELECT `+consumptionColumns+` FROM consumption_records
		 WHERE status = 'FAILED' AND retry_count < max_retries
		 ORDER BY received_at ASC, event_id ASC
		 LIMIT $1`,
		sharedQuery.OffsetPagination{Limit: limit}.Normalize().Limit)
}

func (r *ConsumptionRepoPostgres) CountByStatus(ctx context.Context) (map[trackingDomain.ConsumptionStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM consumption_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[trackingDomain.ConsumptionStatus]int64)
	for rows.Next() {
		var (
			status trackingDomain.ConsumptionStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *ConsumptionRepoPostgres) query(ctx context.Context, query string, args ...interface{}) ([]trackingDomain.ConsumptionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []trackingDomain.ConsumptionRecord
	for rows.Next() {
		rec, err := scanConsumption(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanConsumption(s scanner) (trackingDomain.ConsumptionRecord, error) {
	var (
		rec                   trackingDomain.ConsumptionRecord
		source                string
		receivedAt, updatedAt time.Time
		processedAt           sql.NullTime
	)
	if err := s.Scan(&rec.EventID, &rec.Topic, &source, &rec.ConsumerGroup, &rec.EventType, &rec.CorrelationID, &rec.Status,
		&rec.RetryCount, &rec.MaxRetries, &rec.ProcessingTimeMs, &rec.ErrorMessage, &rec.ErrorStack,
		&receivedAt, &updatedAt, &processedAt); err != nil {
		return rec, err
	}

	if err := json.Unmarshal([]byte(source), &rec.Source); err != nil {
		return rec, fmt.Errorf("invalid source in consumption record %s: %w", rec.EventID, err)
	}
	rec.ReceivedAt = receivedAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	if processedAt.Valid {
		at := processedAt.Time.UTC()
		rec.ProcessedAt = &at
	}
	return rec, nil
}
