package sqlite

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

type ConsumptionRepoSQLite struct {
	db *sql.DB
}

var _ trackingDomain.ConsumptionRepository = (*ConsumptionRepoSQLite)(nil)

func NewConsumptionRepoSQLite(db *sql.DB) *ConsumptionRepoSQLite {
	return &ConsumptionRepoSQLite{db: db}
}

// ------------------ Escritura ------------------

func (r *ConsumptionRepoSQLite) Insert(ctx context.Context, rec trackingDomain.ConsumptionRecord) (bool, error) {
	source, err := json.Marshal(rec.Source)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO consumption_records (`+consumptionColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(event_id) DO NOTHING`,
		rec.EventID, rec.Topic, string(source), rec.ConsumerGroup, rec.EventType, rec.CorrelationID, rec.Status,
		rec.RetryCount, rec.MaxRetries, rec.ProcessingTimeMs, rec.ErrorMessage, rec.ErrorStack,
		sharedDB.ToNanos(rec.ReceivedAt), sharedDB.ToNanos(rec.UpdatedAt), sharedDB.NullableNanos(rec.ProcessedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert consumption record: %w", err)
	}
	return affected(res)
}

func (r *ConsumptionRepoSQLite) MarkProcessing(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'PROCESSING', updated_at = ?
		 WHERE event_id = ? AND status = 'RECEIVED'`,
		sharedDB.ToNanos(now), eventID)
}

func (r *ConsumptionRepoSQLite) MarkProcessed(ctx context.Context, eventID string, elapsed time.Duration, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'PROCESSED', processing_time_ms = ?, updated_at = ?, processed_at = ?
		 WHERE event_id = ? AND status IN ('RECEIVED', 'PROCESSING')`,
		elapsed.Milliseconds(), sharedDB.ToNanos(now), sharedDB.ToNanos(now), eventID)
}

func (r *ConsumptionRepoSQLite) MarkFailed(ctx context.Context, eventID, errMsg, stack string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'RECEIVED' END,
			error_message = ?,
			error_stack = ?,
			updated_at = ?
		 WHERE event_id = ? AND status IN ('RECEIVED', 'PROCESSING')`,
		errMsg, stack, sharedDB.ToNanos(now), eventID)
}

func (r *ConsumptionRepoSQLite) Abandon(ctx context.Context, eventID, errMsg string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'FAILED', retry_count = max_retries, error_message = ?, updated_at = ?
		 WHERE event_id = ? AND status IN ('RECEIVED', 'PROCESSING')`,
		errMsg, sharedDB.ToNanos(now), eventID)
}

func (r *ConsumptionRepoSQLite) GrantRetries(ctx context.Context, eventID string, extra int, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET max_retries = max_retries + ?, updated_at = ?
		 WHERE event_id = ? AND status = 'FAILED' AND ? > 0`,
		extra, sharedDB.ToNanos(now), eventID, extra)
}

func (r *ConsumptionRepoSQLite) Requeue(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE consumption_records SET status = 'RECEIVED', updated_at = ?
		 WHERE event_id = ? AND status = 'FAILED' AND retry_count < max_retries`,
		sharedDB.ToNanos(now), eventID)
}

func (r *ConsumptionRepoSQLite) ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE consumption_records SET status = 'RECEIVED', updated_at = ?
		 WHERE status = 'PROCESSING' AND updated_at < ?`,
		sharedDB.ToNanos(now), sharedDB.ToNanos(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ConsumptionRepoSQLite) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

// ------------------ Lectura ------------------

func (r *ConsumptionRepoSQLite) GetByID(ctx context.Context, eventID string) (*trackingDomain.ConsumptionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+consumptionColumns+` FROM consumption_records WHERE event_id = ?`, eventID)
	rec, err := scanConsumption(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trackingDomain.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ConsumptionRepoSQLite) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]trackingDomain.ConsumptionRecord, error) {
	whereSQL, args := sharedDB.ApplyCriteria(criteria, sharedDB.QuestionMark, 1)

	query := `SELECT ` + consumptionColumns + ` FROM consumption_records`
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	sort = sharedQuery.SafeSort(sort, trackingDomain.DefaultConsumptionSort, trackingDomain.ConsumptionSortFields...)
	query += sharedDB.OrderBy(sort, trackingDomain.FieldEventID)

	page = page.Normalize()
	query += " LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset)

	return r.query(ctx, query, args...)
}

func (r *ConsumptionRepoSQLite) ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ConsumptionRecord, error) {
	return r.query(ctx,
		`SELECT `+consumptionColumns+` FROM consumption_records
		 WHERE status = 'FAILED' AND retry_count < max_retries
		 ORDER BY received_at ASC, event_id ASC
		 LIMIT ?`,
		sharedQuery.OffsetPagination{Limit: limit}.Normalize().Limit)
}

func (r *ConsumptionRepoSQLite) CountByStatus(ctx context.Context) (map[trackingDomain.ConsumptionStatus]int64, error) {
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

func (r *ConsumptionRepoSQLite) query(ctx context.Context, query string, args ...interface{}) ([]trackingDomain.ConsumptionRecord, error) {
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
		receivedAt, updatedAt int64
		processedAt           sql.NullInt64
	)
	if err := s.Scan(&rec.EventID, &rec.Topic, &source, &rec.ConsumerGroup, &rec.EventType, &rec.CorrelationID, &rec.Status,
		&rec.RetryCount, &rec.MaxRetries, &rec.ProcessingTimeMs, &rec.ErrorMessage, &rec.ErrorStack,
		&receivedAt, &updatedAt, &processedAt); err != nil {
		return rec, err
	}

	if err := json.Unmarshal([]byte(source), &rec.Source); err != nil {
		return rec, fmt.Errorf("invalid source in consumption record %s: %w", rec.EventID, err)
	}
	rec.ReceivedAt = sharedDB.FromNanos(receivedAt)
	rec.UpdatedAt = sharedDB.FromNanos(updatedAt)
	rec.ProcessedAt = sharedDB.FromNullableNanos(processedAt)
	return rec, nil
}
