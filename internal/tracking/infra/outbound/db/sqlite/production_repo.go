package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/platform/bus"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

const productionColumns = `event_id, topic, message_key, event_type, payload, status, retry_count, max_retries,
	destination, correlation_id, last_error, created_at, updated_at, published_at`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ProductionRepoSQLite struct {
	db *sql.DB
}

var _ trackingDomain.ProductionRepository = (*ProductionRepoSQLite)(nil)

func NewProductionRepoSQLite(db *sql.DB) *ProductionRepoSQLite {
	return &ProductionRepoSQLite{db: db}
}

// ------------------ Escritura ------------------

func (r *ProductionRepoSQLite) Insert(ctx context.Context, rec trackingDomain.ProductionRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO production_records (`+productionColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(event_id) DO NOTHING`,
		rec.EventID, rec.Topic, rec.Key, rec.EventType, string(rec.Payload), rec.Status, rec.RetryCount, rec.MaxRetries,
		nil, rec.CorrelationID, rec.LastError,
		sharedDB.ToNanos(rec.CreatedAt), sharedDB.ToNanos(rec.UpdatedAt), sharedDB.NullableNanos(rec.PublishedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert production record: %w", err)
	}
	return affected(res)
}

func (r *ProductionRepoSQLite) MarkPublishing(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET status = 'PUBLISHING', updated_at = ?
		 WHERE event_id = ? AND status = 'PENDING'`,
		sharedDB.ToNanos(now), eventID)
}

func (r *ProductionRepoSQLite) MarkPublished(ctx context.Context, eventID string, dest bus.Coordinates, now time.Time) (bool, error) {
	destJSON, err := json.Marshal(dest)
	if err != nil {
		return false, err
	}
	return r.exec(ctx,
		`UPDATE production_records SET status = 'PUBLISHED', destination = ?, last_error = '', updated_at = ?, published_at = ?
		 WHERE event_id = ? AND status IN ('PENDING', 'PUBLISHING')`,
		string(destJSON), sharedDB.ToNanos(now), sharedDB.ToNanos(now), eventID)
}

func (r *ProductionRepoSQLite) MarkFailed(ctx context.Context, eventID, errMsg string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'PENDING' END,
			last_error = ?,
			updated_at = ?
		 WHERE event_id = ? AND status IN ('PENDING', 'PUBLISHING')`,
		errMsg, sharedDB.ToNanos(now), eventID)
}

func (r *ProductionRepoSQLite) GrantRetries(ctx context.Context, eventID string, extra int, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET max_retries = max_retries + ?, updated_at = ?
		 WHERE event_id = ? AND status = 'FAILED' AND ? > 0`,
		extra, sharedDB.ToNanos(now), eventID, extra)
}

func (r *ProductionRepoSQLite) Requeue(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET status = 'PENDING', updated_at = ?
		 WHERE event_id = ? AND status = 'FAILED' AND retry_count < max_retries`,
		sharedDB.ToNanos(now), eventID)
}

func (r *ProductionRepoSQLite) ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE production_records SET status = 'PENDING', updated_at = ?
		 WHERE status = 'PUBLISHING' AND updated_at < ?`,
		sharedDB.ToNanos(now), sharedDB.ToNanos(olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ProductionRepoSQLite) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

// ------------------ Lectura ------------------

func (r *ProductionRepoSQLite) GetByID(ctx context.Context, eventID string) (*trackingDomain.ProductionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productionColumns+` FROM production_records WHERE event_id = ?`, eventID)
	rec, err := scanProduction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trackingDomain.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ProductionRepoSQLite) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]trackingDomain.ProductionRecord, error) {
	whereSQL, args := sharedDB.ApplyCriteria(criteria, sharedDB.QuestionMark, 1)

	query := `SELECT ` + productionColumns + ` FROM production_records`
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	sort = sharedQuery.SafeSort(sort, trackingDomain.DefaultProductionSort, trackingDomain.ProductionSortFields...)
	query += sharedDB.OrderBy(sort, trackingDomain.FieldEventID)

	page = page.Normalize()
	query += " LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset)

	return r.query(ctx, query, args...)
}

func (r *ProductionRepoSQLite) ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ProductionRecord, error) {
	return r.query(ctx,
		`SELECT `+productionColumns+` FROM production_records
		 WHERE status = 'FAILED' AND retry_count < max_retries
		 ORDER BY created_at ASC, event_id ASC
		 LIMIT ?`,
		sharedQuery.OffsetPagination{Limit: limit}.Normalize().Limit)
}

func (r *ProductionRepoSQLite) CountByStatus(ctx context.Context) (map[trackingDomain.ProductionStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM production_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[trackingDomain.ProductionStatus]int64)
	for rows.Next() {
		var (
			status trackingDomain.ProductionStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *ProductionRepoSQLite) query(ctx context.Context, query string, args ...interface{}) ([]trackingDomain.ProductionRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []trackingDomain.ProductionRecord
	for rows.Next() {
		rec, err := scanProduction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduction(s scanner) (trackingDomain.ProductionRecord, error) {
	var (
		rec                  trackingDomain.ProductionRecord
		payload              string
		destination          sql.NullString
		createdAt, updatedAt int64
		publishedAt          sql.NullInt64
	)
	if err := s.Scan(&rec.EventID, &rec.Topic, &rec.Key, &rec.EventType, &payload, &rec.Status, &rec.RetryCount, &rec.MaxRetries,
		&destination, &rec.CorrelationID, &rec.LastError, &createdAt, &updatedAt, &publishedAt); err != nil {
		return rec, err
	}

	rec.Payload = []byte(payload)
	rec.CreatedAt = sharedDB.FromNanos(createdAt)
	rec.UpdatedAt = sharedDB.FromNanos(updatedAt)
	rec.PublishedAt = sharedDB.FromNullableNanos(publishedAt)
	if destination.Valid && destination.String != "" {
		var dest bus.Coordinates
		if err := json.Unmarshal([]byte(destination.String), &dest); err != nil {
			return rec, fmt.Errorf("invalid destination in production record %s: %w", rec.EventID, err)
		}
		rec.Destination = &dest
	}
	return rec, nil
}

func affected(res sql.Result) (bool, error) {
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	return rows > 0, nil
}
