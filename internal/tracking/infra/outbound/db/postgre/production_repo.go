package postgre

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	jsoniter "github.com/json-iterator/go"

	sharedDB "github.com/davicafu/sagalab/internal/shared/infra/db"
	trackingDomain "github.com/davicafu/sagalab/internal/tracking/domain"
	sharedDomain "github.com/davicafu/sagalab/shared/domain"
	"github.com/davicafu/sagalab/shared/platform/bus"
	sharedQuery "github.com/davicafu/sagalab/shared/platform/query"
)

const productionColumns = `event_id, topic, message_key, event_type, payload, status, retry_count, max_retries,
	destination, correlation_id, last_error, created_at, updated_at, published_at`

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ProductionRepoPostgres struct {
	db *sql.DB
}

var _ trackingDomain.ProductionRepository = (*ProductionRepoPostgres)(nil)

func NewProductionRepoPostgres(db *sql.DB) *ProductionRepoPostgres {
	return &ProductionRepoPostgres{db: db}
}

// ------------------ Escritura ------------------

func (r *ProductionRepoPostgres) Insert(ctx context.Context, rec trackingDomain.ProductionRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO production_records (`+productionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT(event_id) DO NOTHING`,
		rec.EventID, rec.Topic, rec.Key, rec.EventType, string(rec.Payload), rec.Status, rec.RetryCount, rec.MaxRetries,
		nil, rec.CorrelationID, rec.LastError,
		rec.CreatedAt, rec.UpdatedAt, rec.PublishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert production record: %w", err)
	}
	return affected(res)
}

func (r *ProductionRepoPostgres) MarkPublishing(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET status = 'PUBLISHING', updated_at = $1
		 WHERE event_id = $2 AND status = 'PENDING'`,
		now, eventID)
}

func (r *ProductionRepoPostgres) MarkPublished(ctx context.Context, eventID string, dest bus.Coordinates, now time.Time) (bool, error) {
	destJSON, err := json.Marshal(dest)
	if err != nil {
		return false, err
	}
	return r.exec(ctx,
		`UPDATE production_records SET status = 'PUBLISHED', destination = $1, last_error = '', updated_at = $2, published_at = $3
		 WHERE event_id = $4 AND status IN ('PENDING', 'PUBLISHING')`,
		string(destJSON), now, now, eventID)
}

func (r *ProductionRepoPostgres) MarkFailed(ctx context.Context, eventID, errMsg string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET
			retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'PENDING' END,
			last_error = $1,
			updated_at = $2
		 WHERE event_id = $3 AND status IN ('PENDING', 'PUBLISHING')`,
		errMsg, now, eventID)
}

func (r *ProductionRepoPostgres) GrantRetries(ctx context.Context, eventID string, extra int, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET max_retries = max_retries + $1, updated_at = $2
		 WHERE event_id = $3 AND status = 'FAILED' AND $1 > 0`,
		extra, now, eventID)
}

func (r *ProductionRepoPostgres) Requeue(ctx context.Context, eventID string, now time.Time) (bool, error) {
	return r.exec(ctx,
		`UPDATE production_records SET status = 'PENDING', updated_at = $1
		 WHERE event_id = $2 AND status = 'FAILED' AND retry_count < max_retries`,
		now, eventID)
}

func (r *ProductionRepoPostgres) ResetStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE production_records SET status = 'PENDING', updated_at = $1
		 WHERE status = 'PUBLISHING' AND updated_at < $2`,
		now, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ProductionRepoPostgres) exec(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

// ------------------ Lectura ------------------

func (r *ProductionRepoPostgres) GetByID(ctx context.Context, eventID string) (*trackingDomain.ProductionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+productionColumns+` FROM production_records WHERE event_id = $1`, eventID)
	rec, err := scanProduction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, trackingDomain.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *ProductionRepoPostgres) List(ctx context.Context, criteria sharedDomain.Criteria, page sharedQuery.OffsetPagination, sort sharedQuery.Sort) ([]trackingDomain.ProductionRecord, error) {
	whereSQL, args := sharedDB.ApplyCriteria(criteria, sharedDB.Dollar, 1)

	query := `SELECT ` + productionColumns + ` FROM production_records`
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	sort = sharedQuery.SafeSort(sort, trackingDomain.DefaultProductionSort, trackingDomain.ProductionSortFields...)
	query += sharedDB.OrderBy(sort, trackingDomain.FieldEventID)

	page = page.Normalize()
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit, page.Offset)

	return r.query(ctx, query, args...)
}

func (r *ProductionRepoPostgres) ListFailedRetryable(ctx context.Context, limit int) ([]trackingDomain.ProductionRecord, error) {
	return r.query(ctx,
		`SELECT `+productionColumns+` FROM production_records
		 WHERE status = 'FAILED' AND retry_count < max_retries
		 ORDER BY created_at ASC, event_id ASC
		 LIMIT $1`,
		sharedQuery.OffsetPagination{Limit: limit}.Normalize().Limit)
}

func (r *ProductionRepoPostgres) CountByStatus(ctx context.Context) (map[trackingDomain.ProductionStatus]int64, error) {
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

func (r *ProductionRepoPostgres) query(ctx context.Context, query string, args ...interface{}) ([]trackingDomain.ProductionRecord, error) {
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
		createdAt, updatedAt time.Time
		publishedAt          sql.NullTime
	)
	if err := s.Scan(&rec.EventID, &rec.Topic, &rec.Key, &rec.EventType, &payload, &rec.Status, &rec.RetryCount, &rec.MaxRetries,
		&destination, &rec.CorrelationID, &rec.LastError, &createdAt, &updatedAt, &publishedAt); err != nil {
		return rec, err
	}

	rec.Payload = []byte(payload)
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	if publishedAt.Valid {
		at := publishedAt.Time.UTC()
		rec.PublishedAt = &at
	}
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
