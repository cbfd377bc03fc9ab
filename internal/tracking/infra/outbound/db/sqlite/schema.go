package sqlite

import (
	"database/sql"
	"fmt"
)

// InitSQLiteTrackingSchema crea las tablas de seguimiento de entregas si no existen.
func InitSQLiteTrackingSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS production_records (
		event_id       TEXT PRIMARY KEY,
		topic          TEXT NOT NULL,
		message_key    TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INTEGER NOT NULL DEFAULT 0,
		max_retries    INTEGER NOT NULL,
		destination    TEXT,
		correlation_id TEXT NOT NULL DEFAULT '',
		last_error     TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		published_at   INTEGER,
		CHECK (retry_count <= max_retries)
	);
	CREATE INDEX IF NOT EXISTS idx_production_status ON production_records (status, created_at);
	CREATE INDEX IF NOT EXISTS idx_production_topic ON production_records (topic);
	CREATE INDEX IF NOT EXISTS idx_production_correlation ON production_records (correlation_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create production_records table: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS consumption_records (
		event_id           TEXT PRIMARY KEY,
		topic              TEXT NOT NULL,
		source             TEXT NOT NULL,
		consumer_group     TEXT NOT NULL,
		event_type         TEXT NOT NULL,
		correlation_id     TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL,
		retry_count        INTEGER NOT NULL DEFAULT 0,
		max_retries        INTEGER NOT NULL,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		error_message      TEXT NOT NULL DEFAULT '',
		error_stack        TEXT NOT NULL DEFAULT '',
		received_at        INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL,
		processed_at       INTEGER,
		CHECK (retry_count <= max_retries)
	);
	CREATE INDEX IF NOT EXISTS idx_consumption_status ON consumption_records (status, received_at);
	CREATE INDEX IF NOT EXISTS idx_consumption_topic ON consumption_records (topic);
	CREATE INDEX IF NOT EXISTS idx_consumption_correlation ON consumption_records (correlation_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create consumption_records table: %w", err)
	}
	return nil
}
