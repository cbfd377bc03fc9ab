package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver "pgx"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	pgUniqueViolation = "23505"
)

// Open abre la conexión para el driver configurado y comprueba que responde.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch driver {
	case DriverSQLite:
		conn, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, err
		}
		if isMemory(dsn) {
			// Cada conexión nueva de ":memory:" sería una base de datos distinta.
			conn.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		conn, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		conn.SetMaxOpenConns(20)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not ping %s: %w", driver, err)
	}
	return conn, nil
}

// OpenSQLiteMemory es el atajo que usan los tests de integración.
func OpenSQLiteMemory() (*sql.DB, error) {
	return Open(context.Background(), DriverSQLite, ":memory:")
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN añade busy_timeout y WAL a los ficheros en disco.
func sqliteDSN(dsn string) string {
	if isMemory(dsn) || strings.Contains(dsn, "_pragma") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// IsUniqueViolation detecta violaciones de clave única/primaria en SQLite y PostgreSQL.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// IsUniqueViolationOn afina IsUniqueViolation por nombre de columna o índice.
// Ambos motores incluyen el nombre en el mensaje (SQLite: "table.column", Postgres: nombre de la constraint).
func IsUniqueViolationOn(err error, names ...string) bool {
	if !IsUniqueViolation(err) {
		return false
	}
	msg := err.Error()
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg = pgErr.ConstraintName + " " + pgErr.Message
	}
	for _, n := range names {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// ToNanos / FromNanos: SQLite guarda los instantes como INTEGER (ns UTC) para que ordenar y filtrar sea exacto.
func ToNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func FromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// NullableNanos convierte un *time.Time opcional en un valor apto para SQL.
func NullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ToNanos(*t), Valid: true}
}

// FromNullableNanos es la inversa de NullableNanos.
func FromNullableNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromNanos(v.Int64)
	return &t
}
