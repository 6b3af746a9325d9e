package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens a SQLite database through the pure-Go modernc driver.
//
// SQLite allows a single writer, so the handle is limited to one connection:
// transactions queue on the pool instead of failing with SQLITE_BUSY.
// Callers must not use the *sql.DB while holding one of its transactions.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return conn, nil
}

func withPragmas(dsn string) string {
	if dsn == "" || dsn == ":memory:" {
		dsn = "file::memory:"
	}
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// SQLHealth adapts a *sql.DB to the Ping(ctx) health check used by the router.
type SQLHealth struct {
	DB *sql.DB
}

// Ping checks the database connection.
func (h SQLHealth) Ping(ctx context.Context) error {
	return h.DB.PingContext(ctx)
}
