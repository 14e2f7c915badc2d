// Package duckstore holds the small set of DuckDB helpers shared by the
// ingest pipeline, the analysis commands and the exporter.
package duckstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
)

// Open opens the DuckDB database at path, verifies the connection with a
// short ping and applies the given memory limit ("" for DuckDB's default).
func Open(ctx context.Context, path, memoryLimit string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb (%s): %w", path, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb (%s): %w", path, err)
	}

	if memoryLimit != "" {
		if err := SetMemoryLimit(ctx, db, memoryLimit); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// SetMemoryLimit applies a DuckDB memory limit to an open connection.
func SetMemoryLimit(ctx context.Context, db *sql.DB, limit string) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA memory_limit='%s';", limit)); err != nil {
		return fmt.Errorf("failed to set memory limit %s: %w", limit, err)
	}
	return nil
}

// Querier is the subset of database/sql execution methods shared by
// *sql.DB, *sql.Conn and *sql.Tx. Code that must keep a sequence of
// statements on one connection takes a Querier and is handed a pinned
// *sql.Conn.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TableExists reports whether a table with the given name exists in the
// default schema.
func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	query := `SELECT 1 FROM information_schema.tables WHERE table_name = ? LIMIT 1;`
	var one int
	err := q.QueryRowContext(ctx, query, table).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed check table %s: %w", table, err)
	}
	return true, nil
}

// MaxInt64 evaluates MAX-style expr over table and returns the value.
// ok is false when the table is empty or every value is NULL.
func MaxInt64(ctx context.Context, q Querier, table, expr string) (value int64, ok bool, err error) {
	query := fmt.Sprintf(`SELECT MAX(%s) FROM %s;`, expr, QuoteIdent(table))
	var nullable sql.NullInt64
	if err := q.QueryRowContext(ctx, query).Scan(&nullable); err != nil {
		return 0, false, fmt.Errorf("failed query max(%s) on %s: %w", expr, table, err)
	}
	if !nullable.Valid {
		return 0, false, nil
	}
	return nullable.Int64, true, nil
}

// CountRows returns the total row count of table.
func CountRows(ctx context.Context, q Querier, table string) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s;`, QuoteIdent(table))
	var count int64
	if err := q.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed count rows in %s: %w", table, err)
	}
	return count, nil
}

// QuoteIdent quotes an identifier for use in DuckDB SQL.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral escapes a string for use as a single-quoted SQL literal.
func QuoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// PathLiteral converts a local path into a DuckDB-friendly quoted literal;
// DuckDB wants forward slashes even on Windows.
func PathLiteral(p string) string {
	return QuoteLiteral(strings.ReplaceAll(p, `\`, `/`))
}
