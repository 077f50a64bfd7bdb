package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sakilasync/internal/warehouse"
)

// Repo implements warehouse.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native timestamp type; modernc.org/sqlite stores values
//     with TEXT affinity. All timestamps are therefore written as RFC3339Nano
//     strings and parsed back with a tolerant reader, which gives reliable
//     round-trip behavior and easy debugging.
//   - Surrogate keys use INTEGER PRIMARY KEY AUTOINCREMENT.
type Repo struct {
	db *sql.DB
}

func init() {
	warehouse.Register("sqlite", New)
}

func New(ctx context.Context, cfg warehouse.Config) (warehouse.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// An in-memory database exists per connection; pin the pool to one
	// connection so every statement sees the same database.
	if strings.Contains(cfg.DSN, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// EnsureSchema creates every analytical table if it does not exist.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range warehouse.Tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	return n, err
}

func (r *Repo) Sum(ctx context.Context, table string, column string) (float64, error) {
	q := fmt.Sprintf("SELECT COALESCE(SUM(%s), 0) FROM %s", sqlIdent(column), sqlIdent(table))
	var total float64
	err := r.db.QueryRowContext(ctx, q).Scan(&total)
	return total, err
}

func (r *Repo) DuplicateKeyCount(ctx context.Context, table string, keyColumn string) (int64, error) {
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS d",
		sqlIdent(keyColumn), sqlIdent(table), sqlIdent(keyColumn),
	)
	var n int64
	err := r.db.QueryRowContext(ctx, q).Scan(&n)
	return n, err
}

func (r *Repo) Begin(ctx context.Context) (warehouse.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements warehouse.Tx on a single SQLite transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *Tx) Upsert(ctx context.Context, table string, conflictColumns []string, columns []string, values []any) error {
	q, err := buildUpsertSQL(table, conflictColumns, columns)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, q, normalizeArgs(values)...)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", table, err)
	}
	return nil
}

func (t *Tx) UpsertReturningKey(ctx context.Context, table string, conflictColumn string, surrogateColumn string, columns []string, values []any) (int64, error) {
	q, err := buildUpsertReturningSQL(table, conflictColumn, surrogateColumn, columns)
	if err != nil {
		return 0, err
	}
	var key int64
	if err := t.tx.QueryRowContext(ctx, q, normalizeArgs(values)...).Scan(&key); err != nil {
		return 0, fmt.Errorf("sqlite: upsert %s: %w", table, err)
	}
	return key, nil
}

func (t *Tx) LookupKey(ctx context.Context, table string, surrogateColumn string, businessColumn string, businessKey any) (int64, bool, error) {
	q := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		sqlIdent(surrogateColumn), sqlIdent(table), sqlIdent(businessColumn),
	)
	var key int64
	err := t.tx.QueryRowContext(ctx, q, businessKey).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return key, true, nil
}

func (t *Tx) Watermark(ctx context.Context, entity string) (time.Time, bool, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx,
		`SELECT "last_sync_timestamp" FROM sync_state WHERE "entity_name" = ?`, entity,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ts, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite: sync_state.last_sync_timestamp for %q: %w", entity, err)
	}
	return ts, true, nil
}

func (t *Tx) SetWatermark(ctx context.Context, entity string, ts time.Time) error {
	return t.Upsert(ctx, "sync_state",
		[]string{"entity_name"},
		[]string{"entity_name", "last_sync_timestamp"},
		[]any{entity, ts},
	)
}

// ---- SQL builders (pure; unit tested without a database) ----

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func columnType(spec string) string {
	switch spec {
	case "int", "bigint", "bool":
		return "INTEGER"
	case "text", "date", "timestamp":
		return "TEXT"
	default:
		// numeric(p,s) and anything else keeps its declared affinity.
		return strings.ToUpper(spec)
	}
}

func buildCreateTableSQL(t warehouse.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}

	var parts []string
	if t.Key != nil {
		if t.Key.Auto {
			// INTEGER PRIMARY KEY is the rowid alias and auto-generates values.
			parts = append(parts, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.Key.Name)))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", sqlIdent(t.Key.Name), columnType(t.Key.Type)))
		}
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), columnType(c.Type))
		if c.NotNull {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	for _, u := range t.Unique {
		cols := make([]string, 0, len(u))
		for _, c := range u {
			cols = append(cols, sqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

// buildUpsertSQL generates INSERT ... ON CONFLICT (...) DO UPDATE SET ... with
// one ? placeholder per column. When every column is part of the conflict key
// there is nothing to update and the conflict action is DO NOTHING.
func buildUpsertSQL(table string, conflictColumns []string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("sqlite: upsert %s: no columns", table)
	}
	if len(conflictColumns) == 0 {
		return "", fmt.Errorf("sqlite: upsert %s: no conflict columns", table)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimRight(strings.Repeat("?,", len(columns)), ","))
	b.WriteString(") ON CONFLICT (")
	b.WriteString(joinIdents(conflictColumns))
	b.WriteString(")")

	update := updateColumns(columns, conflictColumns)
	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String(), nil
	}

	b.WriteString(" DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqlIdent(c))
	}
	return b.String(), nil
}

func buildUpsertReturningSQL(table string, conflictColumn string, surrogateColumn string, columns []string) (string, error) {
	update := updateColumns(columns, []string{conflictColumn})
	if len(update) == 0 {
		// RETURNING yields no row under DO NOTHING, so the surrogate key would
		// be lost on re-upsert. Dimensions always carry attribute columns.
		return "", fmt.Errorf("sqlite: upsert %s: conflict column is the only column", table)
	}
	q, err := buildUpsertSQL(table, []string{conflictColumn}, columns)
	if err != nil {
		return "", err
	}
	return q + " RETURNING " + sqlIdent(surrogateColumn), nil
}

func updateColumns(columns []string, conflictColumns []string) []string {
	conflict := make(map[string]bool, len(conflictColumns))
	for _, c := range conflictColumns {
		conflict[c] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !conflict[c] {
			out = append(out, c)
		}
	}
	return out
}

func joinIdents(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// normalizeArgs converts values into representations SQLite stores reliably:
// timestamps become RFC3339Nano text, booleans become 0/1.
func normalizeArgs(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		switch t := v.(type) {
		case time.Time:
			out[i] = formatTime(t)
		case bool:
			if t {
				out[i] = 1
			} else {
				out[i] = 0
			}
		default:
			out[i] = v
		}
	}
	return out
}

// formatTime formats a time as RFC3339Nano in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - RFC3339Nano (what we write)
//   - RFC3339
//   - Common "SQLite-like" formats used by other tools/libs:
//     "2006-01-02 15:04:05Z07:00"
//     "2006-01-02 15:04:05.999999999Z07:00"
//     "2006-01-02 15:04:05" (interpreted as UTC)
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02 15:04:05" {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
			continue
		}
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
