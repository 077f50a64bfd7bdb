package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sakilasync/internal/warehouse"
)

// Repo implements warehouse.Repository for Postgres.
//
// Upserts use INSERT ... ON CONFLICT ... DO UPDATE ... RETURNING so a
// re-upserted business key always yields its original surrogate key.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	warehouse.Register("postgres", New)
}

func New(ctx context.Context, cfg warehouse.Config) (warehouse.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range warehouse.Tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgIdent(table)).Scan(&n)
	return n, err
}

func (r *Repo) Sum(ctx context.Context, table string, column string) (float64, error) {
	q := fmt.Sprintf("SELECT COALESCE(SUM(%s), 0)::float8 FROM %s", pgIdent(column), pgIdent(table))
	var total float64
	err := r.pool.QueryRow(ctx, q).Scan(&total)
	return total, err
}

func (r *Repo) DuplicateKeyCount(ctx context.Context, table string, keyColumn string) (int64, error) {
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS d",
		pgIdent(keyColumn), pgIdent(table), pgIdent(keyColumn),
	)
	var n int64
	err := r.pool.QueryRow(ctx, q).Scan(&n)
	return n, err
}

func (r *Repo) Begin(ctx context.Context) (warehouse.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements warehouse.Tx on a single pgx transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *Tx) Upsert(ctx context.Context, table string, conflictColumns []string, columns []string, values []any) error {
	q, err := buildUpsertSQL(table, conflictColumns, columns, "")
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, q, values...); err != nil {
		return fmt.Errorf("postgres: upsert %s: %w", table, err)
	}
	return nil
}

func (t *Tx) UpsertReturningKey(ctx context.Context, table string, conflictColumn string, surrogateColumn string, columns []string, values []any) (int64, error) {
	q, err := buildUpsertSQL(table, []string{conflictColumn}, columns, surrogateColumn)
	if err != nil {
		return 0, err
	}
	var key int64
	if err := t.tx.QueryRow(ctx, q, values...).Scan(&key); err != nil {
		return 0, fmt.Errorf("postgres: upsert %s: %w", table, err)
	}
	return key, nil
}

func (t *Tx) LookupKey(ctx context.Context, table string, surrogateColumn string, businessColumn string, businessKey any) (int64, bool, error) {
	q := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1",
		pgIdent(surrogateColumn), pgIdent(table), pgIdent(businessColumn),
	)
	var key int64
	err := t.tx.QueryRow(ctx, q, businessKey).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return key, true, nil
}

func (t *Tx) Watermark(ctx context.Context, entity string) (time.Time, bool, error) {
	var ts time.Time
	err := t.tx.QueryRow(ctx,
		`SELECT last_sync_timestamp FROM sync_state WHERE entity_name = $1`, entity,
	).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts.UTC(), true, nil
}

func (t *Tx) SetWatermark(ctx context.Context, entity string, ts time.Time) error {
	return t.Upsert(ctx, "sync_state",
		[]string{"entity_name"},
		[]string{"entity_name", "last_sync_timestamp"},
		[]any{entity, ts.UTC()},
	)
}

// ---- SQL builders (pure; unit tested without a database) ----

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func columnType(spec string) string {
	switch spec {
	case "int":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "text":
		return "TEXT"
	case "date":
		return "DATE"
	case "timestamp":
		return "TIMESTAMPTZ"
	case "bool":
		return "BOOLEAN"
	default:
		return strings.ToUpper(spec)
	}
}

func buildCreateTableSQL(t warehouse.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}

	var parts []string
	if t.Key != nil {
		if t.Key.Auto {
			parts = append(parts, fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", pgIdent(t.Key.Name)))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", pgIdent(t.Key.Name), columnType(t.Key.Type)))
		}
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", pgIdent(c.Name), columnType(c.Type))
		if c.NotNull {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	for _, u := range t.Unique {
		cols := make([]string, 0, len(u))
		for _, c := range u {
			cols = append(cols, pgIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

// buildUpsertSQL constructs a single-row upsert with numbered placeholders.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering and ON CONFLICT
//     behavior can be unit tested without a database.
//
// When returning is non-empty a RETURNING clause is appended; that requires a
// DO UPDATE action, otherwise the conflicting row would yield no result.
func buildUpsertSQL(table string, conflictColumns []string, columns []string, returning string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("postgres: upsert %s: no columns", table)
	}
	if len(conflictColumns) == 0 {
		return "", fmt.Errorf("postgres: upsert %s: no conflict columns", table)
	}

	update := updateColumns(columns, conflictColumns)
	if returning != "" && len(update) == 0 {
		return "", fmt.Errorf("postgres: upsert %s: conflict column is the only column", table)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") ON CONFLICT (")
	for i, c := range conflictColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(")")

	if len(update) == 0 {
		b.WriteString(" DO NOTHING")
		return b.String(), nil
	}

	b.WriteString(" DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	if returning != "" {
		b.WriteString(" RETURNING ")
		b.WriteString(pgIdent(returning))
	}
	return b.String(), nil
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
