package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"sakilasync/internal/warehouse"
)

// Repo implements warehouse.Repository for Microsoft SQL Server.
//
// Upserts are implemented with MERGE statements; the returning variant uses
// OUTPUT inserted.<key>, which yields the surrogate key for both the matched
// and the not-matched branch.
type Repo struct {
	db *sql.DB
}

func init() {
	warehouse.Register("mssql", New)
}

func New(ctx context.Context, cfg warehouse.Config) (warehouse.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range warehouse.Tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+msIdent(table)).Scan(&n)
	return n, err
}

func (r *Repo) Sum(ctx context.Context, table string, column string) (float64, error) {
	q := fmt.Sprintf("SELECT COALESCE(SUM(CAST(%s AS FLOAT)), 0) FROM %s", msIdent(column), msIdent(table))
	var total float64
	err := r.db.QueryRowContext(ctx, q).Scan(&total)
	return total, err
}

func (r *Repo) DuplicateKeyCount(ctx context.Context, table string, keyColumn string) (int64, error) {
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS d",
		msIdent(keyColumn), msIdent(table), msIdent(keyColumn),
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

// Tx implements warehouse.Tx on a single SQL Server transaction.
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
	q, err := buildMergeSQL(table, conflictColumns, columns, "")
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, q, values...); err != nil {
		return fmt.Errorf("mssql: upsert %s: %w", table, err)
	}
	return nil
}

func (t *Tx) UpsertReturningKey(ctx context.Context, table string, conflictColumn string, surrogateColumn string, columns []string, values []any) (int64, error) {
	q, err := buildMergeSQL(table, []string{conflictColumn}, columns, surrogateColumn)
	if err != nil {
		return 0, err
	}
	var key int64
	if err := t.tx.QueryRowContext(ctx, q, values...).Scan(&key); err != nil {
		return 0, fmt.Errorf("mssql: upsert %s: %w", table, err)
	}
	return key, nil
}

func (t *Tx) LookupKey(ctx context.Context, table string, surrogateColumn string, businessColumn string, businessKey any) (int64, bool, error) {
	q := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = @p1",
		msIdent(surrogateColumn), msIdent(table), msIdent(businessColumn),
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
	var ts time.Time
	err := t.tx.QueryRowContext(ctx,
		"SELECT [last_sync_timestamp] FROM [sync_state] WHERE [entity_name] = @p1", entity,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
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

func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

func columnType(spec string) string {
	switch spec {
	case "int":
		return "INT"
	case "bigint":
		return "BIGINT"
	case "text":
		return "NVARCHAR(255)"
	case "date":
		return "DATE"
	case "timestamp":
		return "DATETIMEOFFSET"
	case "bool":
		return "BIT"
	case "numeric(5,2)":
		return "DECIMAL(5,2)"
	default:
		return strings.ToUpper(spec)
	}
}

func buildCreateTableSQL(t warehouse.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.Key != nil {
		if t.Key.Auto {
			parts = append(parts, fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", msIdent(t.Key.Name)))
		} else {
			keyType := columnType(t.Key.Type)
			if t.Key.Type == "text" {
				// NVARCHAR(MAX) cannot be a key column.
				keyType = "NVARCHAR(100)"
			}
			parts = append(parts, fmt.Sprintf("%s %s PRIMARY KEY", msIdent(t.Key.Name), keyType))
		}
	}
	for _, c := range t.Columns {
		col := fmt.Sprintf("%s %s", msIdent(c.Name), columnType(c.Type))
		if c.NotNull {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	for _, u := range t.Unique {
		cols := make([]string, 0, len(u))
		for _, c := range u {
			cols = append(cols, msIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n  %s\n);",
		t.Name, msIdent(t.Name), strings.Join(parts, ",\n  "),
	), nil
}

// buildMergeSQL constructs a single-row MERGE upsert with @pN placeholders.
//
// Shape:
//
//	MERGE [t] AS t USING (VALUES (@p1, ...)) AS s (cols...)
//	ON t.k = s.k [AND ...]
//	WHEN MATCHED THEN UPDATE SET t.c = s.c, ...
//	WHEN NOT MATCHED THEN INSERT (cols...) VALUES (s.c, ...)
//	[OUTPUT inserted.key];
//
// The WHEN MATCHED branch is omitted when every column is part of the merge
// key (bridge tables), which makes the statement insert-or-ignore.
func buildMergeSQL(table string, conflictColumns []string, columns []string, returning string) (string, error) {
	if len(columns) == 0 {
		return "", fmt.Errorf("mssql: upsert %s: no columns", table)
	}
	if len(conflictColumns) == 0 {
		return "", fmt.Errorf("mssql: upsert %s: no conflict columns", table)
	}

	update := updateColumns(columns, conflictColumns)
	if returning != "" && len(update) == 0 {
		return "", fmt.Errorf("mssql: upsert %s: conflict column is the only column", table)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE %s AS t USING (VALUES (", msIdent(table))
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(")) AS s (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") ON ")
	for i, c := range conflictColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "t.%s = s.%s", msIdent(c), msIdent(c))
	}

	if len(update) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		for i, c := range update {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "t.%s = s.%s", msIdent(c), msIdent(c))
		}
	}

	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") VALUES (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "s.%s", msIdent(c))
	}
	b.WriteString(")")

	if returning != "" {
		fmt.Fprintf(&b, " OUTPUT inserted.%s", msIdent(returning))
	}
	b.WriteString(";")
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
