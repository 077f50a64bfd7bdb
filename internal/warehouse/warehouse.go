package warehouse

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to open an analytical repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic interface to the analytical (star schema)
// database.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the sync engine and validator need. Each backend implements these
// semantics in its own idiomatic way (Postgres ON CONFLICT, SQLite upserts,
// SQL Server MERGE, etc).
type Repository interface {
	// Close releases backend resources (connections, pools, etc).
	// Callers should treat Close as "call once" at process shutdown.
	Close()

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// EnsureSchema creates the star schema tables if they do not exist.
	// Idempotent; safe to run on every invocation.
	EnsureSchema(ctx context.Context) error

	// Begin opens the single atomic unit of work a sync pass runs inside.
	Begin(ctx context.Context) (Tx, error)

	// Read-side operations used by the validator. These run outside any pass
	// transaction.
	Count(ctx context.Context, table string) (int64, error)
	Sum(ctx context.Context, table string, column string) (float64, error)
	DuplicateKeyCount(ctx context.Context, table string, keyColumn string) (int64, error)
}

// Tx is one atomic unit of work against the analytical schema. Either Commit
// succeeds and every write in the pass becomes visible at once, or Rollback
// discards all of them.
type Tx interface {
	// Upsert inserts a row or overwrites the existing row matching
	// conflictColumns. When every column is a conflict column there is nothing
	// to overwrite and the operation degrades to insert-or-ignore (bridge
	// tables).
	Upsert(ctx context.Context, table string, conflictColumns []string, columns []string, values []any) error

	// UpsertReturningKey upserts a dimension row keyed on conflictColumn and
	// returns the row's surrogate key. The key is stable: re-upserting an
	// existing business key returns the original surrogate key.
	UpsertReturningKey(ctx context.Context, table string, conflictColumn string, surrogateColumn string, columns []string, values []any) (int64, error)

	// LookupKey returns the surrogate key for a business key, or false when
	// the dimension row does not exist. Absence is a normal outcome, not an
	// error.
	LookupKey(ctx context.Context, table string, surrogateColumn string, businessColumn string, businessKey any) (int64, bool, error)

	// Watermark returns the stored sync watermark for a source entity, or
	// false when the entity has never been synchronized.
	Watermark(ctx context.Context, entity string) (time.Time, bool, error)

	// SetWatermark overwrites the watermark for a source entity.
	SetWatermark(ctx context.Context, entity string, ts time.Time) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ---- backend factories ----

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a warehouse backend under a kind (e.g. "sqlite",
// "postgres", "mssql").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("warehouse: Register called with empty kind")
	}
	if f == nil {
		panic("warehouse: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("warehouse: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("warehouse: missing Kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported warehouse.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
