package sync

import (
	"context"

	"sakilasync/internal/warehouse"
)

// dimension binds a source entity to its dimension table and key columns.
type dimension struct {
	Entity    string // watermark entity name
	Table     string
	Surrogate string
	Business  string
}

var (
	filmDim     = dimension{Entity: "film", Table: "dim_film", Surrogate: "film_key", Business: "film_id"}
	actorDim    = dimension{Entity: "actor", Table: "dim_actor", Surrogate: "actor_key", Business: "actor_id"}
	categoryDim = dimension{Entity: "category", Table: "dim_category", Surrogate: "category_key", Business: "category_id"}
	storeDim    = dimension{Entity: "store", Table: "dim_store", Surrogate: "store_key", Business: "store_id"}
	customerDim = dimension{Entity: "customer", Table: "dim_customer", Surrogate: "customer_key", Business: "customer_id"}
)

// resolver maps business keys to dimension surrogate keys.
//
// The in-memory cache is populated after every dimension upsert in the current
// pass, so full loads never re-query the warehouse for keys they just minted.
// When a transaction is attached (incremental passes), cache misses fall back
// to a point lookup, since most referenced dimensions were not touched in the
// current pass.
//
// "Not found" is a normal outcome, not an error: the caller skips the
// dependent row.
type resolver struct {
	tx    warehouse.Tx // nil disables repository lookups
	cache map[string]map[int64]int64
}

func newResolver(tx warehouse.Tx) *resolver {
	return &resolver{tx: tx, cache: map[string]map[int64]int64{}}
}

func (r *resolver) add(d dimension, businessID, key int64) {
	m := r.cache[d.Table]
	if m == nil {
		m = map[int64]int64{}
		r.cache[d.Table] = m
	}
	m[businessID] = key
}

func (r *resolver) resolve(ctx context.Context, d dimension, businessID int64) (int64, bool, error) {
	if key, ok := r.cache[d.Table][businessID]; ok {
		return key, true, nil
	}
	if r.tx == nil {
		return 0, false, nil
	}
	key, ok, err := r.tx.LookupKey(ctx, d.Table, d.Surrogate, d.Business, businessID)
	if err != nil || !ok {
		return 0, ok, err
	}
	r.add(d, businessID, key)
	return key, true, nil
}
