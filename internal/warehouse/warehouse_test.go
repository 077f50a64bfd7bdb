package warehouse

import (
	"context"
	"strings"
	"testing"
)

func TestNewRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{Kind: "oracle"}); err == nil {
		t.Fatal("expected an error for an unregistered kind")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected an error for an empty kind")
	}
}

func TestRegisterGuards(t *testing.T) {
	t.Parallel()

	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		fn()
	}

	mustPanic("empty kind", func() { Register("", func(context.Context, Config) (Repository, error) { return nil, nil }) })
	mustPanic("nil factory", func() { Register("test-nil", nil) })

	Register("test-dup", func(context.Context, Config) (Repository, error) { return nil, nil })
	mustPanic("duplicate kind", func() {
		Register("test-dup", func(context.Context, Config) (Repository, error) { return nil, nil })
	})
}

func TestSchemaDeclaresEveryStarTable(t *testing.T) {
	t.Parallel()

	want := []string{
		"dim_date", "dim_film", "dim_actor", "dim_category", "dim_store", "dim_customer",
		"bridge_film_actor", "bridge_film_category",
		"fact_rental", "fact_payment", "sync_state",
	}
	got := make(map[string]TableSpec, len(Tables))
	for _, tbl := range Tables {
		got[tbl.Name] = tbl
	}
	for _, name := range want {
		tbl, ok := got[name]
		if !ok {
			t.Errorf("schema missing table %s", name)
			continue
		}
		// Facts and dimensions carry a uniqueness guarantee on their business
		// identity, either via the primary key or a unique constraint.
		if tbl.Key == nil && len(tbl.Unique) == 0 {
			t.Errorf("%s has neither a key nor a unique constraint", name)
		}
	}
	if len(Tables) != len(want) {
		t.Errorf("schema declares %d tables, want %d", len(Tables), len(want))
	}

	for _, tbl := range Tables {
		if strings.HasPrefix(tbl.Name, "dim_") && tbl.Name != "dim_date" {
			if tbl.Key == nil || !tbl.Key.Auto {
				t.Errorf("%s must use an auto surrogate key", tbl.Name)
			}
		}
	}
}
