package sync

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"sakilasync/internal/source"
	"sakilasync/internal/validate"
	"sakilasync/internal/warehouse"
	_ "sakilasync/internal/warehouse/sqlite"
)

// fakeSource serves fixture rows with the same since semantics as the real
// repository: strictly greater than, on last_update for dimensions and on the
// event date for rentals and payments.
type fakeSource struct {
	films          []source.Film
	actors         []source.Actor
	categories     []source.Category
	stores         []source.Store
	customers      []source.Customer
	filmActors     []source.FilmActor
	filmCategories []source.FilmCategory
	rentals        []source.Rental
	payments       []source.Payment
}

func (f *fakeSource) Films(_ context.Context, since time.Time) ([]source.Film, error) {
	var out []source.Film
	for _, v := range f.films {
		if v.LastUpdate.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) Actors(_ context.Context, since time.Time) ([]source.Actor, error) {
	var out []source.Actor
	for _, v := range f.actors {
		if v.LastUpdate.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) Categories(_ context.Context, since time.Time) ([]source.Category, error) {
	var out []source.Category
	for _, v := range f.categories {
		if v.LastUpdate.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) Stores(_ context.Context, since time.Time) ([]source.Store, error) {
	var out []source.Store
	for _, v := range f.stores {
		if v.LastUpdate.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) Customers(_ context.Context, since time.Time) ([]source.Customer, error) {
	var out []source.Customer
	for _, v := range f.customers {
		if v.LastUpdate.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) FilmActors(context.Context) ([]source.FilmActor, error) {
	return f.filmActors, nil
}

func (f *fakeSource) FilmCategories(context.Context) ([]source.FilmCategory, error) {
	return f.filmCategories, nil
}

func (f *fakeSource) Rentals(_ context.Context, since time.Time) ([]source.Rental, error) {
	var out []source.Rental
	for _, v := range f.rentals {
		if v.RentalDate.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) Payments(_ context.Context, since time.Time) ([]source.Payment, error) {
	var out []source.Payment
	for _, v := range f.payments {
		if v.PaymentDate.After(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) EntityCount(_ context.Context, entity string) (int64, error) {
	switch entity {
	case "film":
		return int64(len(f.films)), nil
	case "actor":
		return int64(len(f.actors)), nil
	case "category":
		return int64(len(f.categories)), nil
	case "store":
		return int64(len(f.stores)), nil
	case "customer":
		return int64(len(f.customers)), nil
	case "rental":
		return int64(len(f.rentals)), nil
	case "payment":
		return int64(len(f.payments)), nil
	}
	return 0, nil
}

func (f *fakeSource) PaymentTotal(context.Context) (float64, error) {
	var total float64
	for _, p := range f.payments {
		total += p.Amount
	}
	return total, nil
}

var _ Source = (*fakeSource)(nil)

var fixtureTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// newFixtureSource is two films sharing one actor, one category on the first
// film, one store, one customer, one returned rental and one payment.
func newFixtureSource() *fakeSource {
	rented := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	returned := rented.Add(72 * time.Hour)

	return &fakeSource{
		films: []source.Film{
			{FilmID: 1, Title: "ACADEMY DINOSAUR", Rating: ptr("PG"), Length: ptr(int32(86)), Language: "English", ReleaseYear: ptr(int32(2006)), LastUpdate: fixtureTime},
			{FilmID: 2, Title: "ACE GOLDFINGER", Language: "English", LastUpdate: fixtureTime},
		},
		actors: []source.Actor{
			{ActorID: 1, FirstName: "PENELOPE", LastName: "GUINESS", LastUpdate: fixtureTime},
		},
		categories: []source.Category{
			{CategoryID: 1, Name: "Documentary", LastUpdate: fixtureTime},
		},
		stores: []source.Store{
			{StoreID: 1, City: "Lethbridge", Country: "Canada", LastUpdate: fixtureTime},
		},
		customers: []source.Customer{
			{CustomerID: 1, FirstName: "MARY", LastName: "SMITH", Active: 1, City: "Sasebo", Country: "Japan", LastUpdate: fixtureTime},
		},
		filmActors: []source.FilmActor{
			{FilmID: 1, ActorID: 1},
			{FilmID: 2, ActorID: 1},
		},
		filmCategories: []source.FilmCategory{
			{FilmID: 1, CategoryID: 1},
		},
		rentals: []source.Rental{
			{RentalID: 1, RentalDate: rented, ReturnDate: &returned, CustomerID: 1, StaffID: 1, FilmID: 1, StoreID: 1},
		},
		payments: []source.Payment{
			{PaymentID: 1, CustomerID: 1, StaffID: 1, StoreID: ptr(int64(1)), Amount: 4.99, PaymentDate: rented},
		},
	}
}

// newTestWarehouse opens a file-backed SQLite warehouse with the schema in
// place, plus a second raw handle on the same file for row inspection.
func newTestWarehouse(t *testing.T) (warehouse.Repository, *sql.DB) {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "analytics.db")
	wh, err := warehouse.New(ctx, warehouse.Config{Kind: "sqlite", DSN: path})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(wh.Close)
	if err := wh.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	return wh, raw
}

func mustCount(t *testing.T, wh warehouse.Repository, table string) int64 {
	t.Helper()
	n, err := wh.Count(context.Background(), table)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestFullLoadBuildsStarSchema(t *testing.T) {
	ctx := context.Background()
	src := newFixtureSource()
	wh, raw := newTestWarehouse(t)

	if err := NewEngine(src, wh, nil).FullLoad(ctx); err != nil {
		t.Fatal(err)
	}

	for table, want := range map[string]int64{
		"dim_film":             2,
		"dim_actor":            1,
		"dim_category":         1,
		"dim_store":            1,
		"dim_customer":         1,
		"bridge_film_actor":    2,
		"bridge_film_category": 1,
		"fact_rental":          1,
		"fact_payment":         1,
		"dim_date":             2, // rental/payment date plus return date
	} {
		if got := mustCount(t, wh, table); got != want {
			t.Errorf("%s has %d rows, want %d", table, got, want)
		}
	}

	// The fact must point at the film actually rented.
	var title string
	var duration int64
	err := raw.QueryRow(`
		SELECT f.title, fr.rental_duration_days
		FROM fact_rental fr JOIN dim_film f ON f.film_key = fr.film_key`,
	).Scan(&title, &duration)
	if err != nil {
		t.Fatal(err)
	}
	if title != "ACADEMY DINOSAUR" {
		t.Errorf("fact_rental resolved film %q, want ACADEMY DINOSAUR", title)
	}
	if duration != 3 {
		t.Errorf("rental_duration_days = %d, want 3", duration)
	}

	// No fact or bridge row may reference a missing dimension or date row.
	for name, q := range map[string]string{
		"fact_rental film": `SELECT COUNT(*) FROM fact_rental fr
			LEFT JOIN dim_film f ON f.film_key = fr.film_key WHERE f.film_key IS NULL`,
		"fact_rental rented date": `SELECT COUNT(*) FROM fact_rental fr
			LEFT JOIN dim_date d ON d.date_key = fr.date_key_rented WHERE d.date_key IS NULL`,
		"fact_payment customer": `SELECT COUNT(*) FROM fact_payment fp
			LEFT JOIN dim_customer c ON c.customer_key = fp.customer_key WHERE c.customer_key IS NULL`,
		"bridge actor": `SELECT COUNT(*) FROM bridge_film_actor b
			LEFT JOIN dim_actor a ON a.actor_key = b.actor_key WHERE a.actor_key IS NULL`,
	} {
		var dangling int64
		if err := raw.QueryRow(q).Scan(&dangling); err != nil {
			t.Fatal(err)
		}
		if dangling != 0 {
			t.Errorf("%s: %d dangling references", name, dangling)
		}
	}

	// Every entity watermark must be set after the pass.
	tx, err := wh.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)
	for _, entity := range Entities {
		if _, ok, err := tx.Watermark(ctx, entity); err != nil || !ok {
			t.Errorf("watermark %s: ok=%v err=%v, want a stored timestamp", entity, ok, err)
		}
	}
}

func TestFullLoadTwiceKeepsSurrogateKeysStable(t *testing.T) {
	ctx := context.Background()
	src := newFixtureSource()
	wh, raw := newTestWarehouse(t)
	eng := NewEngine(src, wh, nil)

	filmKey := func() int64 {
		var k int64
		if err := raw.QueryRow(`SELECT film_key FROM dim_film WHERE film_id = 1`).Scan(&k); err != nil {
			t.Fatal(err)
		}
		return k
	}

	if err := eng.FullLoad(ctx); err != nil {
		t.Fatal(err)
	}
	first := filmKey()

	if err := eng.FullLoad(ctx); err != nil {
		t.Fatal(err)
	}
	if second := filmKey(); second != first {
		t.Fatalf("film_key changed across full loads: %d then %d", first, second)
	}

	for _, table := range []string{"dim_film", "bridge_film_actor", "fact_rental", "fact_payment"} {
		want := map[string]int64{"dim_film": 2, "bridge_film_actor": 2, "fact_rental": 1, "fact_payment": 1}[table]
		if got := mustCount(t, wh, table); got != want {
			t.Errorf("%s has %d rows after the second load, want %d", table, got, want)
		}
	}
}

func TestFullLoadSkipsUnresolvableFacts(t *testing.T) {
	ctx := context.Background()
	src := newFixtureSource()
	// A rental for a store the source no longer exposes, and a payment whose
	// rental linkage is broken.
	src.rentals = append(src.rentals, source.Rental{
		RentalID: 2, RentalDate: fixtureTime, CustomerID: 1, StaffID: 1, FilmID: 1, StoreID: 99,
	})
	src.payments = append(src.payments, source.Payment{
		PaymentID: 2, CustomerID: 1, StaffID: 1, StoreID: nil, Amount: 2.99, PaymentDate: fixtureTime,
	})
	wh, _ := newTestWarehouse(t)

	if err := NewEngine(src, wh, nil).FullLoad(ctx); err != nil {
		t.Fatal(err)
	}

	if got := mustCount(t, wh, "fact_rental"); got != 1 {
		t.Errorf("fact_rental has %d rows, want 1 (unresolvable rental skipped)", got)
	}
	if got := mustCount(t, wh, "fact_payment"); got != 1 {
		t.Errorf("fact_payment has %d rows, want 1 (storeless payment skipped)", got)
	}
}

func TestIncrementalPropagatesChanges(t *testing.T) {
	ctx := context.Background()
	src := newFixtureSource()
	wh, raw := newTestWarehouse(t)
	eng := NewEngine(src, wh, nil)

	if err := eng.FullLoad(ctx); err != nil {
		t.Fatal(err)
	}

	// Watermarks hold the pass-start wall clock, so changed rows must be
	// stamped after it.
	later := time.Now().UTC().Add(time.Minute)

	src.films = append(src.films, source.Film{
		FilmID: 3, Title: "ADAPTATION HOLES", Language: "English", LastUpdate: later,
	})
	src.customers[0].FirstName = "MARIA"
	src.customers[0].LastUpdate = later
	// Open-ended rental of a film synced in the previous pass; the engine must
	// resolve the existing dimension keys from the repository.
	src.rentals = append(src.rentals, source.Rental{
		RentalID: 2, RentalDate: later, CustomerID: 1, StaffID: 2, FilmID: 1, StoreID: 1,
	})
	src.payments = append(src.payments, source.Payment{
		PaymentID: 2, CustomerID: 1, StaffID: 2, StoreID: ptr(int64(1)), Amount: 0.99, PaymentDate: later,
	})

	if err := eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}

	for table, want := range map[string]int64{
		"dim_film":     3,
		"dim_customer": 1,
		"fact_rental":  2,
		"fact_payment": 2,
		// Bridges are full-load only.
		"bridge_film_actor": 2,
	} {
		if got := mustCount(t, wh, table); got != want {
			t.Errorf("%s has %d rows, want %d", table, got, want)
		}
	}

	// The customer row was overwritten in place, not duplicated.
	var name string
	if err := raw.QueryRow(`SELECT first_name FROM dim_customer WHERE customer_id = 1`).Scan(&name); err != nil {
		t.Fatal(err)
	}
	if name != "MARIA" {
		t.Errorf("dim_customer.first_name = %q, want MARIA", name)
	}

	// The open rental has no return date and no duration.
	var returnedKey, duration sql.NullInt64
	err := raw.QueryRow(`
		SELECT date_key_returned, rental_duration_days FROM fact_rental WHERE rental_id = 2`,
	).Scan(&returnedKey, &duration)
	if err != nil {
		t.Fatal(err)
	}
	if returnedKey.Valid || duration.Valid {
		t.Errorf("open rental stored return data: key=%v duration=%v", returnedKey, duration)
	}
}

func TestIncrementalNeverRegressesWatermarks(t *testing.T) {
	ctx := context.Background()
	src := newFixtureSource()
	wh, _ := newTestWarehouse(t)
	eng := NewEngine(src, wh, nil)

	if err := eng.FullLoad(ctx); err != nil {
		t.Fatal(err)
	}

	readWatermarks := func() map[string]time.Time {
		tx, err := wh.Begin(ctx)
		if err != nil {
			t.Fatal(err)
		}
		defer tx.Rollback(ctx)
		out := map[string]time.Time{}
		for _, entity := range Entities {
			ts, ok, err := tx.Watermark(ctx, entity)
			if err != nil || !ok {
				t.Fatalf("watermark %s: ok=%v err=%v", entity, ok, err)
			}
			out[entity] = ts
		}
		return out
	}

	before := readWatermarks()
	if err := eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}
	after := readWatermarks()

	for _, entity := range Entities {
		if after[entity].Before(before[entity]) {
			t.Errorf("watermark %s moved backwards: %v then %v", entity, before[entity], after[entity])
		}
	}
}

func TestFullLoadThenValidatePasses(t *testing.T) {
	ctx := context.Background()
	src := newFixtureSource()
	wh, _ := newTestWarehouse(t)

	if err := NewEngine(src, wh, nil).FullLoad(ctx); err != nil {
		t.Fatal(err)
	}

	rep, err := validate.New(src, wh).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Outcome() != "PASSED" {
		t.Fatalf("validation outcome = %q, want PASSED (warnings=%v errors=%v)",
			rep.Outcome(), rep.Warnings, rep.Errors)
	}
}

func TestIncrementalWithoutChangesIsANoop(t *testing.T) {
	ctx := context.Background()
	src := newFixtureSource()
	wh, _ := newTestWarehouse(t)
	eng := NewEngine(src, wh, nil)

	if err := eng.FullLoad(ctx); err != nil {
		t.Fatal(err)
	}
	before := mustCount(t, wh, "fact_rental") + mustCount(t, wh, "fact_payment") + mustCount(t, wh, "dim_film")

	if err := eng.Incremental(ctx); err != nil {
		t.Fatal(err)
	}
	after := mustCount(t, wh, "fact_rental") + mustCount(t, wh, "fact_payment") + mustCount(t, wh, "dim_film")

	if before != after {
		t.Fatalf("row totals changed with no source changes: %d then %d", before, after)
	}
}
