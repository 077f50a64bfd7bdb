package sync

import (
	"context"
	"fmt"
	"time"

	"sakilasync/internal/warehouse"
)

var (
	filmColumns     = []string{"film_id", "title", "rating", "length", "language", "release_year", "last_update"}
	actorColumns    = []string{"actor_id", "first_name", "last_name", "last_update"}
	categoryColumns = []string{"category_id", "name", "last_update"}
	storeColumns    = []string{"store_id", "city", "country", "last_update"}
	customerColumns = []string{"customer_id", "first_name", "last_name", "active", "city", "country", "last_update"}
)

// syncFilms upserts one dim_film row per changed source film and feeds the
// resolver with the minted (or pre-existing) surrogate keys.
func (e *Engine) syncFilms(ctx context.Context, tx warehouse.Tx, res *resolver, since time.Time, mode string) (int, error) {
	defer observeStep("dim_film", time.Now())

	films, err := e.src.Films(ctx, since)
	if err != nil {
		return 0, err
	}
	for _, f := range films {
		key, err := tx.UpsertReturningKey(ctx, filmDim.Table, filmDim.Business, filmDim.Surrogate, filmColumns, []any{
			f.FilmID, f.Title, nullString(f.Rating), nullInt32(f.Length), f.Language, nullInt32(f.ReleaseYear), f.LastUpdate,
		})
		if err != nil {
			return 0, fmt.Errorf("sync dim_film: %w", err)
		}
		res.add(filmDim, f.FilmID, key)
	}
	countRows(filmDim.Table, mode, len(films))
	e.log.Infow("synced dim_film", "rows", len(films))
	return len(films), nil
}

func (e *Engine) syncActors(ctx context.Context, tx warehouse.Tx, res *resolver, since time.Time, mode string) (int, error) {
	defer observeStep("dim_actor", time.Now())

	actors, err := e.src.Actors(ctx, since)
	if err != nil {
		return 0, err
	}
	for _, a := range actors {
		key, err := tx.UpsertReturningKey(ctx, actorDim.Table, actorDim.Business, actorDim.Surrogate, actorColumns, []any{
			a.ActorID, a.FirstName, a.LastName, a.LastUpdate,
		})
		if err != nil {
			return 0, fmt.Errorf("sync dim_actor: %w", err)
		}
		res.add(actorDim, a.ActorID, key)
	}
	countRows(actorDim.Table, mode, len(actors))
	e.log.Infow("synced dim_actor", "rows", len(actors))
	return len(actors), nil
}

func (e *Engine) syncCategories(ctx context.Context, tx warehouse.Tx, res *resolver, since time.Time, mode string) (int, error) {
	defer observeStep("dim_category", time.Now())

	categories, err := e.src.Categories(ctx, since)
	if err != nil {
		return 0, err
	}
	for _, c := range categories {
		key, err := tx.UpsertReturningKey(ctx, categoryDim.Table, categoryDim.Business, categoryDim.Surrogate, categoryColumns, []any{
			c.CategoryID, c.Name, c.LastUpdate,
		})
		if err != nil {
			return 0, fmt.Errorf("sync dim_category: %w", err)
		}
		res.add(categoryDim, c.CategoryID, key)
	}
	countRows(categoryDim.Table, mode, len(categories))
	e.log.Infow("synced dim_category", "rows", len(categories))
	return len(categories), nil
}

// syncStores denormalizes city and country from the source's current address
// chain; the values are whatever the source holds at read time.
func (e *Engine) syncStores(ctx context.Context, tx warehouse.Tx, res *resolver, since time.Time, mode string) (int, error) {
	defer observeStep("dim_store", time.Now())

	stores, err := e.src.Stores(ctx, since)
	if err != nil {
		return 0, err
	}
	for _, s := range stores {
		key, err := tx.UpsertReturningKey(ctx, storeDim.Table, storeDim.Business, storeDim.Surrogate, storeColumns, []any{
			s.StoreID, s.City, s.Country, s.LastUpdate,
		})
		if err != nil {
			return 0, fmt.Errorf("sync dim_store: %w", err)
		}
		res.add(storeDim, s.StoreID, key)
	}
	countRows(storeDim.Table, mode, len(stores))
	e.log.Infow("synced dim_store", "rows", len(stores))
	return len(stores), nil
}

func (e *Engine) syncCustomers(ctx context.Context, tx warehouse.Tx, res *resolver, since time.Time, mode string) (int, error) {
	defer observeStep("dim_customer", time.Now())

	customers, err := e.src.Customers(ctx, since)
	if err != nil {
		return 0, err
	}
	for _, c := range customers {
		key, err := tx.UpsertReturningKey(ctx, customerDim.Table, customerDim.Business, customerDim.Surrogate, customerColumns, []any{
			c.CustomerID, c.FirstName, c.LastName, c.Active, c.City, c.Country, c.LastUpdate,
		})
		if err != nil {
			return 0, fmt.Errorf("sync dim_customer: %w", err)
		}
		res.add(customerDim, c.CustomerID, key)
	}
	countRows(customerDim.Table, mode, len(customers))
	e.log.Infow("synced dim_customer", "rows", len(customers))
	return len(customers), nil
}
