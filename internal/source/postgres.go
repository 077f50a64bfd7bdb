package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo reads the operational schema over pgx. All methods are read-only.
//
// The since parameter filters on the entity's change timestamp (strictly
// greater than). A zero time matches every row, so full load and incremental
// share one query per entity.
type Repo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Repo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Ping(ctx context.Context) error { return r.pool.Ping(ctx) }

func (r *Repo) Films(ctx context.Context, since time.Time) ([]Film, error) {
	const q = `
		SELECT f.film_id, f.title, f.rating::text, f.length, btrim(l.name), f.release_year, f.last_update
		FROM film f
		JOIN language l ON l.language_id = f.language_id
		WHERE f.last_update > $1
		ORDER BY f.film_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("source: films: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (Film, error) {
		var f Film
		err := rs.Scan(&f.FilmID, &f.Title, &f.Rating, &f.Length, &f.Language, &f.ReleaseYear, &f.LastUpdate)
		return f, err
	})
}

func (r *Repo) Actors(ctx context.Context, since time.Time) ([]Actor, error) {
	const q = `
		SELECT actor_id, first_name, last_name, last_update
		FROM actor
		WHERE last_update > $1
		ORDER BY actor_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("source: actors: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (Actor, error) {
		var a Actor
		err := rs.Scan(&a.ActorID, &a.FirstName, &a.LastName, &a.LastUpdate)
		return a, err
	})
}

func (r *Repo) Categories(ctx context.Context, since time.Time) ([]Category, error) {
	const q = `
		SELECT category_id, name, last_update
		FROM category
		WHERE last_update > $1
		ORDER BY category_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("source: categories: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (Category, error) {
		var c Category
		err := rs.Scan(&c.CategoryID, &c.Name, &c.LastUpdate)
		return c, err
	})
}

func (r *Repo) Stores(ctx context.Context, since time.Time) ([]Store, error) {
	const q = `
		SELECT s.store_id, c.city, co.country, s.last_update
		FROM store s
		JOIN address a ON a.address_id = s.address_id
		JOIN city c ON c.city_id = a.city_id
		JOIN country co ON co.country_id = c.country_id
		WHERE s.last_update > $1
		ORDER BY s.store_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("source: stores: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (Store, error) {
		var s Store
		err := rs.Scan(&s.StoreID, &s.City, &s.Country, &s.LastUpdate)
		return s, err
	})
}

func (r *Repo) Customers(ctx context.Context, since time.Time) ([]Customer, error) {
	const q = `
		SELECT cu.customer_id, cu.first_name, cu.last_name, COALESCE(cu.active, 0),
		       c.city, co.country, cu.last_update
		FROM customer cu
		JOIN address a ON a.address_id = cu.address_id
		JOIN city c ON c.city_id = a.city_id
		JOIN country co ON co.country_id = c.country_id
		WHERE cu.last_update > $1
		ORDER BY cu.customer_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("source: customers: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (Customer, error) {
		var c Customer
		err := rs.Scan(&c.CustomerID, &c.FirstName, &c.LastName, &c.Active, &c.City, &c.Country, &c.LastUpdate)
		return c, err
	})
}

func (r *Repo) FilmActors(ctx context.Context) ([]FilmActor, error) {
	rows, err := r.pool.Query(ctx, `SELECT film_id, actor_id FROM film_actor`)
	if err != nil {
		return nil, fmt.Errorf("source: film_actor: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (FilmActor, error) {
		var fa FilmActor
		err := rs.Scan(&fa.FilmID, &fa.ActorID)
		return fa, err
	})
}

func (r *Repo) FilmCategories(ctx context.Context) ([]FilmCategory, error) {
	rows, err := r.pool.Query(ctx, `SELECT film_id, category_id FROM film_category`)
	if err != nil {
		return nil, fmt.Errorf("source: film_category: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (FilmCategory, error) {
		var fc FilmCategory
		err := rs.Scan(&fc.FilmID, &fc.CategoryID)
		return fc, err
	})
}

func (r *Repo) Rentals(ctx context.Context, since time.Time) ([]Rental, error) {
	const q = `
		SELECT r.rental_id, r.rental_date, r.return_date, r.customer_id, r.staff_id,
		       i.film_id, i.store_id
		FROM rental r
		JOIN inventory i ON i.inventory_id = r.inventory_id
		WHERE r.rental_date > $1
		ORDER BY r.rental_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("source: rentals: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (Rental, error) {
		var rr Rental
		err := rs.Scan(&rr.RentalID, &rr.RentalDate, &rr.ReturnDate, &rr.CustomerID, &rr.StaffID, &rr.FilmID, &rr.StoreID)
		return rr, err
	})
}

func (r *Repo) Payments(ctx context.Context, since time.Time) ([]Payment, error) {
	// LEFT JOINs: a payment may have no rental, and a rental row referenced by
	// a payment may lack inventory. StoreID stays nil in those cases and the
	// fact synchronizer skips the payment.
	const q = `
		SELECT p.payment_id, p.customer_id, p.staff_id, i.store_id, p.amount, p.payment_date
		FROM payment p
		LEFT JOIN rental r ON r.rental_id = p.rental_id
		LEFT JOIN inventory i ON i.inventory_id = r.inventory_id
		WHERE p.payment_date > $1
		ORDER BY p.payment_id`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("source: payments: %w", err)
	}
	return collect(rows, func(rs pgx.Rows) (Payment, error) {
		var p Payment
		err := rs.Scan(&p.PaymentID, &p.CustomerID, &p.StaffID, &p.StoreID, &p.Amount, &p.PaymentDate)
		return p, err
	})
}

// entityTables maps validator entity names to source tables. It doubles as a
// whitelist so EntityCount never interpolates arbitrary strings.
var entityTables = map[string]string{
	"film":     "film",
	"actor":    "actor",
	"category": "category",
	"store":    "store",
	"customer": "customer",
	"rental":   "rental",
	"payment":  "payment",
}

func (r *Repo) EntityCount(ctx context.Context, entity string) (int64, error) {
	table, ok := entityTables[entity]
	if !ok {
		return 0, fmt.Errorf("source: unknown entity %q", entity)
	}
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

func (r *Repo) PaymentTotal(ctx context.Context) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx, "SELECT COALESCE(SUM(amount), 0)::float8 FROM payment").Scan(&total)
	return total, err
}

// collect drains a pgx result set into a slice using a per-row scan function.
func collect[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
