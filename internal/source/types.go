// Package source provides read-only access to the operational film-rental
// database. Rows are fetched with the denormalizing joins already applied
// (film→language, store/customer→address→city→country, rental→inventory,
// payment→rental→inventory), so callers never traverse relations themselves.
package source

import "time"

// Film is a source film row with its language name resolved.
type Film struct {
	FilmID      int64
	Title       string
	Rating      *string
	Length      *int32
	Language    string
	ReleaseYear *int32
	LastUpdate  time.Time
}

type Actor struct {
	ActorID    int64
	FirstName  string
	LastName   string
	LastUpdate time.Time
}

type Category struct {
	CategoryID int64
	Name       string
	LastUpdate time.Time
}

// Store carries the city and country strings resolved through the store's
// address at read time.
type Store struct {
	StoreID    int64
	City       string
	Country    string
	LastUpdate time.Time
}

type Customer struct {
	CustomerID int64
	FirstName  string
	LastName   string
	Active     int32
	City       string
	Country    string
	LastUpdate time.Time
}

// FilmActor and FilmCategory are association rows; they have no identity of
// their own.
type FilmActor struct {
	FilmID  int64
	ActorID int64
}

type FilmCategory struct {
	FilmID     int64
	CategoryID int64
}

// Rental is a rental event with the film and store resolved through the
// inventory row. Change detection uses RentalDate, not last_update, because
// last_update does not reliably change on row creation in the source system.
type Rental struct {
	RentalID   int64
	RentalDate time.Time
	ReturnDate *time.Time
	CustomerID int64
	StaffID    int32
	FilmID     int64
	StoreID    int64
}

// Payment is a payment event. StoreID is resolved transitively through the
// payment's rental and its inventory; it is nil when that linkage is missing.
type Payment struct {
	PaymentID   int64
	CustomerID  int64
	StaffID     int32
	StoreID     *int64
	Amount      float64
	PaymentDate time.Time
}
