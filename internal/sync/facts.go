package sync

import (
	"context"
	"fmt"
	"time"

	"sakilasync/internal/source"
	"sakilasync/internal/warehouse"
)

var (
	factRentalColumns = []string{
		"rental_id", "date_key_rented", "date_key_returned",
		"film_key", "store_key", "customer_key", "staff_id", "rental_duration_days",
	}
	factPaymentColumns = []string{
		"payment_id", "date_key_paid", "customer_key", "store_key", "staff_id", "amount",
	}
)

// durationDays is the whole number of days between two timestamps. It is only
// meaningful when both rental and return date are present; callers must not
// derive a duration from partial data.
func durationDays(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// syncRentals upserts one fact_rental row per source rental whose film, store
// and customer dimensions all resolve. Unresolvable rentals are skipped
// silently; they are counted, never written with placeholder keys.
func (e *Engine) syncRentals(ctx context.Context, tx warehouse.Tx, res *resolver, rentals []source.Rental, mode string) error {
	defer observeStep("fact_rental", time.Now())

	loaded, skipped := 0, 0
	for _, r := range rentals {
		filmKey, okF, err := res.resolve(ctx, filmDim, r.FilmID)
		if err != nil {
			return err
		}
		storeKey, okS, err := res.resolve(ctx, storeDim, r.StoreID)
		if err != nil {
			return err
		}
		customerKey, okC, err := res.resolve(ctx, customerDim, r.CustomerID)
		if err != nil {
			return err
		}
		if !okF || !okS || !okC {
			skipped++
			continue
		}

		var returnedKey, duration any
		if r.ReturnDate != nil {
			returnedKey = DateKey(*r.ReturnDate)
			duration = durationDays(r.RentalDate, *r.ReturnDate)
		}

		err = tx.Upsert(ctx, "fact_rental", []string{"rental_id"}, factRentalColumns, []any{
			r.RentalID, DateKey(r.RentalDate), returnedKey,
			filmKey, storeKey, customerKey, r.StaffID, duration,
		})
		if err != nil {
			return fmt.Errorf("sync fact_rental: %w", err)
		}
		loaded++
	}
	countRows("fact_rental", mode, loaded)
	countSkips("fact_rental", skipped)
	e.log.Infow("synced fact_rental", "rows", loaded, "skipped", skipped)
	return nil
}

// syncPayments upserts one fact_payment row per source payment whose customer
// and store dimensions resolve. A payment reaches its store only through the
// originating rental's inventory; payments without that linkage are skipped,
// never written with a null store key.
func (e *Engine) syncPayments(ctx context.Context, tx warehouse.Tx, res *resolver, payments []source.Payment, mode string) error {
	defer observeStep("fact_payment", time.Now())

	loaded, skipped := 0, 0
	for _, p := range payments {
		customerKey, okC, err := res.resolve(ctx, customerDim, p.CustomerID)
		if err != nil {
			return err
		}
		var (
			storeKey int64
			okS      bool
		)
		if p.StoreID != nil {
			storeKey, okS, err = res.resolve(ctx, storeDim, *p.StoreID)
			if err != nil {
				return err
			}
		}
		if !okC || !okS {
			skipped++
			continue
		}

		err = tx.Upsert(ctx, "fact_payment", []string{"payment_id"}, factPaymentColumns, []any{
			p.PaymentID, DateKey(p.PaymentDate), customerKey, storeKey, p.StaffID, p.Amount,
		})
		if err != nil {
			return fmt.Errorf("sync fact_payment: %w", err)
		}
		loaded++
	}
	countRows("fact_payment", mode, loaded)
	countSkips("fact_payment", skipped)
	e.log.Infow("synced fact_payment", "rows", loaded, "skipped", skipped)
	return nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt32(v *int32) any {
	if v == nil {
		return nil
	}
	return *v
}
