package sync

import (
	"context"
	"fmt"
	"time"

	"sakilasync/internal/warehouse"
)

// Entities are the source entities tracked in sync_state. Rental and payment
// watermarks cut on the event timestamp (rental_date / payment_date); the
// dimensions cut on last_update.
var Entities = []string{"film", "actor", "category", "store", "customer", "rental", "payment"}

// watermarkOrZero reads an entity's watermark, treating "never synchronized"
// as the zero time so the caller's strictly-greater-than filter matches every
// row.
func watermarkOrZero(ctx context.Context, tx warehouse.Tx, entity string) (time.Time, error) {
	ts, ok, err := tx.Watermark(ctx, entity)
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark %s: %w", entity, err)
	}
	if !ok {
		return time.Time{}, nil
	}
	return ts, nil
}

// setAllWatermarks overwrites every entity's watermark with the timestamp
// captured at pass start. Rows modified while the pass ran stay ahead of the
// watermark and are reprocessed next time, which is safe because every write
// is an idempotent upsert; rows are never missed.
func setAllWatermarks(ctx context.Context, tx warehouse.Tx, ts time.Time) error {
	for _, entity := range Entities {
		if err := tx.SetWatermark(ctx, entity, ts); err != nil {
			return fmt.Errorf("set watermark %s: %w", entity, err)
		}
	}
	return nil
}
