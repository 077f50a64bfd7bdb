package sync

import (
	"context"
	"time"

	"sakilasync/internal/warehouse"
)

// DateRow is one dim_date record. The surrogate key is the deterministic
// integer YYYYMMDD, so fact rows can reference a date before the row is known
// to exist and repeated derivation of the same date is naturally idempotent.
type DateRow struct {
	Key        int
	Date       time.Time // midnight UTC
	Year       int
	Quarter    int
	Month      int
	DayOfMonth int
	DayOfWeek  int // 0=Monday .. 6=Sunday
	IsWeekend  bool
}

// DateKey derives the YYYYMMDD key from a timestamp's calendar date.
func DateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// NewDateRow builds the full dim_date record for a timestamp's calendar date.
func NewDateRow(t time.Time) DateRow {
	y, m, d := t.Date()
	dow := (int(t.Weekday()) + 6) % 7
	return DateRow{
		Key:        y*10000 + int(m)*100 + d,
		Date:       time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Year:       y,
		Quarter:    (int(m)-1)/3 + 1,
		Month:      int(m),
		DayOfMonth: d,
		DayOfWeek:  dow,
		IsWeekend:  dow >= 5,
	}
}

var dateColumns = []string{
	"date_key", "date", "year", "quarter", "month", "day_of_month", "day_of_week", "is_weekend",
}

func upsertDate(ctx context.Context, tx warehouse.Tx, row DateRow) error {
	return tx.Upsert(ctx, "dim_date",
		[]string{"date_key"},
		dateColumns,
		[]any{row.Key, row.Date, row.Year, row.Quarter, row.Month, row.DayOfMonth, row.DayOfWeek, row.IsWeekend},
	)
}
