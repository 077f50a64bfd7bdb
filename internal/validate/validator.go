// Package validate cross-checks the analytical schema against the operational
// source after a sync pass.
package validate

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sakilasync/internal/warehouse"
)

// Tolerance is the maximum absolute drift allowed between the source payment
// total and the fact_payment sum. Drift strictly above it is an error; drift
// at or below it is accepted (float accumulation noise).
const Tolerance = 0.01

// SourceStats is the read-only view of the operational schema the validator
// needs. *source.Repo implements it; tests substitute fixtures.
type SourceStats interface {
	EntityCount(ctx context.Context, entity string) (int64, error)
	PaymentTotal(ctx context.Context) (float64, error)
}

// Validator compares source row counts, payment totals and warehouse key
// uniqueness, and classifies every finding as a warning or an error.
type Validator struct {
	src SourceStats
	wh  warehouse.Repository
	p   *message.Printer
}

func New(src SourceStats, wh warehouse.Repository) *Validator {
	return &Validator{src: src, wh: wh, p: message.NewPrinter(language.English)}
}

// Report is the outcome of one validation run.
//
// Classification:
//   - count mismatches are warnings (legitimate: skipped facts, source rows
//     deleted after sync)
//   - payment sum drift beyond Tolerance is an error
//   - duplicate business keys in the warehouse are errors (upsert invariant
//     broken)
type Report struct {
	Details  []string
	Warnings []string
	Errors   []string
}

func (r *Report) Failed() bool { return len(r.Errors) > 0 }

func (r *Report) Outcome() string {
	switch {
	case len(r.Errors) > 0:
		return "FAILED"
	case len(r.Warnings) > 0:
		return "PASSED WITH WARNINGS"
	default:
		return "PASSED"
	}
}

// countChecks pairs each source entity with the warehouse table that mirrors
// it one-to-one.
var countChecks = []struct {
	entity string
	table  string
}{
	{"film", "dim_film"},
	{"actor", "dim_actor"},
	{"category", "dim_category"},
	{"store", "dim_store"},
	{"customer", "dim_customer"},
	{"rental", "fact_rental"},
	{"payment", "fact_payment"},
}

// keyChecks lists the business key column that must be unique per warehouse
// table. Bridge tables enforce uniqueness on the pair via their schema and are
// not re-checked here.
var keyChecks = []struct {
	table string
	key   string
}{
	{"dim_date", "date_key"},
	{"dim_film", "film_id"},
	{"dim_actor", "actor_id"},
	{"dim_category", "category_id"},
	{"dim_store", "store_id"},
	{"dim_customer", "customer_id"},
	{"fact_rental", "rental_id"},
	{"fact_payment", "payment_id"},
}

// Run executes every check. It returns an error only when a check could not be
// executed at all (connectivity, bad SQL); findings land in the Report.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	rep := &Report{}

	for _, c := range countChecks {
		srcN, err := v.src.EntityCount(ctx, c.entity)
		if err != nil {
			return nil, fmt.Errorf("validate: count source %s: %w", c.entity, err)
		}
		whN, err := v.wh.Count(ctx, c.table)
		if err != nil {
			return nil, fmt.Errorf("validate: count %s: %w", c.table, err)
		}
		line := v.p.Sprintf("%s: source=%d warehouse=%d", c.table, srcN, whN)
		rep.Details = append(rep.Details, line)
		if srcN != whN {
			rep.Warnings = append(rep.Warnings,
				v.p.Sprintf("row count mismatch for %s: source has %d, warehouse has %d", c.table, srcN, whN))
		}
	}

	srcTotal, err := v.src.PaymentTotal(ctx)
	if err != nil {
		return nil, fmt.Errorf("validate: source payment total: %w", err)
	}
	whTotal, err := v.wh.Sum(ctx, "fact_payment", "amount")
	if err != nil {
		return nil, fmt.Errorf("validate: fact_payment sum: %w", err)
	}
	rep.Details = append(rep.Details, v.p.Sprintf("payment total: source=%.2f warehouse=%.2f", srcTotal, whTotal))
	if diff := math.Abs(srcTotal - whTotal); diff > Tolerance {
		rep.Errors = append(rep.Errors,
			v.p.Sprintf("payment total drift %.4f exceeds tolerance %.2f (source=%.2f warehouse=%.2f)",
				diff, Tolerance, srcTotal, whTotal))
	}

	for _, c := range keyChecks {
		dups, err := v.wh.DuplicateKeyCount(ctx, c.table, c.key)
		if err != nil {
			return nil, fmt.Errorf("validate: duplicates %s.%s: %w", c.table, c.key, err)
		}
		if dups > 0 {
			rep.Errors = append(rep.Errors,
				v.p.Sprintf("%d duplicate %s values in %s", dups, c.key, c.table))
		}
	}

	return rep, nil
}
