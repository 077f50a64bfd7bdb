package sync

import (
	"context"
	"fmt"
	"time"

	"sakilasync/internal/warehouse"
)

// syncBridges rebuilds the film↔actor and film↔category bridge tables.
//
// Bridges are refreshed by full load only; incremental passes leave them
// untouched (a known limitation carried over from the source system's
// behavior). Association rows whose endpoints cannot both be resolved are
// skipped without error.
func (e *Engine) syncBridges(ctx context.Context, tx warehouse.Tx, res *resolver) error {
	defer observeStep("bridges", time.Now())

	filmActors, err := e.src.FilmActors(ctx)
	if err != nil {
		return err
	}
	faLoaded, faSkipped := 0, 0
	for _, fa := range filmActors {
		filmKey, okF, err := res.resolve(ctx, filmDim, fa.FilmID)
		if err != nil {
			return err
		}
		actorKey, okA, err := res.resolve(ctx, actorDim, fa.ActorID)
		if err != nil {
			return err
		}
		if !okF || !okA {
			faSkipped++
			continue
		}
		pair := []string{"film_key", "actor_key"}
		if err := tx.Upsert(ctx, "bridge_film_actor", pair, pair, []any{filmKey, actorKey}); err != nil {
			return fmt.Errorf("sync bridge_film_actor: %w", err)
		}
		faLoaded++
	}
	countRows("bridge_film_actor", "full", faLoaded)
	countSkips("bridge_film_actor", faSkipped)
	e.log.Infow("synced bridge_film_actor", "rows", faLoaded, "skipped", faSkipped)

	filmCategories, err := e.src.FilmCategories(ctx)
	if err != nil {
		return err
	}
	fcLoaded, fcSkipped := 0, 0
	for _, fc := range filmCategories {
		filmKey, okF, err := res.resolve(ctx, filmDim, fc.FilmID)
		if err != nil {
			return err
		}
		categoryKey, okC, err := res.resolve(ctx, categoryDim, fc.CategoryID)
		if err != nil {
			return err
		}
		if !okF || !okC {
			fcSkipped++
			continue
		}
		pair := []string{"film_key", "category_key"}
		if err := tx.Upsert(ctx, "bridge_film_category", pair, pair, []any{filmKey, categoryKey}); err != nil {
			return fmt.Errorf("sync bridge_film_category: %w", err)
		}
		fcLoaded++
	}
	countRows("bridge_film_category", "full", fcLoaded)
	countSkips("bridge_film_category", fcSkipped)
	e.log.Infow("synced bridge_film_category", "rows", fcLoaded, "skipped", fcSkipped)

	return nil
}
