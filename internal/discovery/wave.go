package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
)

// Wave fans a discovery trigger out into per-state city batches. The batch
// index rotates deterministically with the UTC day and hour, so every city
// gets covered over time without any cursor state.
type Wave struct {
	store  directory.Store
	queue  queue.Provider
	clock  directory.Clock
	logger *zap.Logger
	cfg    config.DiscoveryConfig
}

// NewWave wires a wave runner.
func NewWave(store directory.Store, q queue.Provider, clock directory.Clock, logger *zap.Logger, cfg config.DiscoveryConfig) *Wave {
	return &Wave{store: store, queue: q, clock: clock, logger: logger, cfg: cfg}
}

// Run enqueues one city batch per active state, bounded by MaxBatchesPerRun.
func (w *Wave) Run(ctx context.Context) error {
	if len(w.cfg.ActiveStateSlugs) == 0 {
		w.logger.Info("discovery wave skipped, no active states")
		return nil
	}

	states, err := w.store.Geo().StatesBySlugs(ctx, w.cfg.ActiveStateSlugs)
	if err != nil {
		return fmt.Errorf("load active states: %w", err)
	}

	now := w.clock.Now().UTC()
	enqueued := 0
	for _, state := range states {
		if enqueued >= w.cfg.MaxBatchesPerRun {
			w.logger.Warn("discovery wave hit batch cap",
				zap.Int("max_batches", w.cfg.MaxBatchesPerRun))
			break
		}

		cities, err := w.store.Geo().CitiesForState(ctx, state.ID)
		if err != nil {
			return fmt.Errorf("load cities for %s: %w", state.Slug, err)
		}
		if len(cities) == 0 {
			continue
		}

		batches := (len(cities) + w.cfg.CityBatchSize - 1) / w.cfg.CityBatchSize
		index := BatchIndex(state.Slug, now, batches)

		start := index * w.cfg.CityBatchSize
		end := start + w.cfg.CityBatchSize
		if end > len(cities) {
			end = len(cities)
		}
		slugs := make([]string, 0, end-start)
		for _, c := range cities[start:end] {
			slugs = append(slugs, c.Slug)
		}

		inserted, err := w.queue.Enqueue(ctx, queue.TypeDiscoverCityBatch,
			queue.CityBatchKey(state.Slug, now, index),
			queue.CityBatchPayload{StateSlug: state.Slug, CitySlugs: slugs, BatchIndex: index})
		if err != nil {
			return fmt.Errorf("enqueue city batch for %s: %w", state.Slug, err)
		}
		if inserted {
			enqueued++
			w.logger.Info("discovery city batch enqueued",
				zap.String("state", state.Slug),
				zap.Int("batch_index", index),
				zap.Int("cities", len(slugs)))
		}
	}
	return nil
}

// BatchIndex selects which city batch a state works this hour. The day seed
// shuffles the starting point; the hour walks forward from it.
func BatchIndex(stateSlug string, at time.Time, totalBatches int) int {
	if totalBatches <= 0 {
		return 0
	}
	at = at.UTC()
	seed := stableHash(stateSlug + ":" + at.Format("20060102"))
	return int((seed + uint32(at.Hour())) % uint32(totalBatches))
}
