// Package search implements the two-level score-aggregation pipeline:
// every stored embedding is compared against the query embedding of its
// model, per-model scores reduce to one score per datapoint, and
// per-datapoint scores reduce to one score per entity.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/LD-Reborn/embeddingsearch/pkg/cache"
	"github.com/LD-Reborn/embeddingsearch/pkg/database"
	"github.com/LD-Reborn/embeddingsearch/pkg/embedding"
	"github.com/LD-Reborn/embeddingsearch/pkg/probmethod"
)

// ErrCancelled is returned when a query observes cancellation. Nothing is
// written to the search cache in that case.
var ErrCancelled = errors.New("search: cancelled")

// Engine scores entities against a query. Parallel selects the sharded
// worker path; the single-threaded path produces identical output and
// exists for determinism in tests.
type Engine struct {
	Embedder embedding.Embedder
	Registry *probmethod.Registry
	Logger   *slog.Logger
	Parallel bool
	// Workers overrides the shard count; 0 means one shard per logical CPU.
	Workers int
}

// Search scores every entity and returns the full ranked list, best first.
// Ties keep the entity order of the input, which hydration yields in
// entity-id order. The entity list is treated as a read-only snapshot; the
// only structure workers mutate is the per-query embedding memo.
func (e *Engine) Search(ctx context.Context, query string, entities []*database.Entity) ([]cache.Result, error) {
	memo := embedding.NewMemo()

	var results []cache.Result
	if e.Parallel && len(entities) > 1 {
		var err error
		results, err = e.searchParallel(ctx, memo, query, entities)
		if err != nil {
			return nil, err
		}
	} else {
		results = make([]cache.Result, 0, len(entities))
		for _, entity := range entities {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			r, err := e.scoreEntity(ctx, memo, query, entity)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// searchParallel shards the entity list across workers. Each shard scores
// into its own slot, so concatenating in shard order preserves the input
// order and keeps tie-breaking identical to the serial path.
func (e *Engine) searchParallel(ctx context.Context, memo *embedding.Memo, query string, entities []*database.Entity) ([]cache.Result, error) {
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(entities) {
		workers = len(entities)
	}

	shards := make([][]cache.Result, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		lo := w * len(entities) / workers
		hi := (w + 1) * len(entities) / workers
		g.Go(func() error {
			shard := make([]cache.Result, 0, hi-lo)
			for _, entity := range entities[lo:hi] {
				if err := gctx.Err(); err != nil {
					return fmt.Errorf("%w: %w", ErrCancelled, err)
				}
				r, err := e.scoreEntity(gctx, memo, query, entity)
				if err != nil {
					return err
				}
				shard = append(shard, r)
			}
			shards[w] = shard
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]cache.Result, 0, len(entities))
	for _, shard := range shards {
		results = append(results, shard...)
	}
	return results, nil
}

// scoreEntity runs the two reduction levels for one entity.
func (e *Engine) scoreEntity(ctx context.Context, memo *embedding.Memo, query string, entity *database.Entity) (cache.Result, error) {
	entityScores := make([]probmethod.Score, 0, len(entity.Datapoints))
	for _, dp := range entity.Datapoints {
		modelScores := make([]probmethod.Score, 0, len(dp.Embeddings))
		for _, em := range dp.Embeddings {
			queryVector, err := memo.GetOrCompute(ctx, e.Embedder, em.Model, query)
			if err != nil {
				return cache.Result{}, fmt.Errorf("query embedding for model %q: %w", em.Model, err)
			}
			stored, err := embedding.Unpack(em.Embedding)
			if err != nil {
				return cache.Result{}, fmt.Errorf("stored embedding %d: %w", em.ID, err)
			}
			similarity, err := embedding.Cosine(queryVector, stored)
			if err != nil {
				return cache.Result{}, fmt.Errorf("compare against embedding %d (model %q): %w", em.ID, em.Model, err)
			}
			modelScores = append(modelScores, probmethod.Score{Name: em.Model, Value: similarity})
		}
		dpScore, err := e.Registry.Reduce(dp.ProbmethodEmbedding, modelScores)
		if err != nil {
			return cache.Result{}, fmt.Errorf("datapoint %q: %w", dp.Name, err)
		}
		entityScores = append(entityScores, probmethod.Score{Name: dp.Name, Value: dpScore})
	}
	score, err := e.Registry.Reduce(entity.Probmethod, entityScores)
	if err != nil {
		return cache.Result{}, fmt.Errorf("entity %q: %w", entity.Name, err)
	}
	return cache.Result{Score: score, Name: entity.Name}, nil
}
