package embedding

import (
	"context"
	"sync"
)

// Embedder is the single operation search workers need from the embedding
// service.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Memo caches the query-side embedding per model for the duration of one
// query, so a scan over many entities embeds the query once per model
// instead of once per stored embedding. It is mutated concurrently by
// search workers; a raced compute is resolved last-writer-wins, which is
// harmless because the embedding of a fixed (model, text) pair is
// deterministic within tolerance.
type Memo struct {
	vectors sync.Map // model → []float32
}

// NewMemo creates an empty memo. Its lifetime is exactly one query.
func NewMemo() *Memo {
	return &Memo{}
}

// GetOrCompute returns the memoized query vector for model, computing and
// storing it via e on first use.
func (m *Memo) GetOrCompute(ctx context.Context, e Embedder, model, text string) ([]float32, error) {
	if v, ok := m.vectors.Load(model); ok {
		return v.([]float32), nil
	}
	vec, err := e.Embed(ctx, model, text)
	if err != nil {
		return nil, err
	}
	m.vectors.Store(model, vec)
	return vec, nil
}
