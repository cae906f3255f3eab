// Package probmethod holds the registry of probability-combination methods:
// named reductions from a list of similarity scores to a single scalar.
// The same registry serves both aggregation levels of a search — per
// datapoint (one score per model) and per entity (one score per datapoint).
package probmethod

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned when a probmethod name is not registered.
var ErrUnknown = errors.New("probmethod: unknown method")

// Score is one input to a reduction. Name is the position the score came
// from: the model name at the embedding level, the datapoint name at the
// entity level. Parameterised methods weight scores by this name.
type Score struct {
	Name  string
	Value float64
}

// Func reduces a list of scores to a scalar. params is the raw text after
// the first ':' in the method name, empty for unparameterised calls; methods
// that take no parameters ignore it.
type Func func(params string, scores []Score) (float64, error)

// Registry maps method names to reduction functions. Dispatch is by exact
// match on the part of the name before the first ':'.
type Registry struct {
	methods map[string]Func
}

// NewRegistry returns a registry preloaded with the built-in methods.
func NewRegistry() *Registry {
	r := &Registry{methods: make(map[string]Func)}
	r.Register("weighted_average", WeightedAverage)
	r.Register("wavg", WeightedAverage)
	r.Register("HVEWAvg", HVEWAvg)
	r.Register("DictionaryWeightedAverage", DictionaryWeightedAverage)
	return r
}

// Register adds or replaces a method. Registering additional methods is the
// primary extension point of the engine.
func (r *Registry) Register(name string, fn Func) {
	r.methods[name] = fn
}

// Has reports whether a method is registered under name. The name must be
// the base name, without any parameter suffix.
func (r *Registry) Has(name string) bool {
	_, ok := r.methods[name]
	return ok
}

// Reduce applies the named method. The name grammar is `method` or
// `method:<json-object>`; the suffix is passed through to the method
// unparsed.
func (r *Registry) Reduce(name string, scores []Score) (float64, error) {
	base, params, _ := strings.Cut(name, ":")
	fn, ok := r.methods[base]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknown, base)
	}
	return fn(params, scores)
}

// fact is the confidence weight 1/(1-x). It grows without bound as x
// approaches 1, which is what lets a single high-confidence score dominate
// the average.
func fact(x float64) float64 {
	return 1 / (1 - x)
}

// WeightedAverage is the default reduction: each score is weighted by its
// own confidence factor. Any input at or above 1 short-circuits to 1.
func WeightedAverage(_ string, scores []Score) (float64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	var num, den float64
	for _, s := range scores {
		if s.Value >= 1 {
			return 1, nil
		}
		f := fact(s.Value)
		num += s.Value * f
		den += f
	}
	return num / den, nil
}

// HVEWAvg is the harmonic variant of WeightedAverage: it combines the
// distances-from-certainty (1-x) harmonically, so HVEWAvg([x]) == x and the
// result is monotone in every input.
func HVEWAvg(_ string, scores []Score) (float64, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range scores {
		if s.Value >= 1 {
			return 1, nil
		}
		sum += fact(s.Value)
	}
	return 1 - float64(len(scores))/sum, nil
}

// DictionaryWeightedAverage is the parameterised mean
// `DictionaryWeightedAverage:{"name": weight, ...}`. Scores are weighted by
// the entry matching their position name; names absent from the dictionary
// weigh 1.
func DictionaryWeightedAverage(params string, scores []Score) (float64, error) {
	weights := map[string]float64{}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &weights); err != nil {
			return 0, fmt.Errorf("probmethod: bad weight dictionary %q: %w", params, err)
		}
	}
	if len(scores) == 0 {
		return 0, nil
	}
	var num, den float64
	for _, s := range scores {
		w, ok := weights[s.Name]
		if !ok {
			w = 1
		}
		num += s.Value * w
		den += w
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}
