package probmethod

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scores(values ...float64) []Score {
	s := make([]Score, len(values))
	for i, v := range values {
		s[i] = Score{Value: v}
	}
	return s
}

func TestWeightedAverageSaturates(t *testing.T) {
	got, err := WeightedAverage("", scores(1, 0.1, 0.2))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestWeightedAverageSingleValue(t *testing.T) {
	for _, x := range []float64{0.05, 0.3, 0.75, 0.999} {
		got, err := WeightedAverage("", scores(x))
		require.NoError(t, err)
		assert.InDelta(t, x, got, 1e-12)
	}
}

func TestWeightedAverageMonotone(t *testing.T) {
	base := []float64{0.2, 0.5, 0.8}
	prev, err := WeightedAverage("", scores(base...))
	require.NoError(t, err)
	for i := range base {
		bumped := append([]float64{}, base...)
		bumped[i] += 0.1
		got, err := WeightedAverage("", scores(bumped...))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got, prev, "raising input %d must not lower the average", i)
	}
}

func TestWeightedAverageAmplifiesConfidence(t *testing.T) {
	// A 0.99 among mediocre scores should pull the result far above the
	// arithmetic mean.
	got, err := WeightedAverage("", scores(0.99, 0.1, 0.1))
	require.NoError(t, err)
	mean := (0.99 + 0.1 + 0.1) / 3
	assert.Greater(t, got, mean)
}

func TestHVEWAvgSingleValue(t *testing.T) {
	for _, x := range []float64{0.1, 0.5, 0.9} {
		got, err := HVEWAvg("", scores(x))
		require.NoError(t, err)
		assert.InDelta(t, x, got, 1e-12)
	}
}

func TestHVEWAvgSaturates(t *testing.T) {
	got, err := HVEWAvg("", scores(0.5, 1.0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestDictionaryWeightedAverage(t *testing.T) {
	in := []Score{
		{Name: "bge-m3", Value: 0.8},
		{Name: "nomic-embed-text", Value: 0.2},
	}
	got, err := DictionaryWeightedAverage(`{"bge-m3": 4, "nomic-embed-text": 1}`, in)
	require.NoError(t, err)
	want := (0.8*4 + 0.2*1) / 5
	assert.InDelta(t, want, got, 1e-12)
}

func TestDictionaryWeightedAverageDefaultsMissingNames(t *testing.T) {
	in := []Score{
		{Name: "title", Value: 0.6},
		{Name: "text", Value: 0.4},
	}
	got, err := DictionaryWeightedAverage(`{"title": 2}`, in)
	require.NoError(t, err)
	want := (0.6*2 + 0.4*1) / 3
	assert.InDelta(t, want, got, 1e-12)
}

func TestDictionaryWeightedAverageBadParams(t *testing.T) {
	_, err := DictionaryWeightedAverage(`{not json`, scores(0.5))
	assert.Error(t, err)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	got, err := r.Reduce("wavg", scores(0.5))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-12)

	got, err = r.Reduce(`DictionaryWeightedAverage:{"a": 2, "b": 1}`, []Score{
		{Name: "a", Value: 0.9},
		{Name: "b", Value: 0.3},
	})
	require.NoError(t, err)
	assert.InDelta(t, (0.9*2+0.3)/3, got, 1e-12)
}

func TestRegistryUnknownMethod(t *testing.T) {
	r := NewRegistry()
	_, err := r.Reduce("no_such_method", scores(0.5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknown))
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	r.Register("max", func(_ string, in []Score) (float64, error) {
		best := math.Inf(-1)
		for _, s := range in {
			best = math.Max(best, s.Value)
		}
		return best, nil
	})
	got, err := r.Reduce("max", scores(0.1, 0.9, 0.4))
	require.NoError(t, err)
	assert.Equal(t, 0.9, got)
}

func TestEmptyScores(t *testing.T) {
	for _, name := range []string{"wavg", "HVEWAvg", "DictionaryWeightedAverage"} {
		r := NewRegistry()
		got, err := r.Reduce(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, 0.0, got, name)
	}
}
