package rank

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lambda(v float64) *float64 { return &v }

func TestCosineSimilarity(t *testing.T) {
	t.Run("identical vectors score 1", func(t *testing.T) {
		v := []float32{0.3, 0.5, 0.2}
		require.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	})

	t.Run("orthogonal vectors score 0", func(t *testing.T) {
		require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		a, b := []float32{1, 2, 3}, []float32{3, 1, 2}
		require.Equal(t, CosineSimilarity(a, b), CosineSimilarity(b, a))
	})

	t.Run("degenerate inputs score 0", func(t *testing.T) {
		require.Zero(t, CosineSimilarity(nil, nil))
		require.Zero(t, CosineSimilarity([]float32{1, 2}, []float32{1}))
		require.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	})
}

func TestMostRelevant(t *testing.T) {
	query := []float32{1, 0, 0}

	t.Run("empty candidates yield empty result", func(t *testing.T) {
		require.Empty(t, MostRelevant(query, nil, Options{}))
	})

	t.Run("bounded by max count", func(t *testing.T) {
		candidates := make([]Candidate, 20)
		for i := range candidates {
			candidates[i] = Candidate{ID: string(rune('a' + i)), Embedding: []float32{1, 0, 0}}
		}
		got := MostRelevant(query, candidates, Options{MaxCount: 5})
		require.Len(t, got, 5)
	})

	t.Run("min count floor survives a harsh threshold", func(t *testing.T) {
		// One strong outlier pushes the threshold above everything else;
		// MinCount still guarantees a result.
		candidates := []Candidate{
			{ID: "strong", Embedding: []float32{1, 0, 0}},
			{ID: "weak1", Embedding: []float32{0, 1, 0}},
			{ID: "weak2", Embedding: []float32{0, 0, 1}},
		}
		got := MostRelevant(query, candidates, Options{MinCount: 1})
		require.NotEmpty(t, got)
		require.Equal(t, "strong", got[0].ID)
	})

	t.Run("zero diversity weight orders by raw relevance", func(t *testing.T) {
		candidates := []Candidate{
			{ID: "mid", Embedding: []float32{1, 1, 0}},
			{ID: "best", Embedding: []float32{1, 0.1, 0}},
			{ID: "worst", Embedding: []float32{0.3, 1, 1}},
		}
		got := MostRelevant(query, candidates, Options{DiversityWeight: lambda(0), MinCount: 3, MaxCount: 3})
		require.Equal(t, "best", got[0].ID)
		require.Equal(t, "mid", got[1].ID)
		require.Equal(t, "worst", got[2].ID)
	})

	t.Run("diversity penalizes near-duplicates", func(t *testing.T) {
		candidates := []Candidate{
			{ID: "a", Embedding: []float32{1, 0, 0}},
			{ID: "a-dup", Embedding: []float32{1, 0, 0}},
			{ID: "b", Embedding: []float32{0.7, 0.7, 0}},
		}
		got := MostRelevant([]float32{1, 0.2, 0}, candidates, Options{MinCount: 3, MaxCount: 2, DiversityWeight: lambda(0.5)})
		require.Len(t, got, 2)
		require.Equal(t, "a", got[0].ID)
		// The near-duplicate of "a" loses to the more diverse "b".
		require.Equal(t, "b", got[1].ID)
	})

	t.Run("deterministic across runs", func(t *testing.T) {
		candidates := []Candidate{
			{ID: "x", Embedding: []float32{0.9, 0.1, 0}},
			{ID: "y", Embedding: []float32{0.8, 0.2, 0}},
			{ID: "z", Embedding: []float32{0.7, 0.3, 0}},
		}
		first := MostRelevant(query, candidates, Options{})
		for i := 0; i < 10; i++ {
			require.Equal(t, first, MostRelevant(query, candidates, Options{}))
		}
	})
}
