package vectorindex

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch uses shorter", []float32{1, 0, 5}, []float32{1, 0}, 1},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestRank_Scenario(t *testing.T) {
	records := []Record{
		{ID: "A", Embedding: []float32{1, 0, 0}},
		{ID: "B", Embedding: []float32{0, 1, 0}},
		{ID: "C", Embedding: []float32{0.9, 0.1, 0}},
	}

	results := Rank(records, []float32{1, 0, 0}, 2, 0.9)

	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, "C", results[1].ID)
	assert.InDelta(t, 0.9939, results[1].Similarity, 1e-3)
}

func TestRank_EmptyAndZeroTopK(t *testing.T) {
	assert.Equal(t, []SearchResult{}, Rank(nil, []float32{1}, 3, 0))
	assert.Equal(t, []SearchResult{}, Rank([]Record{{ID: "A", Embedding: []float32{1}}}, []float32{1}, 0, 0))
}

func TestRank_StableTies(t *testing.T) {
	records := []Record{
		{ID: "first", Embedding: []float32{1, 0}},
		{ID: "second", Embedding: []float32{2, 0}},
		{ID: "third", Embedding: []float32{3, 0}},
	}

	results := Rank(records, []float32{1, 0}, 3, 0)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{results[0].ID, results[1].ID, results[2].ID})
}

func TestRank_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randVec := func() []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	records := make([]Record, 200)
	for i := range records {
		records[i] = Record{ID: string(rune('a' + i%26)), Embedding: randVec()}
	}

	for i := 0; i < 20; i++ {
		query := randVec()
		topK := 1 + rng.Intn(10)
		threshold := rng.Float64()*1.2 - 0.6

		results := Rank(records, query, topK, threshold)

		assert.LessOrEqual(t, len(results), topK)
		for j, r := range results {
			assert.GreaterOrEqual(t, r.Similarity, threshold)
			if j > 0 {
				assert.LessOrEqual(t, r.Similarity, results[j-1].Similarity)
			}
		}
	}
}

func TestRank_SelfMatchRanksFirst(t *testing.T) {
	target := []float32{0.3, -0.2, 0.9}
	records := []Record{
		{ID: "other", Embedding: []float32{0.3, 0.2, 0.9}},
		{ID: "self", Embedding: target},
	}

	results := Rank(records, target, 1, 0.99)

	require.Len(t, results, 1)
	assert.Equal(t, "self", results[0].ID)
}

func TestRoundSimilarity(t *testing.T) {
	assert.Equal(t, 0.99, RoundSimilarity(0.9939))
	assert.Equal(t, 0.5, RoundSimilarity(0.499))
	assert.False(t, math.IsNaN(RoundSimilarity(0)))
}
