package vectorindex

import (
	"cmp"
	"math"
	"slices"
)

// CosineSimilarity は dot(a,b)/(‖a‖·‖b‖) を返します。
// 長さが異なる場合は短い方の次元までで計算し、どちらかのノルムが0なら0を返します。
func CosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))

	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank は records 全件との類似度を計算し、threshold 以上を降順で最大 topK 件返します。
// 類似度が等しい場合は records の順序を保ちます。
func Rank(records []Record, query []float32, topK int, threshold float64) []SearchResult {
	if topK <= 0 || len(records) == 0 {
		return []SearchResult{}
	}

	results := make([]SearchResult, 0, len(records))
	for _, r := range records {
		sim := CosineSimilarity(query, r.Embedding)
		if sim < threshold {
			continue
		}
		results = append(results, SearchResult{
			ID:           r.ID,
			DocumentID:   r.DocumentID,
			DocumentName: r.DocumentName,
			Content:      r.Content,
			ChunkOrdinal: r.ChunkOrdinal,
			Similarity:   sim,
		})
	}

	slices.SortStableFunc(results, func(x, y SearchResult) int {
		return cmp.Compare(y.Similarity, x.Similarity)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// RoundSimilarity は類似度を小数点以下2桁に丸めます（表示用）
func RoundSimilarity(sim float64) float64 {
	return math.Round(sim*100) / 100
}
