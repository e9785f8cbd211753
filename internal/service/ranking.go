package service

import (
	"math"
	"sort"
	"time"
)

const (
	// frequencySaturation is the usage count at which the frequency term reaches 1.
	frequencySaturation = 100
	// recencyScale is the decay constant for the recency term, in seconds.
	recencyScale = 30 * 24 * 3600
)

// RankingOptions controls usage-aware ranking.
type RankingOptions struct {
	Enabled          bool
	SimilarityWeight float64
	FrequencyWeight  float64
	RecencyWeight    float64
}

// DefaultRankingOptions returns usage ranking enabled with weights 1.0/0.7/0.3.
func DefaultRankingOptions() RankingOptions {
	return RankingOptions{
		Enabled:          true,
		SimilarityWeight: 1.0,
		FrequencyWeight:  0.7,
		RecencyWeight:    0.3,
	}
}

// QuerySignature identifies the model that produced a query vector.
type QuerySignature struct {
	Model      string
	Dimensions int
}

// Candidate is a stored embedding returned by a vector query, with its
// similarity to the query already computed.
type Candidate struct {
	EmbeddingID  string
	ChunkID      string
	DocumentID   string
	Location     string
	DocumentType string
	ChunkIndex   int
	Content      string
	Metadata     map[string]any
	ModelName    string
	Dimensions   int
	Similarity   float64
	UsageCount   int64
	LastUsedAt   *time.Time
}

// RankedResult is a candidate with its scores.
type RankedResult struct {
	Candidate
	UsageScore    float64
	CombinedScore float64
}

// UsageScore blends how often and how recently an embedding was returned.
// A candidate that was never used scores 0.
func UsageScore(usageCount int64, lastUsedAt *time.Time, now time.Time, opts RankingOptions) float64 {
	if usageCount <= 0 {
		return 0
	}

	frequency := math.Log(float64(usageCount)+1) / math.Log(frequencySaturation)
	if frequency > 1 {
		frequency = 1
	}

	var recency float64
	if lastUsedAt != nil {
		secs := now.Sub(*lastUsedAt).Seconds()
		if secs < 0 {
			secs = 0
		}
		recency = math.Exp(-secs / recencyScale)
	}

	return opts.FrequencyWeight*frequency + opts.RecencyWeight*recency
}

// Rank drops candidates below threshold or from a different model, scores
// the rest and returns at most limit results, best first. Ties on the
// combined score are broken by similarity.
func Rank(candidates []Candidate, sig QuerySignature, threshold float64, limit int, opts RankingOptions, now time.Time) []RankedResult {
	results := make([]RankedResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity < threshold {
			continue
		}
		if c.ModelName != sig.Model || c.Dimensions != sig.Dimensions {
			continue
		}

		r := RankedResult{Candidate: c, CombinedScore: c.Similarity}
		if opts.Enabled {
			r.UsageScore = UsageScore(c.UsageCount, c.LastUsedAt, now, opts)
			r.CombinedScore = opts.SimilarityWeight*c.Similarity + r.UsageScore
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].Similarity > results[j].Similarity
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
