package domain

import "time"

// SearchRecord is the write-once analytics row stored after a search.
type SearchRecord struct {
	ID            string
	Query         string
	ResultCount   int
	MaxSimilarity float64
	MinSimilarity float64
	AvgSimilarity float64
	UsageRanking  bool
	DurationMs    int64
	CreatedAt     time.Time
}

// NewSearchRecord summarises the similarities of a finished search.
func NewSearchRecord(id, query string, similarities []float64, usageRanking bool, took time.Duration, now time.Time) *SearchRecord {
	rec := &SearchRecord{
		ID:           id,
		Query:        query,
		ResultCount:  len(similarities),
		UsageRanking: usageRanking,
		DurationMs:   took.Milliseconds(),
		CreatedAt:    now,
	}
	if len(similarities) == 0 {
		return rec
	}

	rec.MaxSimilarity = similarities[0]
	rec.MinSimilarity = similarities[0]
	var sum float64
	for _, s := range similarities {
		if s > rec.MaxSimilarity {
			rec.MaxSimilarity = s
		}
		if s < rec.MinSimilarity {
			rec.MinSimilarity = s
		}
		sum += s
	}
	rec.AvgSimilarity = sum / float64(len(similarities))
	return rec
}
