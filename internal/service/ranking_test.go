package service

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rankNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testSig = QuerySignature{Model: "m", Dimensions: 3}

func cand(id string, sim float64, count int64, lastUsed *time.Time) Candidate {
	return Candidate{
		EmbeddingID: id,
		ModelName:   "m",
		Dimensions:  3,
		Similarity:  sim,
		UsageCount:  count,
		LastUsedAt:  lastUsed,
	}
}

func ago(d time.Duration) *time.Time {
	t := rankNow.Add(-d)
	return &t
}

func TestUsageScore_NeverUsed(t *testing.T) {
	assert.Equal(t, 0.0, UsageScore(0, nil, rankNow, DefaultRankingOptions()))
	assert.Equal(t, 0.0, UsageScore(0, ago(time.Hour), rankNow, DefaultRankingOptions()))
}

func TestUsageScore_Formula(t *testing.T) {
	opts := DefaultRankingOptions()

	got := UsageScore(9, ago(24*time.Hour), rankNow, opts)

	want := 0.7*math.Log(10)/math.Log(100) + 0.3*math.Exp(-86400.0/(30*24*3600))
	assert.InDelta(t, want, got, 1e-12)
}

func TestUsageScore_FrequencySaturates(t *testing.T) {
	opts := RankingOptions{Enabled: true, FrequencyWeight: 0.7}

	assert.InDelta(t, 0.7, UsageScore(99, nil, rankNow, opts), 1e-12)
	assert.InDelta(t, 0.7, UsageScore(100000, nil, rankNow, opts), 1e-12)
}

func TestUsageScore_FutureLastUsedClamps(t *testing.T) {
	opts := RankingOptions{Enabled: true, RecencyWeight: 0.3}
	future := rankNow.Add(time.Hour)

	assert.InDelta(t, 0.3, UsageScore(1, &future, rankNow, opts), 1e-12)
}

func TestUsageScore_MonotonicInCount(t *testing.T) {
	opts := DefaultRankingOptions()
	last := ago(48 * time.Hour)

	prev := UsageScore(1, last, rankNow, opts)
	for n := int64(2); n < 500; n++ {
		cur := UsageScore(n, last, rankNow, opts)
		require.GreaterOrEqual(t, cur, prev, "count %d", n)
		prev = cur
	}
}

func TestUsageScore_MonotonicInRecency(t *testing.T) {
	opts := DefaultRankingOptions()

	prev := UsageScore(5, ago(365*24*time.Hour), rankNow, opts)
	for d := 364; d >= 0; d-- {
		cur := UsageScore(5, ago(time.Duration(d)*24*time.Hour), rankNow, opts)
		require.GreaterOrEqual(t, cur, prev, "days ago %d", d)
		prev = cur
	}
}

func TestRank_FiltersThresholdAndSignature(t *testing.T) {
	other := cand("other-model", 0.99, 0, nil)
	other.ModelName = "other"
	wrongDims := cand("wrong-dims", 0.99, 0, nil)
	wrongDims.Dimensions = 4

	results := Rank([]Candidate{
		cand("low", 0.5, 0, nil),
		cand("ok", 0.8, 0, nil),
		cand("edge", 0.7, 0, nil),
		other,
		wrongDims,
	}, testSig, 0.7, 10, DefaultRankingOptions(), rankNow)

	require.Len(t, results, 2)
	assert.Equal(t, "ok", results[0].EmbeddingID)
	assert.Equal(t, "edge", results[1].EmbeddingID)
}

func TestRank_Disabled(t *testing.T) {
	opts := DefaultRankingOptions()
	opts.Enabled = false

	results := Rank([]Candidate{
		cand("a", 0.75, 500, ago(time.Minute)),
		cand("b", 0.95, 0, nil),
		cand("c", 0.85, 10, ago(time.Hour)),
	}, testSig, 0, 10, opts, rankNow)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{results[0].EmbeddingID, results[1].EmbeddingID, results[2].EmbeddingID})
	for _, r := range results {
		assert.Equal(t, 0.0, r.UsageScore)
		assert.Equal(t, r.Similarity, r.CombinedScore)
	}
}

func TestRank_UsagePromotes(t *testing.T) {
	results := Rank([]Candidate{
		cand("fresh", 0.90, 0, nil),
		cand("popular", 0.85, 50, ago(time.Hour)),
	}, testSig, 0.7, 10, DefaultRankingOptions(), rankNow)

	require.Len(t, results, 2)
	assert.Equal(t, "popular", results[0].EmbeddingID)
	assert.Greater(t, results[0].UsageScore, 0.0)
	assert.InDelta(t, 0.85+results[0].UsageScore, results[0].CombinedScore, 1e-12)
}

func TestRank_TieBreakOnSimilarity(t *testing.T) {
	opts := RankingOptions{Enabled: true, SimilarityWeight: 0, FrequencyWeight: 0.7, RecencyWeight: 0.3}

	results := Rank([]Candidate{
		cand("lower", 0.8, 0, nil),
		cand("higher", 0.9, 0, nil),
	}, testSig, 0, 10, opts, rankNow)

	require.Len(t, results, 2)
	assert.Equal(t, results[0].CombinedScore, results[1].CombinedScore)
	assert.Equal(t, "higher", results[0].EmbeddingID)
}

func TestRank_Limit(t *testing.T) {
	var cands []Candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, cand(string(rune('a'+i)), 0.5+float64(i)/100, 0, nil))
	}

	results := Rank(cands, testSig, 0, 5, DefaultRankingOptions(), rankNow)

	require.Len(t, results, 5)
	assert.Equal(t, "t", results[0].EmbeddingID)
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil, testSig, 0.7, 10, DefaultRankingOptions(), rankNow))
}
