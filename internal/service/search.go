package service

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/telemetry"
)

const (
	maxSearchLimit             = 100
	defaultCandidateMultiplier = 4
	defaultMinCandidates       = 20
	defaultMaxCandidates       = 200
)

// Embedder is the part of EmbeddingService the pipeline and search use.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error)
	Clean(text string) string
	ModelName() string
	Dimensions() int
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	SimilarityThreshold float64
	MaxResults          int
	Ranking             RankingOptions
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		SimilarityThreshold: 0.7,
		MaxResults:          10,
		Ranking:             DefaultRankingOptions(),
	}
}

// RankingWeights overrides the configured weights for one request. A nil
// field keeps the configured weight.
type RankingWeights struct {
	Similarity *float64
	Frequency  *float64
	Recency    *float64
}

// SearchRequest describes one search. Nil pointers and zero values fall back
// to the configured defaults.
type SearchRequest struct {
	Query        string
	Threshold    *float64
	Limit        int
	DocumentType string
	Status       domain.DocumentStatus
	UsageRanking *bool
	Weights      *RankingWeights
}

// SearchResponse is the ranked result of a search.
type SearchResponse struct {
	Results    []RankedResult
	Model      string
	Dimensions int
	DurationMs int64
}

// SearchService embeds queries, retrieves candidates and ranks them.
type SearchService struct {
	embedder Embedder
	chunks   ChunkStore
	records  SearchRecordRepository
	cfg      SearchConfig
	uuidGen  UUIDGenerator
	now      func() time.Time
}

// NewSearchService creates a SearchService. records may be nil to disable
// search analytics.
func NewSearchService(embedder Embedder, chunks ChunkStore, records SearchRecordRepository, cfg SearchConfig) *SearchService {
	return &SearchService{
		embedder: embedder,
		chunks:   chunks,
		records:  records,
		cfg:      cfg,
		uuidGen:  &DefaultUUIDGenerator{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Search embeds the query and returns the best matching chunks.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		Model:     s.embedder.ModelName(),
		Operation: "search",
	})
	defer span.End()

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return s.emptyResponse(), nil
	}

	vector, err := s.embedder.GenerateEmbedding(ctx, req.Query)
	if err != nil {
		err = domain.NewSearchError("failed to embed query", err)
		span.SetError(err)
		return nil, err
	}
	if len(vector) == 0 {
		return s.emptyResponse(), nil
	}

	sig := QuerySignature{Model: s.embedder.ModelName(), Dimensions: len(vector)}
	resp, err := s.SearchByVector(ctx, vector, sig, req)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetTag("result_count", strconv.Itoa(len(resp.Results)))
	return resp, nil
}

// SearchByVector ranks stored chunks against a query vector that was produced
// by the model named in sig. Returned embeddings have their usage recorded.
func (s *SearchService) SearchByVector(ctx context.Context, vector []float32, sig QuerySignature, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	resp := &SearchResponse{Results: []RankedResult{}, Model: sig.Model, Dimensions: sig.Dimensions}
	if len(vector) == 0 {
		return resp, nil
	}
	if sig.Dimensions == 0 {
		sig.Dimensions = len(vector)
		resp.Dimensions = sig.Dimensions
	}

	limit := s.resolveLimit(req.Limit)
	threshold := s.cfg.SimilarityThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	opts := s.resolveRanking(req)

	pool := limit
	if opts.Enabled {
		pool = limit * defaultCandidateMultiplier
		if pool < defaultMinCandidates {
			pool = defaultMinCandidates
		}
		if pool > defaultMaxCandidates {
			pool = defaultMaxCandidates
		}
	}

	candidates, err := s.chunks.Query(ctx, VectorQuery{
		Vector:       vector,
		ModelName:    sig.Model,
		Dimensions:   sig.Dimensions,
		Threshold:    threshold,
		Limit:        pool,
		DocumentType: req.DocumentType,
		Status:       req.Status,
	})
	if err != nil {
		return nil, domain.NewSearchError("vector query failed", err)
	}

	now := s.now()
	resp.Results = Rank(candidates, sig, threshold, limit, opts, now)

	s.recordUsage(ctx, resp.Results, now)

	took := time.Since(start)
	resp.DurationMs = took.Milliseconds()
	s.recordSearch(ctx, req.Query, resp.Results, opts.Enabled, took, now)

	return resp, nil
}

func (s *SearchService) emptyResponse() *SearchResponse {
	return &SearchResponse{
		Results:    []RankedResult{},
		Model:      s.embedder.ModelName(),
		Dimensions: s.embedder.Dimensions(),
	}
}

func (s *SearchService) resolveLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.MaxResults
	}
	if limit <= 0 {
		limit = DefaultSearchConfig().MaxResults
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return limit
}

func (s *SearchService) resolveRanking(req SearchRequest) RankingOptions {
	opts := s.cfg.Ranking
	if req.UsageRanking != nil {
		opts.Enabled = *req.UsageRanking
	}
	if w := req.Weights; w != nil {
		if w.Similarity != nil {
			opts.SimilarityWeight = *w.Similarity
		}
		if w.Frequency != nil {
			opts.FrequencyWeight = *w.Frequency
		}
		if w.Recency != nil {
			opts.RecencyWeight = *w.Recency
		}
	}
	return opts
}

// recordUsage bumps usage for every returned embedding in one write. The
// results are already final, so failures are only reported.
func (s *SearchService) recordUsage(ctx context.Context, results []RankedResult, now time.Time) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.EmbeddingID
	}
	if err := s.chunks.IncrementUsage(ctx, ids, now); err != nil {
		log.Printf("search: failed to record usage for %d embeddings: %v", len(ids), err)
		telemetry.CaptureError(ctx, err)
	}
}

func (s *SearchService) recordSearch(ctx context.Context, query string, results []RankedResult, usageRanking bool, took time.Duration, now time.Time) {
	if s.records == nil {
		return
	}
	sims := make([]float64, len(results))
	for i, r := range results {
		sims[i] = r.Similarity
	}
	rec := domain.NewSearchRecord(s.uuidGen.NewString(), query, sims, usageRanking, took, now)
	if err := s.records.Create(ctx, rec); err != nil {
		log.Printf("search: failed to store search record: %v", err)
		telemetry.CaptureError(ctx, err)
	}
}
