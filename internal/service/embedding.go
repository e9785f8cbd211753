package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/telemetry"
)

// EmbeddingProvider converts text into fixed-length vectors. There is one
// implementation per backend, chosen when the service is wired.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimensions() int
}

// EmbeddingCache stores vectors by model, output dimensions and cleaned
// text.
type EmbeddingCache interface {
	Get(ctx context.Context, model string, dims int, text string) ([]float32, bool, error)
	Set(ctx context.Context, model string, dims int, text string, vector []float32) error
}

// EmbeddingConfig tunes cleaning and provider calls.
type EmbeddingConfig struct {
	MaxInputChars int
	BatchSize     int
	Timeout       time.Duration
}

// DefaultEmbeddingConfig returns the default embedding settings.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		MaxInputChars: DefaultMaxInputChars,
		BatchSize:     32,
		Timeout:       30 * time.Second,
	}
}

// EmbeddingService cleans text, batches provider calls and consults the
// cache. It is safe for concurrent use when the provider and cache are.
type EmbeddingService struct {
	provider EmbeddingProvider
	cache    EmbeddingCache
	cfg      EmbeddingConfig
}

// NewEmbeddingService creates an EmbeddingService with default settings and no cache.
func NewEmbeddingService(provider EmbeddingProvider) *EmbeddingService {
	return NewEmbeddingServiceWithConfig(provider, nil, DefaultEmbeddingConfig())
}

func NewEmbeddingServiceWithConfig(provider EmbeddingProvider, cache EmbeddingCache, cfg EmbeddingConfig) *EmbeddingService {
	defaults := DefaultEmbeddingConfig()
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaults.MaxInputChars
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &EmbeddingService{provider: provider, cache: cache, cfg: cfg}
}

func (s *EmbeddingService) ModelName() string { return s.provider.ModelName() }
func (s *EmbeddingService) Dimensions() int   { return s.provider.Dimensions() }

// Clean applies the service's cleaning and truncation rules.
func (s *EmbeddingService) Clean(text string) string {
	return CleanText(text, s.cfg.MaxInputChars)
}

// GenerateEmbedding returns the vector for text, or nil without error when
// the text is blank.
func (s *EmbeddingService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.GenerateEmbeddingsBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

// GenerateEmbeddingsBatch embeds every non-blank input. The result holds one
// vector per non-blank input, in input order.
func (s *EmbeddingService) GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		if c := s.Clean(t); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	model := s.provider.ModelName()
	dims := s.provider.Dimensions()
	out := make([][]float32, len(cleaned))
	misses := make([]int, 0, len(cleaned))
	for i, text := range cleaned {
		if s.cache == nil {
			misses = append(misses, i)
			continue
		}
		vec, ok, err := s.cache.Get(ctx, model, dims, text)
		if err != nil {
			log.Printf("embedding: cache lookup failed: %v", err)
		}
		// A hit of the wrong length is stale and counts as a miss.
		if ok && len(vec) > 0 && (dims <= 0 || len(vec) == dims) {
			out[i] = vec
			continue
		}
		misses = append(misses, i)
	}

	for start := 0; start < len(misses); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(misses) {
			end = len(misses)
		}
		idx := misses[start:end]

		inputs := make([]string, len(idx))
		for j, i := range idx {
			inputs[j] = cleaned[i]
		}

		vectors, err := s.embed(ctx, inputs)
		if err != nil {
			return nil, err
		}

		for j, i := range idx {
			out[i] = vectors[j]
			if s.cache != nil {
				if err := s.cache.Set(ctx, model, dims, cleaned[i], vectors[j]); err != nil {
					log.Printf("embedding: cache store failed: %v", err)
				}
			}
		}
	}

	return out, nil
}

// embed makes one bounded provider call and checks the response shape.
func (s *EmbeddingService) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	ctx, span := telemetry.StartSpan(ctx, "EmbeddingService.Embed", telemetry.SpanAttributes{
		Model:     s.provider.ModelName(),
		Operation: "embed",
	})
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	vectors, err := s.provider.Embed(callCtx, inputs)
	if err != nil {
		if !domain.IsEmbeddingError(err) {
			err = domain.NewEmbeddingError("failed to generate embeddings", err)
		}
		span.SetError(err)
		return nil, err
	}

	if len(vectors) != len(inputs) {
		err := domain.NewEmbeddingError("unexpected provider response",
			fmt.Errorf("got %d vectors for %d inputs", len(vectors), len(inputs)))
		span.SetError(err)
		return nil, err
	}

	dims := s.provider.Dimensions()
	for i, v := range vectors {
		if len(v) == 0 || (dims > 0 && len(v) != dims) {
			err := domain.NewEmbeddingError("unexpected provider response",
				fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), dims))
			span.SetError(err)
			return nil, err
		}
	}

	return vectors, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. Nil or
// empty vectors, differing lengths and zero magnitude all yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
