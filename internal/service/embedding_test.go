package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingService_GenerateEmbedding_Blank(t *testing.T) {
	provider := newMockProvider(3)
	svc := NewEmbeddingService(provider)

	vec, err := svc.GenerateEmbedding(context.Background(), " \n\t ")

	require.NoError(t, err)
	assert.Nil(t, vec)
	provider.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestEmbeddingService_GenerateEmbedding_CleansInput(t *testing.T) {
	provider := newMockProvider(3)
	provider.On("Embed", mock.Anything, []string{"hello world\nnext line"}).
		Return([][]float32{{0.1, 0.2, 0.3}}, nil)
	svc := NewEmbeddingService(provider)

	vec, err := svc.GenerateEmbedding(context.Background(), "  hello \t world\n\n\nnext   line  ")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	provider.AssertExpectations(t)
}

func TestEmbeddingService_GenerateEmbeddingsBatch_SkipsBlankKeepsOrder(t *testing.T) {
	provider := newMockProvider(2)
	provider.On("Embed", mock.Anything, []string{"first", "second", "third"}).
		Return([][]float32{{1, 0}, {0, 1}, {1, 1}}, nil)
	svc := NewEmbeddingService(provider)

	vectors, err := svc.GenerateEmbeddingsBatch(context.Background(), []string{"first", "  ", "second", "", "third"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}, {1, 1}}, vectors)
	provider.AssertExpectations(t)
}

func TestEmbeddingService_GenerateEmbeddingsBatch_AllBlank(t *testing.T) {
	provider := newMockProvider(2)
	svc := NewEmbeddingService(provider)

	vectors, err := svc.GenerateEmbeddingsBatch(context.Background(), []string{"", "   "})

	require.NoError(t, err)
	assert.Empty(t, vectors)
	provider.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestEmbeddingService_GenerateEmbeddingsBatch_SplitsIntoSubBatches(t *testing.T) {
	provider := newMockProvider(1)
	provider.On("Embed", mock.Anything, []string{"a", "b"}).Return([][]float32{{1}, {2}}, nil).Once()
	provider.On("Embed", mock.Anything, []string{"c", "d"}).Return([][]float32{{3}, {4}}, nil).Once()
	provider.On("Embed", mock.Anything, []string{"e"}).Return([][]float32{{5}}, nil).Once()
	svc := NewEmbeddingServiceWithConfig(provider, nil, EmbeddingConfig{BatchSize: 2})

	vectors, err := svc.GenerateEmbeddingsBatch(context.Background(), []string{"a", "b", "c", "d", "e"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}, {4}, {5}}, vectors)
	provider.AssertNumberOfCalls(t, "Embed", 3)
}

func TestEmbeddingService_GenerateEmbeddingsBatch_UsesCache(t *testing.T) {
	provider := newMockProvider(2)
	cache := new(MockEmbeddingCache)

	cache.On("Get", mock.Anything, "test-model", 2, "cached").Return([]float32{9, 9}, true, nil)
	cache.On("Get", mock.Anything, "test-model", 2, "fresh").Return(nil, false, nil)
	cache.On("Set", mock.Anything, "test-model", 2, "fresh", []float32{1, 2}).Return(nil)
	provider.On("Embed", mock.Anything, []string{"fresh"}).Return([][]float32{{1, 2}}, nil).Once()

	svc := NewEmbeddingServiceWithConfig(provider, cache, DefaultEmbeddingConfig())

	vectors, err := svc.GenerateEmbeddingsBatch(context.Background(), []string{"cached", "fresh"})

	require.NoError(t, err)
	assert.Equal(t, [][]float32{{9, 9}, {1, 2}}, vectors)
	provider.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestEmbeddingService_GenerateEmbeddingsBatch_CacheErrorFallsThrough(t *testing.T) {
	provider := newMockProvider(1)
	cache := new(MockEmbeddingCache)

	cache.On("Get", mock.Anything, "test-model", 1, "text").Return(nil, false, errors.New("connection refused"))
	cache.On("Set", mock.Anything, "test-model", 1, "text", []float32{0.5}).Return(errors.New("connection refused"))
	provider.On("Embed", mock.Anything, []string{"text"}).Return([][]float32{{0.5}}, nil)

	svc := NewEmbeddingServiceWithConfig(provider, cache, DefaultEmbeddingConfig())

	vec, err := svc.GenerateEmbedding(context.Background(), "text")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, vec)
}

func TestEmbeddingService_GenerateEmbeddingsBatch_StaleCacheHitIsMiss(t *testing.T) {
	provider := newMockProvider(2)
	cache := new(MockEmbeddingCache)

	cache.On("Get", mock.Anything, "test-model", 2, "text").Return([]float32{1, 0, 0, 0}, true, nil)
	cache.On("Set", mock.Anything, "test-model", 2, "text", []float32{0, 1}).Return(nil)
	provider.On("Embed", mock.Anything, []string{"text"}).Return([][]float32{{0, 1}}, nil).Once()

	svc := NewEmbeddingServiceWithConfig(provider, cache, DefaultEmbeddingConfig())

	vec, err := svc.GenerateEmbedding(context.Background(), "text")

	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
	provider.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestEmbeddingService_GenerateEmbedding_ProviderError(t *testing.T) {
	provider := newMockProvider(2)
	provider.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))
	svc := NewEmbeddingService(provider)

	vec, err := svc.GenerateEmbedding(context.Background(), "some text")

	assert.Nil(t, vec)
	require.Error(t, err)
	assert.True(t, domain.IsEmbeddingError(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestEmbeddingService_GenerateEmbeddingsBatch_CountMismatch(t *testing.T) {
	provider := newMockProvider(2)
	provider.On("Embed", mock.Anything, []string{"a", "b"}).Return([][]float32{{1, 2}}, nil)
	svc := NewEmbeddingService(provider)

	_, err := svc.GenerateEmbeddingsBatch(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.True(t, domain.IsEmbeddingError(err))
}

func TestEmbeddingService_GenerateEmbedding_DimensionMismatch(t *testing.T) {
	provider := newMockProvider(3)
	provider.On("Embed", mock.Anything, []string{"a"}).Return([][]float32{{1, 2}}, nil)
	svc := NewEmbeddingService(provider)

	_, err := svc.GenerateEmbedding(context.Background(), "a")

	require.Error(t, err)
	assert.True(t, domain.IsEmbeddingError(err))
	assert.Contains(t, err.Error(), "dimensions")
}

type blockingProvider struct{}

func (blockingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingProvider) ModelName() string { return "slow" }
func (blockingProvider) Dimensions() int   { return 2 }

func TestEmbeddingService_GenerateEmbedding_Timeout(t *testing.T) {
	svc := NewEmbeddingServiceWithConfig(blockingProvider{}, nil, EmbeddingConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := svc.GenerateEmbedding(context.Background(), "text")

	require.Error(t, err)
	assert.True(t, domain.IsEmbeddingError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEmbeddingService_ModelAndDimensions(t *testing.T) {
	svc := NewEmbeddingService(newMockProvider(768))

	assert.Equal(t, "test-model", svc.ModelName())
	assert.Equal(t, 768, svc.Dimensions())
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"blank", "  \t\n ", 100, ""},
		{"tabs and spaces", "a\t\tb   c", 100, "a b c"},
		{"newline runs", "a\n\n\r\nb", 100, "a\nb"},
		{"space around newline", "a  \n  b", 100, "a\nb"},
		{"trimmed", "\n  text  \n", 100, "text"},
		{"truncated", "abcdefghij", 4, "abcd"},
		{"truncated multibyte", "ééééé", 3, "ééé"},
		{"truncation trims trailing space", "ab cd", 3, "ab"},
		{"no limit", strings.Repeat("x", 50), 0, strings.Repeat("x", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in, tt.max))
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "日本", TruncateRunes("日本語", 2))
	assert.Equal(t, "日本語", TruncateRunes("日本語", 3))
	assert.Equal(t, "日本語", TruncateRunes("日本語", 10))
	assert.Equal(t, "abc", TruncateRunes("abc", 0))
}

func TestCosineSimilarity(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5, 0.01}
	neg := make([]float32, len(v))
	for i := range v {
		neg[i] = -v[i]
	}

	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(v, neg), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, CosineSimilarity(v, neg), CosineSimilarity(neg, v), 1e-12)
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, []float32{1}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, nil))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestCosineSimilarity_Bounded(t *testing.T) {
	a := []float32{1e-20, 3e-20}
	b := []float32{2e-20, 6e-20}
	sim := CosineSimilarity(a, b)
	assert.False(t, math.IsNaN(sim))
	assert.LessOrEqual(t, sim, 1.0)
	assert.GreaterOrEqual(t, sim, -1.0)
}
