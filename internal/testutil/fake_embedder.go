package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// ErrFakeEmbedding is returned by FakeEmbedder when a failure is configured.
var ErrFakeEmbedding = errors.New("fake embedding failure")

// FakeEmbedder is a deterministic embedding provider. Each word is hashed
// into one dimension, so texts sharing words point in similar directions.
type FakeEmbedder struct {
	Model string
	Dims  int
	// Fixed maps an exact input text to the vector returned for it.
	Fixed map[string][]float32
	// FailOnCall makes the n-th Embed call (1-based) fail.
	FailOnCall int
	// FailOnText makes any call containing an input with this substring fail.
	FailOnText string

	mu    sync.Mutex
	calls int
	texts int
}

// NewFakeEmbedder returns a FakeEmbedder for model "fake-embed" with dims dimensions.
func NewFakeEmbedder(dims int) *FakeEmbedder {
	return &FakeEmbedder{Model: "fake-embed", Dims: dims}
}

func (f *FakeEmbedder) ModelName() string { return f.Model }
func (f *FakeEmbedder) Dimensions() int   { return f.Dims }

// Calls reports how many times Embed has been called.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Texts reports how many inputs have been embedded.
func (f *FakeEmbedder) Texts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

func (f *FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls++
	call := f.calls
	f.texts += len(texts)
	f.mu.Unlock()

	if f.FailOnCall > 0 && call == f.FailOnCall {
		return nil, ErrFakeEmbedding
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.FailOnText != "" && strings.Contains(t, f.FailOnText) {
			return nil, ErrFakeEmbedding
		}
		if v, ok := f.Fixed[t]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = f.Vector(t)
	}
	return out, nil
}

// Vector returns the hashed, unit-length vector for text.
func (f *FakeEmbedder) Vector(text string) []float32 {
	v := make([]float32, f.Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(f.Dims)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
