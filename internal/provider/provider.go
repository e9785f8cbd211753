// Package provider selects and wraps the embedding backend.
package provider

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/docvec/internal/gemini"
	"github.com/cloo-solutions/docvec/internal/openai"
	"github.com/cloo-solutions/docvec/internal/service"
)

const (
	OpenAI = "openai"
	Local  = "local"
	Gemini = "gemini"
)

// DefaultLocalBaseURL is Ollama's OpenAI-compatible endpoint.
const DefaultLocalBaseURL = "http://localhost:11434/v1"

type Config struct {
	Provider     string
	Model        string
	Dimensions   int
	BaseURL      string
	OpenAIAPIKey string
	GeminiAPIKey string

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit      float64
	CircuitBreaker bool
}

// New builds the configured provider, wrapped in Resilient when a rate
// limit or the circuit breaker is enabled.
func New(ctx context.Context, cfg Config) (service.EmbeddingProvider, error) {
	var (
		p   service.EmbeddingProvider
		err error
	)

	switch cfg.Provider {
	case OpenAI, "":
		p, err = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             cfg.BaseURL,
			EmbeddingModel:      cfg.Model,
			EmbeddingDimensions: cfg.Dimensions,
			RequireAPIKey:       cfg.BaseURL == "",
		})
	case Local:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultLocalBaseURL
		}
		p, err = openai.NewClientWithConfig(openai.Config{
			APIKey:              cfg.OpenAIAPIKey,
			BaseURL:             baseURL,
			EmbeddingModel:      cfg.Model,
			EmbeddingDimensions: cfg.Dimensions,
		})
	case Gemini:
		p, err = gemini.NewClient(ctx, gemini.Config{
			APIKey:              cfg.GeminiAPIKey,
			EmbeddingModel:      cfg.Model,
			EmbeddingDimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit <= 0 && !cfg.CircuitBreaker {
		return p, nil
	}
	return NewResilient(p, ResilienceOptions{
		RateLimit:      cfg.RateLimit,
		CircuitBreaker: cfg.CircuitBreaker,
	}), nil
}
