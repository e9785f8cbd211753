// Package openai provides embeddings from the OpenAI API or from any server
// that speaks the same protocol, such as Ollama or LM Studio.
package openai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the model used when none is configured
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	// DefaultEmbeddingDimensions is the output size of text-embedding-3-small
	DefaultEmbeddingDimensions = 1536
)

var (
	// ErrWrongDimensions is returned when an embedding has an unexpected size
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when the OpenAI backend is selected without a key
	ErrNoAPIKey = errors.New("OpenAI API key not set")
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIAdapter calls the embeddings endpoint through go-openai.
type OpenAIAdapter struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewOpenAIAdapter(apiKey, baseURL, model string, dimensions int) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIAdapter{
		client:     openai.NewClientWithConfig(cfg),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
	}
}

// CreateEmbeddings embeds texts in one request and returns the vectors in
// input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	}
	// Only the v3 models accept a requested size.
	if a.dimensions > 0 && strings.HasPrefix(string(a.model), "text-embedding-3") {
		req.Dimensions = a.dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      string
	EmbeddingDimensions int
	// RequireAPIKey rejects an empty key. Local servers usually need none.
	RequireAPIKey bool
}

// Client implements the embedding provider contract on top of EmbeddingAPI.
type Client struct {
	api        EmbeddingAPI
	model      string
	dimensions int
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) (*Client, error) {
	return NewClientWithConfig(Config{APIKey: apiKey, RequireAPIKey: true})
}

// NewClientWithConfig creates a new client with explicit configuration.
func NewClientWithConfig(cfg Config) (*Client, error) {
	if cfg.RequireAPIKey && cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	return &Client{
		api:        NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions),
		model:      cfg.EmbeddingModel,
		dimensions: cfg.EmbeddingDimensions,
	}, nil
}

func (c *Client) ModelName() string { return c.model }
func (c *Client) Dimensions() int   { return c.dimensions }

// Embed generates one embedding per text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := c.api.CreateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	for i, v := range vectors {
		if len(v) != c.dimensions {
			return nil, fmt.Errorf("%w: input %d has %d, expected %d", ErrWrongDimensions, i, len(v), c.dimensions)
		}
	}
	return vectors, nil
}
