// Package gemini provides embeddings from the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultEmbeddingModel      = "text-embedding-004"
	DefaultEmbeddingDimensions = 768
)

var (
	ErrNoAPIKey        = errors.New("Gemini API key not set")
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// BatchAPI is the part of the Gemini SDK the client needs.
type BatchAPI interface {
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

type Config struct {
	APIKey              string
	EmbeddingModel      string
	EmbeddingDimensions int
}

// Client implements the embedding provider contract for Gemini.
type Client struct {
	api        BatchAPI
	model      string
	dimensions int
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	gc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		api:        &sdkAdapter{client: gc, model: gc.EmbeddingModel(cfg.EmbeddingModel)},
		model:      cfg.EmbeddingModel,
		dimensions: cfg.EmbeddingDimensions,
	}, nil
}

func (c *Client) ModelName() string { return c.model }
func (c *Client) Dimensions() int   { return c.dimensions }

// Embed sends texts as one batch request.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := c.api.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != c.dimensions {
			return nil, fmt.Errorf("%w: input %d has %d, expected %d", ErrWrongDimensions, i, len(v), c.dimensions)
		}
	}
	return vectors, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.api.Close()
}

type sdkAdapter struct {
	client *genai.Client
	model  *genai.EmbeddingModel
}

func (a *sdkAdapter) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	batch := a.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := a.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (a *sdkAdapter) Close() error {
	return a.client.Close()
}
