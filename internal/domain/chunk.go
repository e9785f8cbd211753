package domain

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Chunk is a contiguous piece of a document's text. Chunks are never edited;
// reprocessing replaces the whole set.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	TokenCount int
	Metadata   map[string]any
	Embedding  *Embedding
	CreatedAt  time.Time
}

// Embedding is the vector computed for one chunk.
type Embedding struct {
	ID         string
	ChunkID    string
	DocumentID string
	Vector     []float32
	ModelName  string
	Dimensions int
	UsageCount int64
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// NewEmbedding creates an unused embedding whose Dimensions follows the vector.
func NewEmbedding(id, chunkID, documentID string, vector []float32, model string, now time.Time) *Embedding {
	return &Embedding{
		ID:         id,
		ChunkID:    chunkID,
		DocumentID: documentID,
		Vector:     vector,
		ModelName:  model,
		Dimensions: len(vector),
		CreatedAt:  now,
	}
}

// Compatible reports whether the embedding may be compared with a vector
// produced by the given model at the given size.
func (e *Embedding) Compatible(model string, dimensions int) bool {
	return e.ModelName == model && e.Dimensions == dimensions
}

// ValidateEmbedding checks the dimensions invariant.
func ValidateEmbedding(e *Embedding) error {
	if e == nil {
		return fmt.Errorf("embedding cannot be nil")
	}
	if e.ModelName == "" {
		return fmt.Errorf("embedding ModelName is required")
	}
	if len(e.Vector) == 0 || e.Dimensions != len(e.Vector) {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrDimensionMismatch.Message,
			fmt.Errorf("dimensions=%d len=%d", e.Dimensions, len(e.Vector)))
	}
	if e.UsageCount < 0 {
		return fmt.Errorf("embedding UsageCount cannot be negative")
	}
	return nil
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
