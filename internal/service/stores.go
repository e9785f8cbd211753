package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/pagination"
	"github.com/google/uuid"
)

// DocumentRepository defines the repository interface for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByLocation(ctx context.Context, location string) (*domain.Document, error)
	Update(ctx context.Context, doc *domain.Document) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Document, error)
}

// VectorQuery selects candidates for ranking. Only embeddings produced by
// ModelName at Dimensions are considered.
type VectorQuery struct {
	Vector       []float32
	ModelName    string
	Dimensions   int
	Threshold    float64
	Limit        int
	DocumentType string
	Status       domain.DocumentStatus
}

// ChunkStore holds chunks and their embeddings.
type ChunkStore interface {
	// ReplaceChunks removes every chunk of the document and writes the new set.
	ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error)
	// Query returns candidates ordered by similarity, highest first.
	Query(ctx context.Context, q VectorQuery) ([]Candidate, error)
	// IncrementUsage bumps usage_count and last_used_at for all ids in one write.
	IncrementUsage(ctx context.Context, embeddingIDs []string, usedAt time.Time) error
}

// JobRepository defines the repository interface for processing job persistence
type JobRepository interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
}

// SearchRecordRepository stores search analytics.
type SearchRecordRepository interface {
	Create(ctx context.Context, rec *domain.SearchRecord) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}
