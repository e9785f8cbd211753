package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// ChunkStore persists chunks and their embeddings and answers similarity
// queries with pgvector's cosine distance.
type ChunkStore struct {
	db dbtx
}

func NewChunkStore(pool *pgxpool.Pool) *ChunkStore {
	return &ChunkStore{db: pool}
}

func NewChunkStoreWithTx(tx pgx.Tx) *ChunkStore {
	return &ChunkStore{db: tx}
}

// ReplaceChunks deletes the document's chunks and inserts the new set.
// Callers run it inside a transaction so readers never see a mixed set.
func (s *ChunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	for _, c := range chunks {
		if c.Embedding != nil {
			if err := domain.ValidateEmbedding(c.Embedding); err != nil {
				return err
			}
		}
	}

	if _, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return notFound(err, domain.ErrDocumentNotFound)
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return err
		}

		_, err = s.db.Exec(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, content, token_count, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, documentID, c.ChunkIndex, c.Content, c.TokenCount, meta, createdAt,
		)
		if err != nil {
			if pgCode(err) == pgForeignKeyViolation {
				return domain.ErrDocumentNotFound
			}
			return err
		}

		if c.Embedding == nil {
			continue
		}
		e := c.Embedding
		embCreated := e.CreatedAt
		if embCreated.IsZero() {
			embCreated = createdAt
		}
		_, err = s.db.Exec(ctx,
			`INSERT INTO embeddings (id, chunk_id, document_id, embedding, model_name, dimensions, usage_count, last_used_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, c.ID, documentID, pgvector.NewVector(e.Vector), e.ModelName, e.Dimensions, e.UsageCount, e.LastUsedAt, embCreated,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if pgCode(err) == pgInvalidText {
		return nil
	}
	return err
}

func (s *ChunkStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.document_id, c.chunk_index, c.content, c.token_count, c.metadata, c.created_at,
		        e.id, e.embedding::text, e.model_name, e.dimensions, e.usage_count, e.last_used_at, e.created_at
		 FROM chunks c
		 LEFT JOIN embeddings e ON e.chunk_id = c.id
		 WHERE c.document_id = $1
		 ORDER BY c.chunk_index ASC`,
		documentID,
	)
	if err != nil {
		if pgCode(err) == pgInvalidText {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.Chunk
	for rows.Next() {
		var (
			c          domain.Chunk
			meta       []byte
			embID      *string
			vec        *pgvector.Vector
			model      *string
			dims       *int
			usageCount *int64
			lastUsedAt *time.Time
			embCreated *time.Time
		)
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.TokenCount, &meta, &c.CreatedAt,
			&embID, &vec, &model, &dims, &usageCount, &lastUsedAt, &embCreated,
		); err != nil {
			return nil, err
		}
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		if embID != nil && vec != nil {
			c.Embedding = &domain.Embedding{
				ID:         *embID,
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				Vector:     vec.Slice(),
				ModelName:  stringOrEmpty(model),
				Dimensions: *dims,
				UsageCount: *usageCount,
				LastUsedAt: lastUsedAt,
				CreatedAt:  *embCreated,
			}
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// Query restricts candidates to the query's model and size before computing
// distances, since pgvector rejects comparisons across dimensions.
func (s *ChunkStore) Query(ctx context.Context, q service.VectorQuery) ([]service.Candidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(ctx,
		`WITH compatible AS MATERIALIZED (
			 SELECT e.id AS embedding_id, e.chunk_id, e.document_id, e.embedding, e.model_name, e.dimensions,
			        e.usage_count, e.last_used_at,
			        d.location, d.document_type, c.chunk_index, c.content, c.metadata
			 FROM embeddings e
			 JOIN chunks c ON c.id = e.chunk_id
			 JOIN documents d ON d.id = e.document_id
			 WHERE e.model_name = $2
			   AND e.dimensions = $3
			   AND ($5::text = '' OR d.document_type = $5)
			   AND ($6::text = '' OR d.status = $6)
		 ), scored AS (
			 SELECT *, 1 - (embedding <=> $1) AS similarity
			 FROM compatible
		 )
		 SELECT embedding_id, chunk_id, document_id, location, document_type, chunk_index, content, metadata,
		        model_name, dimensions, usage_count, last_used_at, similarity
		 FROM scored
		 WHERE similarity >= $4
		 ORDER BY similarity DESC, embedding_id ASC
		 LIMIT $7`,
		pgvector.NewVector(q.Vector), q.ModelName, q.Dimensions, q.Threshold, q.DocumentType, string(q.Status), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []service.Candidate
	for rows.Next() {
		var (
			c    service.Candidate
			meta []byte
		)
		if err := rows.Scan(
			&c.EmbeddingID, &c.ChunkID, &c.DocumentID, &c.Location, &c.DocumentType, &c.ChunkIndex, &c.Content, &meta,
			&c.ModelName, &c.Dimensions, &c.UsageCount, &c.LastUsedAt, &c.Similarity,
		); err != nil {
			return nil, err
		}
		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IncrementUsage bumps every listed embedding in one statement, so concurrent
// searches never lose an increment.
func (s *ChunkStore) IncrementUsage(ctx context.Context, embeddingIDs []string, usedAt time.Time) error {
	if len(embeddingIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE embeddings
		 SET usage_count = usage_count + 1,
		     last_used_at = GREATEST(COALESCE(last_used_at, $2), $2)
		 WHERE id = ANY($1::uuid[])`,
		dedupe(embeddingIDs), usedAt,
	)
	return err
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
