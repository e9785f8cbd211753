package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

type chunkStore struct{ s *Store }

// ReplaceChunks swaps the document's chunk set in one step.
func (c chunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	for _, ch := range chunks {
		if ch.Embedding != nil {
			if err := domain.ValidateEmbedding(ch.Embedding); err != nil {
				return err
			}
		}
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.docs[documentID]; !ok {
		return domain.ErrDocumentNotFound
	}
	set := make([]*domain.Chunk, len(chunks))
	for i, ch := range chunks {
		set[i] = cloneChunk(ch)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].ChunkIndex < set[j].ChunkIndex })
	c.s.chunks[documentID] = set
	return nil
}

func (c chunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	delete(c.s.chunks, documentID)
	return nil
}

func (c chunkStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	set := c.s.chunks[documentID]
	out := make([]*domain.Chunk, len(set))
	for i, ch := range set {
		out[i] = cloneChunk(ch)
	}
	return out, nil
}

// Query scores every compatible embedding against q.Vector by brute force.
func (c chunkStore) Query(ctx context.Context, q service.VectorQuery) ([]service.Candidate, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var out []service.Candidate
	for docID, set := range c.s.chunks {
		doc := c.s.docs[docID]
		if doc == nil {
			continue
		}
		if q.DocumentType != "" && doc.DocumentType != q.DocumentType {
			continue
		}
		if q.Status != "" && doc.Status != q.Status {
			continue
		}
		for _, ch := range set {
			e := ch.Embedding
			if e == nil || !e.Compatible(q.ModelName, q.Dimensions) {
				continue
			}
			sim := service.CosineSimilarity(q.Vector, e.Vector)
			if sim < q.Threshold {
				continue
			}
			var lastUsed *time.Time
			if e.LastUsedAt != nil {
				t := *e.LastUsedAt
				lastUsed = &t
			}
			out = append(out, service.Candidate{
				EmbeddingID:  e.ID,
				ChunkID:      ch.ID,
				DocumentID:   docID,
				Location:     doc.Location,
				DocumentType: doc.DocumentType,
				ChunkIndex:   ch.ChunkIndex,
				Content:      ch.Content,
				Metadata:     ch.Metadata,
				ModelName:    e.ModelName,
				Dimensions:   e.Dimensions,
				Similarity:   sim,
				UsageCount:   e.UsageCount,
				LastUsedAt:   lastUsed,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].EmbeddingID < out[j].EmbeddingID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// IncrementUsage bumps every listed embedding under one lock.
func (c chunkStore) IncrementUsage(ctx context.Context, embeddingIDs []string, usedAt time.Time) error {
	if len(embeddingIDs) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(embeddingIDs))
	for _, id := range embeddingIDs {
		want[id] = struct{}{}
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	for _, set := range c.s.chunks {
		for _, ch := range set {
			if ch.Embedding == nil {
				continue
			}
			if _, ok := want[ch.Embedding.ID]; ok {
				ch.Embedding.UsageCount++
				t := usedAt
				ch.Embedding.LastUsedAt = &t
			}
		}
	}
	return nil
}
