package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/pagination"
	"github.com/cloo-solutions/docvec/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func seedDoc(t *testing.T, s *Store, id, location string, created time.Time) *domain.Document {
	t.Helper()
	doc := domain.NewDocument(id, location, "content", "text", map[string]any{"k": "v"}, created)
	require.NoError(t, s.Create(context.Background(), doc))
	return doc
}

func chunkWithVector(docID string, idx int, vec []float32, model string) *domain.Chunk {
	id := docID + "-c" + string(rune('0'+idx))
	return &domain.Chunk{
		ID:         id,
		DocumentID: docID,
		ChunkIndex: idx,
		Content:    "chunk " + id,
		Embedding:  domain.NewEmbedding("e-"+id, id, docID, vec, model, t0),
		CreatedAt:  t0,
	}
}

func TestStore_Create_UniqueLocation(t *testing.T) {
	s := New()
	seedDoc(t, s, "d1", "a.txt", t0)

	err := s.Create(context.Background(), domain.NewDocument("d2", "a.txt", "", "text", nil, t0))

	assert.ErrorIs(t, err, domain.ErrDocumentAlreadyExists)
}

func TestStore_GetByLocation(t *testing.T) {
	s := New()
	seedDoc(t, s, "d1", "a.txt", t0)

	doc, err := s.GetByLocation(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "d1", doc.ID)

	_, err = s.GetByLocation(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	seedDoc(t, s, "d1", "a.txt", t0)

	doc, err := s.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	doc.Status = domain.DocumentStatusFailed
	doc.Metadata["k"] = "changed"

	again, err := s.GetByID(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, again.Status)
	assert.Equal(t, "v", again.Metadata["k"])
}

func TestStore_Delete_Cascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)
	require.NoError(t, s.Chunks().ReplaceChunks(ctx, "d1", []*domain.Chunk{chunkWithVector("d1", 0, []float32{1, 0}, "m")}))

	require.NoError(t, s.Delete(ctx, "d1"))

	chunks, err := s.Chunks().ListByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.ErrorIs(t, s.Delete(ctx, "d1"), domain.ErrDocumentNotFound)
}

func TestStore_List_Cursor(t *testing.T) {
	s := New()
	for i, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		seedDoc(t, s, id, id+".txt", t0.Add(time.Duration(i)*time.Minute))
	}

	first, err := s.List(context.Background(), nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "d5", first[0].ID)
	assert.Equal(t, "d4", first[1].ID)

	cursor, err := pagination.Decode(pagination.Cursor{ID: first[1].ID, CreatedAt: first[1].CreatedAt}.Encode())
	require.NoError(t, err)

	second, err := s.List(context.Background(), cursor, 10)
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.Equal(t, "d3", second[0].ID)
}

func TestStore_WithTx_RollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)
	require.NoError(t, s.Chunks().ReplaceChunks(ctx, "d1", []*domain.Chunk{chunkWithVector("d1", 0, []float32{1, 0}, "m")}))

	err := s.WithTx(ctx, func(repos service.TxRepositories) error {
		require.NoError(t, repos.Chunks().DeleteByDocument(ctx, "d1"))
		doc, err := repos.Documents().GetByID(ctx, "d1")
		require.NoError(t, err)
		doc.Status = domain.DocumentStatusFailed
		require.NoError(t, repos.Documents().Update(ctx, doc))
		return errors.New("abort")
	})
	require.Error(t, err)

	chunks, err := s.Chunks().ListByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	doc, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, doc.Status)
}

func TestStore_WithTx_RollbackKeepsOutsideWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)
	seedDoc(t, s, "d2", "b.txt", t0)
	require.NoError(t, s.Chunks().ReplaceChunks(ctx, "d1", []*domain.Chunk{chunkWithVector("d1", 0, []float32{1, 0}, "m")}))
	require.NoError(t, s.Chunks().ReplaceChunks(ctx, "d2", []*domain.Chunk{chunkWithVector("d2", 0, []float32{0, 1}, "m")}))

	err := s.WithTx(ctx, func(repos service.TxRepositories) error {
		require.NoError(t, repos.Chunks().DeleteByDocument(ctx, "d2"))

		done := make(chan error, 1)
		go func() { done <- s.Chunks().IncrementUsage(ctx, []string{"e-d1-c0"}, t0) }()
		require.NoError(t, <-done)
		require.NoError(t, s.Create(ctx, domain.NewDocument("d3", "c.txt", "", "text", nil, t0)))

		_, err := repos.Documents().GetByID(ctx, "missing")
		return err
	})
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)

	chunks, err := s.Chunks().ListByDocument(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(1), chunks[0].Embedding.UsageCount)

	chunks, err = s.Chunks().ListByDocument(ctx, "d2")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	_, err = s.GetByID(ctx, "d3")
	assert.NoError(t, err)
}

func TestStore_WithTx_StagesUntilCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)

	err := s.WithTx(ctx, func(repos service.TxRepositories) error {
		doc, err := repos.Documents().GetByID(ctx, "d1")
		require.NoError(t, err)
		doc.Location = "moved.txt"
		doc.Status = domain.DocumentStatusCompleted
		require.NoError(t, repos.Documents().Update(ctx, doc))
		require.NoError(t, repos.Documents().Create(ctx, domain.NewDocument("d2", "a.txt", "", "text", nil, t0)))
		require.NoError(t, repos.Chunks().ReplaceChunks(ctx, "d1", []*domain.Chunk{chunkWithVector("d1", 0, []float32{1, 0}, "m")}))
		require.NoError(t, repos.Jobs().Create(ctx, domain.NewProcessingJob("j1", "d2", domain.JobKindProcess, t0)))

		staged, err := repos.Chunks().ListByDocument(ctx, "d1")
		require.NoError(t, err)
		assert.Len(t, staged, 1)
		got, err := repos.Documents().GetByLocation(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "d2", got.ID)

		outside, err := s.GetByID(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "a.txt", outside.Location)
		committed, err := s.Chunks().ListByDocument(ctx, "d1")
		require.NoError(t, err)
		assert.Empty(t, committed)
		return nil
	})
	require.NoError(t, err)

	moved, err := s.GetByLocation(ctx, "moved.txt")
	require.NoError(t, err)
	assert.Equal(t, "d1", moved.ID)
	assert.Equal(t, domain.DocumentStatusCompleted, moved.Status)
	created, err := s.GetByLocation(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "d2", created.ID)
	chunks, err := s.Chunks().ListByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	job, err := s.JobStore().GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "d2", job.DocumentID)
}

func TestStore_WithTx_CommitConflictAppliesNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)

	err := s.WithTx(ctx, func(repos service.TxRepositories) error {
		doc, err := repos.Documents().GetByID(ctx, "d1")
		require.NoError(t, err)
		doc.Status = domain.DocumentStatusFailed
		require.NoError(t, repos.Documents().Update(ctx, doc))
		require.NoError(t, repos.Documents().Create(ctx, domain.NewDocument("d2", "b.txt", "", "text", nil, t0)))
		// Another writer takes the location before the commit.
		require.NoError(t, s.Create(ctx, domain.NewDocument("d9", "b.txt", "", "text", nil, t0)))
		return nil
	})
	require.ErrorIs(t, err, domain.ErrDocumentAlreadyExists)

	doc, err := s.GetByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, doc.Status)
	_, err = s.GetByID(ctx, "d2")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestChunkStore_ReplaceChunks_RejectsBadEmbedding(t *testing.T) {
	s := New()
	seedDoc(t, s, "d1", "a.txt", t0)
	bad := chunkWithVector("d1", 0, []float32{1, 0}, "m")
	bad.Embedding.Dimensions = 3

	err := s.Chunks().ReplaceChunks(context.Background(), "d1", []*domain.Chunk{bad})

	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestChunkStore_Query_Filters(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)
	md := domain.NewDocument("d2", "b.md", "x", "markdown", nil, t0)
	md.Status = domain.DocumentStatusCompleted
	require.NoError(t, s.Create(ctx, md))

	require.NoError(t, s.Chunks().ReplaceChunks(ctx, "d1", []*domain.Chunk{
		chunkWithVector("d1", 0, []float32{1, 0}, "m"),
		chunkWithVector("d1", 1, []float32{0, 1}, "m"),
		chunkWithVector("d1", 2, []float32{1, 0, 0}, "m"),
		chunkWithVector("d1", 3, []float32{1, 0}, "other"),
	}))
	require.NoError(t, s.Chunks().ReplaceChunks(ctx, "d2", []*domain.Chunk{
		chunkWithVector("d2", 0, []float32{0.9, 0.1}, "m"),
	}))

	got, err := s.Chunks().Query(ctx, service.VectorQuery{Vector: []float32{1, 0}, ModelName: "m", Dimensions: 2, Threshold: 0.5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e-d1-c0", got[0].EmbeddingID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.Equal(t, "e-d2-c0", got[1].EmbeddingID)

	got, err = s.Chunks().Query(ctx, service.VectorQuery{Vector: []float32{1, 0}, ModelName: "m", Dimensions: 2, DocumentType: "markdown", Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b.md", got[0].Location)

	got, err = s.Chunks().Query(ctx, service.VectorQuery{Vector: []float32{1, 0}, ModelName: "m", Dimensions: 2, Status: domain.DocumentStatusCompleted, Threshold: -1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].DocumentID)
}

func TestChunkStore_IncrementUsage_Concurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)
	require.NoError(t, s.Chunks().ReplaceChunks(ctx, "d1", []*domain.Chunk{
		chunkWithVector("d1", 0, []float32{1, 0}, "m"),
		chunkWithVector("d1", 1, []float32{0, 1}, "m"),
		chunkWithVector("d1", 2, []float32{1, 1}, "m"),
	}))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []string{"e-d1-c0", "e-d1-c1"}
			if i%2 == 0 {
				ids = []string{"e-d1-c1", "e-d1-c2"}
			}
			assert.NoError(t, s.Chunks().IncrementUsage(ctx, ids, t0.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	chunks, err := s.Chunks().ListByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(n/2), chunks[0].Embedding.UsageCount)
	assert.Equal(t, int64(n), chunks[1].Embedding.UsageCount)
	assert.Equal(t, int64(n/2), chunks[2].Embedding.UsageCount)
	assert.NotNil(t, chunks[1].Embedding.LastUsedAt)
}

func TestJobStore_ClaimAndUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedDoc(t, s, "d1", "a.txt", t0)
	jobs := s.JobStore()

	require.NoError(t, jobs.Create(ctx, domain.NewProcessingJob("j1", "d1", domain.JobKindProcess, t0)))
	require.NoError(t, jobs.Create(ctx, domain.NewProcessingJob("j2", "d1", domain.JobKindReprocess, t0.Add(time.Second))))

	claimed, err := jobs.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "j1", claimed[0].ID)
	assert.Equal(t, domain.JobStatusProcessing, claimed[0].Status)

	require.NoError(t, jobs.IncrementRetries(ctx, "j1"))
	require.NoError(t, jobs.UpdateStatus(ctx, "j1", domain.JobStatusFailed, "boom"))

	job, err := jobs.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), job.Retries)
	assert.Equal(t, "boom", job.Error)
	assert.NotNil(t, job.ProcessedAt)

	assert.ErrorIs(t, jobs.UpdateStatus(ctx, "missing", domain.JobStatusFailed, ""), domain.ErrJobNotFound)
	assert.ErrorIs(t, jobs.Create(ctx, domain.NewProcessingJob("j3", "nope", domain.JobKindProcess, t0)), domain.ErrDocumentNotFound)
}
