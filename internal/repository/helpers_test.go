//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/testutil"
)

var (
	poolOnce   sync.Once
	sharedPool *pgxpool.Pool
)

// setupPool returns a pool on a package-wide Postgres container with every
// table emptied. The container is reaped when the test binary exits.
func setupPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		pc := testutil.NewPostgresContainer(context.Background(), t)
		sharedPool = testutil.NewTestPool(context.Background(), t, pc, "../../migrations")
	})
	if sharedPool == nil {
		t.Fatal("postgres test container is unavailable")
	}
	require.NoError(t, testutil.TruncateAll(ctx, sharedPool))
	return sharedPool
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func createDocument(ctx context.Context, t *testing.T, repo *DocumentRepository, location, docType string) *domain.Document {
	t.Helper()
	doc := domain.NewDocument(uuid.NewString(), location, "content of "+location, docType, map[string]any{"source": "test"}, now())
	require.NoError(t, repo.Create(ctx, doc))
	return doc
}

func newChunk(docID string, index int, vector []float32, model string) *domain.Chunk {
	chunkID := uuid.NewString()
	return &domain.Chunk{
		ID:         chunkID,
		DocumentID: docID,
		ChunkIndex: index,
		Content:    "chunk body",
		TokenCount: 3,
		Metadata:   map[string]any{"chunk": index},
		Embedding:  domain.NewEmbedding(uuid.NewString(), chunkID, docID, vector, model, now()),
		CreatedAt:  now(),
	}
}
