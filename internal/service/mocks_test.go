package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/pagination"
	"github.com/stretchr/testify/mock"
)

// MockEmbeddingProvider mocks an embedding backend
type MockEmbeddingProvider struct {
	mock.Mock
	model string
	dims  int
}

func newMockProvider(dims int) *MockEmbeddingProvider {
	return &MockEmbeddingProvider{model: "test-model", dims: dims}
}

func (m *MockEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbeddingProvider) ModelName() string { return m.model }
func (m *MockEmbeddingProvider) Dimensions() int   { return m.dims }

// MockEmbeddingCache mocks the vector cache
type MockEmbeddingCache struct {
	mock.Mock
}

func (m *MockEmbeddingCache) Get(ctx context.Context, model string, dims int, text string) ([]float32, bool, error) {
	args := m.Called(ctx, model, dims, text)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]float32), args.Bool(1), args.Error(2)
}

func (m *MockEmbeddingCache) Set(ctx context.Context, model string, dims int, text string, vector []float32) error {
	args := m.Called(ctx, model, dims, text, vector)
	return args.Error(0)
}

// MockDocumentRepository mocks document persistence
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) GetByLocation(ctx context.Context, location string) (*domain.Document, error) {
	args := m.Called(ctx, location)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentRepository) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Document, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

// MockChunkStore mocks the vector store
type MockChunkStore struct {
	mock.Mock
}

func (m *MockChunkStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	args := m.Called(ctx, documentID, chunks)
	return args.Error(0)
}

func (m *MockChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

func (m *MockChunkStore) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

func (m *MockChunkStore) Query(ctx context.Context, q VectorQuery) ([]Candidate, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Candidate), args.Error(1)
}

func (m *MockChunkStore) IncrementUsage(ctx context.Context, embeddingIDs []string, usedAt time.Time) error {
	args := m.Called(ctx, embeddingIDs, usedAt)
	return args.Error(0)
}

// MockJobRepository mocks the processing job queue
type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// MockSearchRecordRepository mocks search analytics persistence
type MockSearchRecordRepository struct {
	mock.Mock
}

func (m *MockSearchRecordRepository) Create(ctx context.Context, rec *domain.SearchRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type testTxRepos struct {
	documents DocumentRepository
	chunks    ChunkStore
	jobs      JobRepository
	locked    []string
	lockErr   error
}

func (t *testTxRepos) LockDocument(_ context.Context, documentID string) error {
	t.locked = append(t.locked, documentID)
	return t.lockErr
}

func (t *testTxRepos) Documents() DocumentRepository { return t.documents }
func (t *testTxRepos) Chunks() ChunkStore            { return t.chunks }
func (t *testTxRepos) Jobs() JobRepository           { return t.jobs }

type testTxRunner struct {
	repos  TxRepositories
	called int
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called++
	return fn(t.repos)
}

// MockDocumentParser mocks the parsing collaborator
type MockDocumentParser struct {
	mock.Mock
}

func (m *MockDocumentParser) Parse(ctx context.Context, in ParseInput) (*ParsedDocument, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ParsedDocument), args.Error(1)
}

type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordingSink) Notify(_ context.Context, ev ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) phases() []ProgressPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProgressPhase, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Phase
	}
	return out
}

type sequenceUUID struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceUUID) NewString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}
