package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docvec/internal/api"
	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func (m *MockDocumentService) Prepare(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func (m *MockDocumentService) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) List(ctx context.Context, cursor string, limit int) (*service.ListDocumentsOutput, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ListDocumentsOutput), args.Error(1)
}

func (m *MockDocumentService) ListChunks(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

func (m *MockDocumentService) Reprocess(ctx context.Context, documentID string, opts service.ReprocessOptions) (*domain.Document, error) {
	args := m.Called(ctx, documentID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

type MockJobEnqueuer struct {
	mock.Mock
}

func (m *MockJobEnqueuer) EnqueueProcess(ctx context.Context, documentID string) (*domain.ProcessingJob, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessingJob), args.Error(1)
}

func (m *MockJobEnqueuer) EnqueueReprocess(ctx context.Context, documentID string, opts service.ReprocessOptions) (*domain.Document, *domain.ProcessingJob, error) {
	args := m.Called(ctx, documentID, opts)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.Document), args.Get(1).(*domain.ProcessingJob), args.Error(2)
}

var testTime = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func testDocument(status domain.DocumentStatus) *domain.Document {
	doc := domain.NewDocument("doc-1", "notes/a.txt", "hello world", "text", nil, testTime)
	doc.Status = status
	return doc
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func TestDocumentHandler_Create_Processed(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	svc.On("Ingest", mock.Anything, service.IngestRequest{
		Location:     "notes/a.txt",
		Content:      "hello world",
		ChunkSize:    200,
		ChunkOverlap: 20,
		Metadata:     map[string]any{"team": "docs"},
	}).Return(&service.IngestResult{Outcome: service.OutcomeProcessed, Document: testDocument(domain.DocumentStatusCompleted)}, nil)

	req := httptest.NewRequest(http.MethodPost, "/documents", jsonBody(t, map[string]any{
		"location":      "notes/a.txt",
		"content":       "hello world",
		"chunk_size":    200,
		"chunk_overlap": 20,
		"metadata":      map[string]any{"team": "docs"},
	}))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp IngestResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "processed", resp.Outcome)
	assert.Equal(t, "completed", resp.Document.Status)
	assert.Empty(t, resp.Document.Content)
	svc.AssertExpectations(t)
}

func TestDocumentHandler_Create_Skipped(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	svc.On("Ingest", mock.Anything, mock.Anything).
		Return(&service.IngestResult{Outcome: service.OutcomeSkipped, Document: testDocument(domain.DocumentStatusCompleted)}, nil)

	req := httptest.NewRequest(http.MethodPost, "/documents", jsonBody(t, map[string]any{"location": "a", "content": "x"}))
	w := httptest.NewRecorder()

	handler.Create(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDocumentHandler_Create_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "malformed json", body: "{", message: "invalid request body"},
		{name: "unknown field", body: `{"location":"a","content":"x","bogus":1}`, message: "invalid request body"},
		{name: "missing location", body: `{"content":"x"}`, message: "location is required"},
		{name: "negative chunk size", body: `{"location":"a","content":"x","chunk_size":-1}`, message: "chunk_size must be at least 0"},
		{name: "no content", body: `{"location":"a"}`, message: "content or data is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockDocumentService)
			handler := NewDocumentHandler(svc, nil)

			w := httptest.NewRecorder()
			handler.Create(w, httptest.NewRequest(http.MethodPost, "/documents", bytes.NewBufferString(tt.body)))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error.Message, tt.message)
			svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
		})
	}
}

func TestDocumentHandler_Create_EmbeddingFailure(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	svc.On("Ingest", mock.Anything, mock.Anything).
		Return(&service.IngestResult{Outcome: service.OutcomeFailed, Document: testDocument(domain.DocumentStatusFailed)},
			domain.NewEmbeddingError("provider down", nil))

	w := httptest.NewRecorder()
	handler.Create(w, httptest.NewRequest(http.MethodPost, "/documents", jsonBody(t, map[string]any{"location": "a", "content": "x"})))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDocumentHandler_Create_Async(t *testing.T) {
	svc := new(MockDocumentService)
	queue := new(MockJobEnqueuer)
	handler := NewDocumentHandler(svc, queue)

	svc.On("Prepare", mock.Anything, mock.Anything).
		Return(&service.IngestResult{Outcome: service.OutcomePrepared, Document: testDocument(domain.DocumentStatusPending)}, nil)
	queue.On("EnqueueProcess", mock.Anything, "doc-1").
		Return(domain.NewProcessingJob("job-1", "doc-1", domain.JobKindProcess, testTime), nil)

	w := httptest.NewRecorder()
	handler.Create(w, httptest.NewRequest(http.MethodPost, "/documents", jsonBody(t, map[string]any{"location": "a", "content": "x", "async": true})))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp IngestResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "queued", resp.Outcome)
	assert.Equal(t, "job-1", resp.JobID)
	svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
}

func TestDocumentHandler_Create_AsyncWithoutQueueRunsInline(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	svc.On("Ingest", mock.Anything, mock.Anything).
		Return(&service.IngestResult{Outcome: service.OutcomeProcessed, Document: testDocument(domain.DocumentStatusCompleted)}, nil)

	w := httptest.NewRecorder()
	handler.Create(w, httptest.NewRequest(http.MethodPost, "/documents", jsonBody(t, map[string]any{"location": "a", "content": "x", "async": true})))

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestDocumentHandler_Get(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	svc.On("Get", mock.Anything, "doc-1").Return(testDocument(domain.DocumentStatusCompleted), nil)
	svc.On("Get", mock.Anything, "missing").Return(nil, domain.ErrDocumentNotFound)

	w := httptest.NewRecorder()
	handler.Get(w, withID(httptest.NewRequest(http.MethodGet, "/documents/doc-1", nil), "doc-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp DocumentResponse
	decodeData(t, w, &resp)
	assert.Equal(t, "hello world", resp.Content)
	assert.Equal(t, "notes/a.txt", resp.Location)

	w = httptest.NewRecorder()
	handler.Get(w, withID(httptest.NewRequest(http.MethodGet, "/documents/missing", nil), "missing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandler_List(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	svc.On("List", mock.Anything, "abc", 5).Return(&service.ListDocumentsOutput{
		Items:   []*domain.Document{testDocument(domain.DocumentStatusCompleted)},
		Cursor:  "next",
		HasMore: true,
	}, nil)

	w := httptest.NewRecorder()
	handler.List(w, httptest.NewRequest(http.MethodGet, "/documents?cursor=abc&limit=5", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp ListDocumentsResponse
	decodeData(t, w, &resp)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "next", resp.Cursor)
	assert.True(t, resp.HasMore)

	w = httptest.NewRecorder()
	handler.List(w, httptest.NewRequest(http.MethodGet, "/documents?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandler_ListChunks(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	chunk := &domain.Chunk{ID: "c1", DocumentID: "doc-1", Content: "hello", TokenCount: 2,
		Embedding: domain.NewEmbedding("e1", "c1", "doc-1", []float32{1, 0}, "m", testTime)}
	svc.On("ListChunks", mock.Anything, "doc-1").Return([]*domain.Chunk{chunk}, nil)

	w := httptest.NewRecorder()
	handler.ListChunks(w, withID(httptest.NewRequest(http.MethodGet, "/documents/doc-1/chunks", nil), "doc-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp []ChunkResponse
	decodeData(t, w, &resp)
	require.Len(t, resp, 1)
	require.NotNil(t, resp[0].Embedding)
	assert.Equal(t, 2, resp[0].Embedding.Dimensions)
	assert.Equal(t, "m", resp[0].Embedding.Model)
}

func TestDocumentHandler_Reprocess(t *testing.T) {
	t.Run("empty body keeps settings", func(t *testing.T) {
		svc := new(MockDocumentService)
		handler := NewDocumentHandler(svc, nil)
		svc.On("Reprocess", mock.Anything, "doc-1", service.ReprocessOptions{}).Return(testDocument(domain.DocumentStatusCompleted), nil)

		w := httptest.NewRecorder()
		handler.Reprocess(w, withID(httptest.NewRequest(http.MethodPost, "/documents/doc-1/reprocess", nil), "doc-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("new settings", func(t *testing.T) {
		svc := new(MockDocumentService)
		handler := NewDocumentHandler(svc, nil)
		svc.On("Reprocess", mock.Anything, "doc-1", mock.MatchedBy(func(o service.ReprocessOptions) bool {
			return o.ChunkSize == 500 && o.ChunkOverlap != nil && *o.ChunkOverlap == 0
		})).Return(testDocument(domain.DocumentStatusCompleted), nil)

		w := httptest.NewRecorder()
		body := jsonBody(t, map[string]any{"chunk_size": 500, "chunk_overlap": 0})
		handler.Reprocess(w, withID(httptest.NewRequest(http.MethodPost, "/documents/doc-1/reprocess", body), "doc-1"))

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("async", func(t *testing.T) {
		svc := new(MockDocumentService)
		queue := new(MockJobEnqueuer)
		handler := NewDocumentHandler(svc, queue)
		queue.On("EnqueueReprocess", mock.Anything, "doc-1", mock.Anything).Return(
			testDocument(domain.DocumentStatusPending),
			domain.NewProcessingJob("job-9", "doc-1", domain.JobKindReprocess, testTime), nil)

		w := httptest.NewRecorder()
		body := jsonBody(t, map[string]any{"async": true})
		handler.Reprocess(w, withID(httptest.NewRequest(http.MethodPost, "/documents/doc-1/reprocess", body), "doc-1"))

		assert.Equal(t, http.StatusAccepted, w.Code)
		var resp IngestResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "job-9", resp.JobID)
	})
}

func TestDocumentHandler_Delete(t *testing.T) {
	svc := new(MockDocumentService)
	handler := NewDocumentHandler(svc, nil)

	svc.On("Delete", mock.Anything, "doc-1").Return(nil)
	svc.On("Delete", mock.Anything, "missing").Return(domain.ErrDocumentNotFound)

	w := httptest.NewRecorder()
	handler.Delete(w, withID(httptest.NewRequest(http.MethodDelete, "/documents/doc-1", nil), "doc-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	handler.Delete(w, withID(httptest.NewRequest(http.MethodDelete, "/documents/missing", nil), "missing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
