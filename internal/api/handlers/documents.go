package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/docvec/internal/api"
	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
)

// DocumentService is the document side of the pipeline
type DocumentService interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error)
	Prepare(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error)
	Get(ctx context.Context, documentID string) (*domain.Document, error)
	List(ctx context.Context, cursor string, limit int) (*service.ListDocumentsOutput, error)
	ListChunks(ctx context.Context, documentID string) ([]*domain.Chunk, error)
	Reprocess(ctx context.Context, documentID string, opts service.ReprocessOptions) (*domain.Document, error)
	Delete(ctx context.Context, documentID string) error
}

// JobEnqueuer queues background processing
type JobEnqueuer interface {
	EnqueueProcess(ctx context.Context, documentID string) (*domain.ProcessingJob, error)
	EnqueueReprocess(ctx context.Context, documentID string, opts service.ReprocessOptions) (*domain.Document, *domain.ProcessingJob, error)
}

type DocumentHandler struct {
	svc   DocumentService
	queue JobEnqueuer
}

// NewDocumentHandler creates a DocumentHandler. queue may be nil, in which
// case async requests are processed synchronously.
func NewDocumentHandler(svc DocumentService, queue JobEnqueuer) *DocumentHandler {
	return &DocumentHandler{svc: svc, queue: queue}
}

type CreateDocumentRequest struct {
	Location     string         `json:"location" validate:"required"`
	Content      string         `json:"content"`
	Data         []byte         `json:"data"`
	DocumentType string         `json:"document_type"`
	Metadata     map[string]any `json:"metadata"`
	ChunkSize    int            `json:"chunk_size" validate:"gte=0"`
	ChunkOverlap int            `json:"chunk_overlap" validate:"gte=0"`
	Async        bool           `json:"async"`
}

type ReprocessDocumentRequest struct {
	ChunkSize    int  `json:"chunk_size" validate:"gte=0"`
	ChunkOverlap *int `json:"chunk_overlap" validate:"omitnil,gte=0"`
	Async        bool `json:"async"`
}

type DocumentResponse struct {
	ID                   string         `json:"id"`
	Location             string         `json:"location"`
	DocumentType         string         `json:"document_type"`
	Status               string         `json:"status"`
	Content              string         `json:"content,omitempty"`
	ChunkSize            int            `json:"chunk_size"`
	ChunkOverlap         int            `json:"chunk_overlap"`
	Metadata             map[string]any `json:"metadata"`
	Error                string         `json:"error,omitempty"`
	ProcessingStartedAt  *time.Time     `json:"processing_started_at,omitempty"`
	ProcessingFinishedAt *time.Time     `json:"processing_finished_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type IngestResponse struct {
	Outcome  string            `json:"outcome"`
	Document *DocumentResponse `json:"document"`
	JobID    string            `json:"job_id,omitempty"`
}

type ListDocumentsResponse struct {
	Items   []*DocumentResponse `json:"items"`
	Cursor  string              `json:"cursor,omitempty"`
	HasMore bool                `json:"has_more"`
}

type EmbeddingResponse struct {
	ID         string     `json:"id"`
	Model      string     `json:"model"`
	Dimensions int        `json:"dimensions"`
	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

type ChunkResponse struct {
	ID         string             `json:"id"`
	ChunkIndex int                `json:"chunk_index"`
	Content    string             `json:"content"`
	TokenCount int                `json:"token_count"`
	Metadata   map[string]any     `json:"metadata,omitempty"`
	Embedding  *EmbeddingResponse `json:"embedding,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

func documentToResponse(d *domain.Document, withContent bool) *DocumentResponse {
	resp := &DocumentResponse{
		ID:                   d.ID,
		Location:             d.Location,
		DocumentType:         d.DocumentType,
		Status:               string(d.Status),
		ChunkSize:            d.ChunkSize,
		ChunkOverlap:         d.ChunkOverlap,
		Metadata:             d.Metadata,
		Error:                d.Error,
		ProcessingStartedAt:  d.ProcessingStartedAt,
		ProcessingFinishedAt: d.ProcessingFinishedAt,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
	if withContent {
		resp.Content = d.Content
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	return resp
}

func chunkToResponse(c *domain.Chunk) *ChunkResponse {
	resp := &ChunkResponse{
		ID:         c.ID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		TokenCount: c.TokenCount,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt,
	}
	if e := c.Embedding; e != nil {
		resp.Embedding = &EmbeddingResponse{
			ID:         e.ID,
			Model:      e.ModelName,
			Dimensions: e.Dimensions,
			UsageCount: e.UsageCount,
			LastUsedAt: e.LastUsedAt,
		}
	}
	return resp
}

// Create ingests one document. It answers 201 when the document was
// processed, 200 when it was already up to date and 202 when processing was
// queued.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		api.Error(w, decodeStatus(err), err.Error())
		return
	}
	if req.Content == "" && len(req.Data) == 0 {
		api.Error(w, http.StatusBadRequest, "content or data is required")
		return
	}

	ingest := service.IngestRequest{
		Location:     req.Location,
		Content:      req.Content,
		Data:         req.Data,
		DocumentType: req.DocumentType,
		Metadata:     req.Metadata,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	}

	if req.Async && h.queue != nil {
		h.createAsync(w, r, ingest)
		return
	}

	res, err := h.svc.Ingest(r.Context(), ingest)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Outcome == service.OutcomeSkipped {
		status = http.StatusOK
	}
	api.Success(w, status, &IngestResponse{Outcome: string(res.Outcome), Document: documentToResponse(res.Document, false)})
}

func (h *DocumentHandler) createAsync(w http.ResponseWriter, r *http.Request, req service.IngestRequest) {
	res, err := h.svc.Prepare(r.Context(), req)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if res.Outcome == service.OutcomeSkipped {
		api.Success(w, http.StatusOK, &IngestResponse{Outcome: string(res.Outcome), Document: documentToResponse(res.Document, false)})
		return
	}

	job, err := h.queue.EnqueueProcess(r.Context(), res.Document.ID)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, &IngestResponse{
		Outcome:  "queued",
		Document: documentToResponse(res.Document, false),
		JobID:    job.ID,
	})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, documentToResponse(doc, true))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	out, err := h.svc.List(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, 0, len(out.Items))
	for _, d := range out.Items {
		items = append(items, documentToResponse(d, false))
	}
	api.Success(w, http.StatusOK, &ListDocumentsResponse{Items: items, Cursor: out.Cursor, HasMore: out.HasMore})
}

func (h *DocumentHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.svc.ListChunks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	out := make([]*ChunkResponse, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkToResponse(c))
	}
	api.Success(w, http.StatusOK, out)
}

// Reprocess replaces a document's chunks, optionally with new chunk
// settings. An empty body keeps the stored settings.
func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ReprocessDocumentRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		api.Error(w, decodeStatus(err), err.Error())
		return
	}
	opts := service.ReprocessOptions{ChunkSize: req.ChunkSize, ChunkOverlap: req.ChunkOverlap}

	if req.Async && h.queue != nil {
		doc, job, err := h.queue.EnqueueReprocess(r.Context(), id, opts)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		api.Success(w, http.StatusAccepted, &IngestResponse{Outcome: "queued", Document: documentToResponse(doc, false), JobID: job.ID})
		return
	}

	doc, err := h.svc.Reprocess(r.Context(), id, opts)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, &IngestResponse{Outcome: string(service.OutcomeProcessed), Document: documentToResponse(doc, false)})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
