package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/pagination"
	"github.com/cloo-solutions/docvec/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const defaultDocumentType = "text"

// ParseInput is the raw material handed to a DocumentParser.
type ParseInput struct {
	Location     string
	DocumentType string
	Data         []byte
}

// ParsedDocument is the text extracted from a source.
type ParsedDocument struct {
	Content      string
	Metadata     map[string]any
	DocumentType string
}

// DocumentParser extracts text from raw bytes. Unknown formats fail with an
// UnsupportedFormat error; malformed input fails with a ParseError.
type DocumentParser interface {
	Parse(ctx context.Context, in ParseInput) (*ParsedDocument, error)
}

// PipelineConfig holds pipeline defaults.
type PipelineConfig struct {
	Chunk           ChunkConfig
	IngestBatchSize int
	Concurrency     int
	EmbedBatchSize  int
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Chunk:           DefaultChunkConfig(),
		IngestBatchSize: 50,
		Concurrency:     4,
		EmbedBatchSize:  32,
	}
}

// IngestRequest describes one source to ingest. Content, when set, is used
// as-is. Otherwise Data, or the file at Path, is parsed.
type IngestRequest struct {
	Location      string
	Content       string
	Data          []byte
	Path          string
	DocumentType  string
	Metadata      map[string]any
	ChunkSize     int
	ChunkOverlap  int
	SourceModTime *time.Time
	// Release frees resources held for the request, such as a temp file. It
	// runs once the request's batch has finished.
	Release func()
}

// IngestOutcome tells the caller what happened to an ingest request.
type IngestOutcome string

const (
	OutcomePrepared  IngestOutcome = "prepared"
	OutcomeSkipped   IngestOutcome = "skipped"
	OutcomeProcessed IngestOutcome = "processed"
	OutcomeFailed    IngestOutcome = "failed"
	OutcomeCancelled IngestOutcome = "cancelled"
)

// IngestResult is the outcome of one ingest request.
type IngestResult struct {
	Outcome  IngestOutcome
	Document *domain.Document
}

// ReprocessOptions overrides the document's chunk settings. Nil or zero
// values keep the stored settings.
type ReprocessOptions struct {
	ChunkSize    int
	ChunkOverlap *int
}

// BatchItem is the per-request result of IngestBatch.
type BatchItem struct {
	Location   string
	Outcome    IngestOutcome
	DocumentID string
	Err        error
}

// BatchResult enumerates what happened to each request of a batch ingest.
type BatchResult struct {
	Items     []BatchItem
	Processed int
	Skipped   int
	Failed    int
	Cancelled int
}

// ListDocumentsOutput is a page of documents.
type ListDocumentsOutput struct {
	Items   []*domain.Document
	Cursor  string
	HasMore bool
}

// DocumentPipeline drives documents from ingestion to searchable chunks.
type DocumentPipeline struct {
	docs     DocumentRepository
	chunks   ChunkStore
	tx       TxRunner
	embedder Embedder
	parser   DocumentParser
	sink     NotificationSink
	cfg      PipelineConfig
	uuidGen  UUIDGenerator
	locks    *keyedMutex
	now      func() time.Time
}

// NewDocumentPipeline creates a DocumentPipeline. parser and sink may be nil.
func NewDocumentPipeline(
	docs DocumentRepository,
	chunks ChunkStore,
	tx TxRunner,
	embedder Embedder,
	parser DocumentParser,
	sink NotificationSink,
	cfg PipelineConfig,
) *DocumentPipeline {
	defaults := DefaultPipelineConfig()
	if cfg.Chunk.Size <= 0 {
		cfg.Chunk = defaults.Chunk
	}
	cfg.Chunk = cfg.Chunk.Normalized()
	if cfg.IngestBatchSize <= 0 {
		cfg.IngestBatchSize = defaults.IngestBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = defaults.EmbedBatchSize
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &DocumentPipeline{
		docs:     docs,
		chunks:   chunks,
		tx:       tx,
		embedder: embedder,
		parser:   parser,
		sink:     sink,
		cfg:      cfg,
		uuidGen:  &DefaultUUIDGenerator{},
		locks:    newKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest creates or refreshes the document for req and processes it. A
// document already up to date is returned with OutcomeSkipped. A failure
// returns OutcomeFailed with the failed document together with the error.
func (p *DocumentPipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	unlock := p.locks.Lock("location:" + req.Location)
	defer unlock()

	res, err := p.prepare(ctx, req)
	if err != nil || res.Outcome != OutcomePrepared {
		return res, err
	}

	doc, err := p.Process(ctx, res.Document.ID)
	if err != nil {
		return &IngestResult{Outcome: OutcomeFailed, Document: doc}, err
	}
	return &IngestResult{Outcome: OutcomeProcessed, Document: doc}, nil
}

// Prepare stores the document for req in pending state without processing
// it, for callers that queue processing. It skips documents already up to
// date.
func (p *DocumentPipeline) Prepare(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	unlock := p.locks.Lock("location:" + req.Location)
	defer unlock()

	return p.prepare(ctx, req)
}

func (p *DocumentPipeline) prepare(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	req.Location = strings.TrimSpace(req.Location)
	if req.Location == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrMissingRequiredField.Message,
			errors.New("location"))
	}
	if req.ChunkSize < 0 || req.ChunkOverlap < 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "chunk settings cannot be negative")
	}

	existing, err := p.docs.GetByLocation(ctx, req.Location)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, err
	}

	if existing != nil && req.SourceModTime != nil && existing.Status != domain.DocumentStatusFailed &&
		!existing.UpdatedAt.Before(*req.SourceModTime) {
		return &IngestResult{Outcome: OutcomeSkipped, Document: existing}, nil
	}

	now := p.now()
	parsed, parseErr := p.resolveContent(ctx, req)
	if parseErr != nil {
		if domain.HasCode(parseErr, domain.ErrCodeValidation) {
			return nil, parseErr
		}
		doc := existing
		if doc == nil {
			doc = domain.NewDocument(p.uuidGen.NewString(), req.Location, "", req.DocumentType, req.Metadata, now)
		}
		doc.Fail(now, parseErr)
		if err := p.saveDocument(ctx, doc, existing == nil); err != nil {
			log.Printf("pipeline: failed to record parse failure for %s: %v", req.Location, err)
		}
		if existing != nil {
			if err := p.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
				log.Printf("pipeline: failed to purge chunks of document %s: %v", doc.ID, err)
			}
		}
		p.notify(ctx, ProgressEvent{DocumentID: doc.ID, Location: doc.Location, Phase: PhaseFailed,
			Status: string(doc.Status), Error: parseErr.Error()})
		return &IngestResult{Outcome: OutcomeFailed, Document: doc}, parseErr
	}

	if existing != nil && req.SourceModTime == nil &&
		existing.Status == domain.DocumentStatusCompleted && existing.Content == parsed.Content {
		return &IngestResult{Outcome: OutcomeSkipped, Document: existing}, nil
	}

	doc := existing
	if doc == nil {
		doc = domain.NewDocument(p.uuidGen.NewString(), req.Location, parsed.Content, parsed.DocumentType, parsed.Metadata, now)
	} else {
		doc.Content = parsed.Content
		doc.DocumentType = parsed.DocumentType
		doc.Metadata = parsed.Metadata
		doc.ResetForReprocess(now)
	}
	doc.ChunkSize = req.ChunkSize
	doc.ChunkOverlap = req.ChunkOverlap

	if err := domain.ValidateDocument(doc); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err)
	}
	if err := p.saveDocument(ctx, doc, existing == nil); err != nil {
		return nil, err
	}

	return &IngestResult{Outcome: OutcomePrepared, Document: doc}, nil
}

func (p *DocumentPipeline) saveDocument(ctx context.Context, doc *domain.Document, create bool) error {
	if create {
		return p.docs.Create(ctx, doc)
	}
	return p.docs.Update(ctx, doc)
}

// resolveContent returns the text for req, parsing raw bytes when no text
// was supplied. Unknown formats fall back to plain text.
func (p *DocumentPipeline) resolveContent(ctx context.Context, req IngestRequest) (*ParsedDocument, error) {
	out := &ParsedDocument{Content: req.Content, DocumentType: req.DocumentType}

	if req.Content == "" {
		data := req.Data
		if data == nil && req.Path != "" {
			b, err := os.ReadFile(req.Path)
			if err != nil {
				return nil, domain.NewParseError("failed to read source", err)
			}
			data = b
		}
		if data == nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrMissingRequiredField.Message,
				errors.New("content, data or path"))
		}

		parsed, err := p.parse(ctx, req, data)
		if err != nil {
			return nil, err
		}
		out.Content = parsed.Content
		if parsed.DocumentType != "" {
			out.DocumentType = parsed.DocumentType
		}
		out.Metadata = parsed.Metadata
	}

	if out.DocumentType == "" {
		out.DocumentType = defaultDocumentType
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	for k, v := range req.Metadata {
		out.Metadata[k] = v
	}
	return out, nil
}

func (p *DocumentPipeline) parse(ctx context.Context, req IngestRequest, data []byte) (*ParsedDocument, error) {
	if p.parser != nil {
		parsed, err := p.parser.Parse(ctx, ParseInput{Location: req.Location, DocumentType: req.DocumentType, Data: data})
		if err == nil {
			return parsed, nil
		}
		if !domain.IsUnsupportedFormat(err) {
			if !domain.IsParseError(err) {
				err = domain.NewParseError("failed to parse document", err)
			}
			return nil, err
		}
	}

	text, err := rawText(data)
	if err != nil {
		return nil, err
	}
	return &ParsedDocument{Content: text, DocumentType: req.DocumentType}, nil
}

// rawText reads data as UTF-8 text with NUL bytes removed.
func rawText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", domain.NewParseError("content is not valid UTF-8 text", nil)
	}
	return strings.ReplaceAll(string(data), "\x00", ""), nil
}

// Process chunks and embeds a pending document. On failure the document is
// marked failed, its embeddings are purged and the error is returned.
func (p *DocumentPipeline) Process(ctx context.Context, documentID string) (*domain.Document, error) {
	unlock := p.locks.Lock("document:" + documentID)
	defer unlock()

	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return p.process(ctx, doc)
}

// Reprocess clears a document's chunks, resets it to pending and processes
// it again, optionally with new chunk settings.
func (p *DocumentPipeline) Reprocess(ctx context.Context, documentID string, opts ReprocessOptions) (*domain.Document, error) {
	unlock := p.locks.Lock("document:" + documentID)
	defer unlock()

	ctx, span := telemetry.StartSpan(ctx, "DocumentPipeline.Reprocess", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "reprocess",
	})
	defer span.End()

	var doc *domain.Document
	err := p.tx.WithTx(ctx, func(repos TxRepositories) error {
		var err error
		doc, err = ResetDocument(ctx, repos, documentID, opts, p.now())
		return err
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	doc, err = p.process(ctx, doc)
	if err != nil {
		span.SetError(err)
	}
	return doc, err
}

// ResetDocument deletes a document's chunks and returns it to pending with
// opts applied. It runs inside the caller's transaction.
func ResetDocument(ctx context.Context, repos TxRepositories, documentID string, opts ReprocessOptions, now time.Time) (*domain.Document, error) {
	if opts.ChunkSize < 0 || (opts.ChunkOverlap != nil && *opts.ChunkOverlap < 0) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "chunk settings cannot be negative")
	}

	if err := repos.LockDocument(ctx, documentID); err != nil {
		return nil, err
	}
	doc, err := repos.Documents().GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := repos.Chunks().DeleteByDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}

	if opts.ChunkSize > 0 {
		doc.ChunkSize = opts.ChunkSize
	}
	if opts.ChunkOverlap != nil {
		doc.ChunkOverlap = *opts.ChunkOverlap
	}
	doc.ResetForReprocess(now)

	if err := repos.Documents().Update(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// chunkConfigFor resolves a document's chunk settings against the defaults.
func (p *DocumentPipeline) chunkConfigFor(doc *domain.Document) ChunkConfig {
	if doc.ChunkSize <= 0 {
		return p.cfg.Chunk
	}
	return ChunkConfig{Size: doc.ChunkSize, Overlap: doc.ChunkOverlap}.Normalized()
}

func (p *DocumentPipeline) process(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentPipeline.Process", telemetry.SpanAttributes{
		DocumentID: doc.ID,
		Location:   doc.Location,
		Model:      p.embedder.ModelName(),
		Operation:  "process",
	})
	defer span.End()

	if err := doc.StartProcessing(p.now()); err != nil {
		return doc, err
	}
	cfg := p.chunkConfigFor(doc)
	doc.ChunkSize, doc.ChunkOverlap = cfg.Size, cfg.Overlap

	if err := p.docs.Update(ctx, doc); err != nil {
		return doc, p.fail(ctx, doc, err)
	}
	p.notify(ctx, ProgressEvent{DocumentID: doc.ID, Location: doc.Location, Phase: PhaseStarted, Status: string(doc.Status)})

	pieces := make([]string, 0)
	inputs := make([]string, 0)
	for _, piece := range ChunkText(doc.Content, cfg) {
		cleaned := p.embedder.Clean(piece)
		if cleaned == "" {
			continue
		}
		pieces = append(pieces, piece)
		inputs = append(inputs, cleaned)
	}
	total := len(pieces)
	p.notify(ctx, ProgressEvent{DocumentID: doc.ID, Location: doc.Location, Phase: PhaseChunked, Total: total, Status: string(doc.Status)})

	vectors := make([][]float32, 0, total)
	for start := 0; start < total; start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > total {
			end = total
		}
		batch, err := p.embedder.GenerateEmbeddingsBatch(ctx, inputs[start:end])
		if err != nil {
			span.SetError(err)
			return doc, p.fail(ctx, doc, err)
		}
		if len(batch) != end-start {
			err := domain.NewEmbeddingError("embedding count mismatch",
				fmt.Errorf("got %d vectors for %d chunks", len(batch), end-start))
			span.SetError(err)
			return doc, p.fail(ctx, doc, err)
		}
		vectors = append(vectors, batch...)
		p.notify(ctx, ProgressEvent{DocumentID: doc.ID, Location: doc.Location, Phase: PhaseEmbedding,
			Processed: end, Total: total, Status: string(doc.Status)})
	}

	now := p.now()
	model := p.embedder.ModelName()
	chunks := make([]*domain.Chunk, total)
	for i, piece := range pieces {
		chunkID := p.uuidGen.NewString()
		chunks[i] = &domain.Chunk{
			ID:         chunkID,
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    piece,
			TokenCount: domain.EstimateTokens(piece),
			Metadata:   map[string]any{"location": doc.Location, "document_type": doc.DocumentType},
			Embedding:  domain.NewEmbedding(p.uuidGen.NewString(), chunkID, doc.ID, vectors[i], model, now),
			CreatedAt:  now,
		}
	}

	err := p.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.LockDocument(ctx, doc.ID); err != nil {
			return err
		}
		if err := repos.Chunks().ReplaceChunks(ctx, doc.ID, chunks); err != nil {
			return fmt.Errorf("replace chunks: %w", err)
		}
		if err := doc.Complete(now); err != nil {
			return err
		}
		return repos.Documents().Update(ctx, doc)
	})
	if err != nil {
		span.SetError(err)
		return doc, p.fail(ctx, doc, err)
	}

	p.notify(ctx, ProgressEvent{DocumentID: doc.ID, Location: doc.Location, Phase: PhaseCompleted,
		Processed: total, Total: total, Status: string(doc.Status)})
	return doc, nil
}

// fail records cause on the document, purges any embeddings it still has
// and returns cause.
func (p *DocumentPipeline) fail(ctx context.Context, doc *domain.Document, cause error) error {
	log.Printf("pipeline: document %s failed: %v", doc.ID, cause)

	// Bookkeeping must outlive a cancelled request.
	ctx = context.WithoutCancel(ctx)

	doc.Fail(p.now(), cause)
	if err := p.docs.Update(ctx, doc); err != nil {
		log.Printf("pipeline: failed to mark document %s failed: %v", doc.ID, err)
		telemetry.CaptureError(ctx, err)
	}
	if err := p.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
		log.Printf("pipeline: failed to purge chunks of document %s: %v", doc.ID, err)
		telemetry.CaptureError(ctx, err)
	}
	p.notify(ctx, ProgressEvent{DocumentID: doc.ID, Location: doc.Location, Phase: PhaseFailed,
		Status: string(doc.Status), Error: cause.Error()})
	return cause
}

// Delete removes a document with its chunks and embeddings.
func (p *DocumentPipeline) Delete(ctx context.Context, documentID string) error {
	unlock := p.locks.Lock("document:" + documentID)
	defer unlock()

	if _, err := p.docs.GetByID(ctx, documentID); err != nil {
		return err
	}
	return p.docs.Delete(ctx, documentID)
}

// DeleteByLocation removes the document stored under location. It reports
// false when there was none.
func (p *DocumentPipeline) DeleteByLocation(ctx context.Context, location string) (bool, error) {
	unlock := p.locks.Lock("location:" + location)
	defer unlock()

	doc, err := p.docs.GetByLocation(ctx, location)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := p.Delete(ctx, doc.ID); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a document by ID.
func (p *DocumentPipeline) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	return p.docs.GetByID(ctx, documentID)
}

// ListChunks returns a document's chunks in index order.
func (p *DocumentPipeline) ListChunks(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	if _, err := p.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return p.chunks.ListByDocument(ctx, documentID)
}

// List returns a page of documents, newest first.
func (p *DocumentPipeline) List(ctx context.Context, cursor string, limit int) (*ListDocumentsOutput, error) {
	limit = pagination.Limit(limit)
	decoded, err := pagination.Decode(cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}

	items, err := p.docs.List(ctx, decoded, limit+1)
	if err != nil {
		return nil, err
	}

	items, next, hasMore := pagination.Page(items, limit, func(d *domain.Document) pagination.Cursor {
		return pagination.Cursor{ID: d.ID, CreatedAt: d.CreatedAt}
	})
	return &ListDocumentsOutput{Items: items, Cursor: next, HasMore: hasMore}, nil
}

// IngestBatch ingests reqs in fixed-size batches. Requests inside a batch
// run concurrently; each request's Release hook runs when its batch is done.
// An error on one request never stops the others. Once ctx is cancelled no
// new request is started and the remaining ones are reported as cancelled.
func (p *DocumentPipeline) IngestBatch(ctx context.Context, reqs []IngestRequest) *BatchResult {
	ctx, span := telemetry.StartSpan(ctx, "DocumentPipeline.IngestBatch", telemetry.SpanAttributes{
		Operation: "ingest_batch",
	})
	defer span.End()

	items := make([]BatchItem, len(reqs))
	var done int64

	for start := 0; start < len(reqs); start += p.cfg.IngestBatchSize {
		end := start + p.cfg.IngestBatchSize
		if end > len(reqs) {
			end = len(reqs)
		}

		var g errgroup.Group
		g.SetLimit(p.cfg.Concurrency)
		for i := start; i < end; i++ {
			items[i] = BatchItem{Location: reqs[i].Location, Outcome: OutcomeCancelled}
			if ctx.Err() != nil {
				items[i].Err = context.Cause(ctx)
				continue
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					items[i].Err = context.Cause(ctx)
					return nil
				}
				items[i] = p.ingestItem(ctx, reqs[i])
				n := atomic.AddInt64(&done, 1)
				p.notify(ctx, ProgressEvent{DocumentID: items[i].DocumentID, Location: items[i].Location,
					Phase: PhaseBatch, Processed: int(n), Total: len(reqs), Status: string(items[i].Outcome),
					Error: errString(items[i].Err)})
				return nil
			})
		}
		_ = g.Wait()

		for i := start; i < end; i++ {
			if reqs[i].Release != nil {
				reqs[i].Release()
			}
		}
	}

	res := &BatchResult{Items: items}
	for _, it := range items {
		switch it.Outcome {
		case OutcomeProcessed:
			res.Processed++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeCancelled:
			res.Cancelled++
		default:
			res.Failed++
		}
	}
	return res
}

func (p *DocumentPipeline) ingestItem(ctx context.Context, req IngestRequest) BatchItem {
	item := BatchItem{Location: req.Location}
	res, err := p.Ingest(ctx, req)
	if res != nil {
		item.Outcome = res.Outcome
		if res.Document != nil {
			item.DocumentID = res.Document.ID
		}
	}
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Err = err
	}
	return item
}

func (p *DocumentPipeline) notify(ctx context.Context, ev ProgressEvent) {
	if ev.At.IsZero() {
		ev.At = p.now()
	}
	telemetry.AddBreadcrumb(ctx, "pipeline", string(ev.Phase)+" "+ev.Location)
	if err := p.sink.Notify(ctx, ev); err != nil {
		log.Printf("pipeline: progress notification failed: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
