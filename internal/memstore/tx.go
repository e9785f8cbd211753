package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/pagination"
	"github.com/cloo-solutions/docvec/internal/service"
)

// tx stages writes on top of the store. Reads through it see the staged
// state; nothing reaches the store until commit.
type tx struct {
	s *Store

	// A nil value marks a deleted document or a dropped chunk set.
	docs   map[string]*domain.Document
	chunks map[string][]*domain.Chunk
	jobs   []*domain.ProcessingJob
}

func newTx(s *Store) *tx {
	return &tx{
		s:      s,
		docs:   make(map[string]*domain.Document),
		chunks: make(map[string][]*domain.Chunk),
	}
}

// LockDocument is a no-op: WithTx already runs one transaction at a time.
func (t *tx) LockDocument(context.Context, string) error { return nil }

func (t *tx) Documents() service.DocumentRepository { return txDocuments{t} }
func (t *tx) Chunks() service.ChunkStore           { return txChunks{t} }
func (t *tx) Jobs() service.JobRepository          { return txJobs{t} }

// lookup returns a copy of the document as the transaction sees it, or nil.
func (t *tx) lookup(id string) *domain.Document {
	if d, ok := t.docs[id]; ok {
		if d == nil {
			return nil
		}
		return cloneDocument(d)
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	d, ok := t.s.docs[id]
	if !ok {
		return nil
	}
	return cloneDocument(d)
}

// owner reports which document holds location as the transaction sees it.
func (t *tx) owner(location string) (string, bool) {
	for id, d := range t.docs {
		if d != nil && d.Location == location {
			return id, true
		}
	}
	t.s.mu.RLock()
	id, ok := t.s.byLocation[location]
	t.s.mu.RUnlock()
	if !ok {
		return "", false
	}
	// A staged version of that document has moved or been deleted.
	if _, staged := t.docs[id]; staged {
		return "", false
	}
	return id, true
}

// commit applies the staged writes under one lock. Conflicts with writes
// made outside the transaction are checked before anything changes.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	exists := func(id string) bool {
		if d, ok := t.docs[id]; ok {
			return d != nil
		}
		_, ok := s.docs[id]
		return ok
	}
	for id, d := range t.docs {
		if d == nil {
			continue
		}
		if holder, ok := s.byLocation[d.Location]; ok && holder != id {
			if _, moved := t.docs[holder]; !moved {
				return domain.ErrDocumentAlreadyExists
			}
		}
	}
	for id, set := range t.chunks {
		if set != nil && !exists(id) {
			return domain.ErrDocumentNotFound
		}
	}
	for _, j := range t.jobs {
		if !exists(j.DocumentID) {
			return domain.ErrDocumentNotFound
		}
	}

	for id := range t.docs {
		if old, ok := s.docs[id]; ok && s.byLocation[old.Location] == id {
			delete(s.byLocation, old.Location)
		}
	}
	for id, d := range t.docs {
		if d != nil {
			s.docs[id] = d
			s.byLocation[d.Location] = id
			continue
		}
		delete(s.docs, id)
		delete(s.chunks, id)
		for jid, j := range s.jobs {
			if j.DocumentID == id {
				delete(s.jobs, jid)
			}
		}
	}
	for id, set := range t.chunks {
		if set == nil {
			delete(s.chunks, id)
			continue
		}
		s.chunks[id] = set
	}
	for _, j := range t.jobs {
		s.jobs[j.ID] = j
	}
	return nil
}

type txDocuments struct{ t *tx }

func (r txDocuments) Create(ctx context.Context, doc *domain.Document) error {
	if r.t.lookup(doc.ID) != nil {
		return domain.ErrDocumentAlreadyExists
	}
	if _, taken := r.t.owner(doc.Location); taken {
		return domain.ErrDocumentAlreadyExists
	}
	r.t.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r txDocuments) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	doc := r.t.lookup(id)
	if doc == nil {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

func (r txDocuments) GetByLocation(ctx context.Context, location string) (*domain.Document, error) {
	id, ok := r.t.owner(location)
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return r.GetByID(ctx, id)
}

func (r txDocuments) Update(ctx context.Context, doc *domain.Document) error {
	old := r.t.lookup(doc.ID)
	if old == nil {
		return domain.ErrDocumentNotFound
	}
	if old.Location != doc.Location {
		if _, taken := r.t.owner(doc.Location); taken {
			return domain.ErrDocumentAlreadyExists
		}
	}
	r.t.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r txDocuments) Delete(ctx context.Context, id string) error {
	if r.t.lookup(id) == nil {
		return domain.ErrDocumentNotFound
	}
	r.t.docs[id] = nil
	r.t.chunks[id] = nil
	kept := r.t.jobs[:0]
	for _, j := range r.t.jobs {
		if j.DocumentID != id {
			kept = append(kept, j)
		}
	}
	r.t.jobs = kept
	return nil
}

func (r txDocuments) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Document, error) {
	r.t.s.mu.RLock()
	all := make([]*domain.Document, 0, len(r.t.s.docs)+len(r.t.docs))
	for id, d := range r.t.s.docs {
		if _, staged := r.t.docs[id]; !staged {
			all = append(all, cloneDocument(d))
		}
	}
	r.t.s.mu.RUnlock()

	for _, d := range r.t.docs {
		if d != nil {
			all = append(all, d)
		}
	}
	return pageDocuments(all, cursor, limit), nil
}

type txChunks struct{ t *tx }

func (c txChunks) ReplaceChunks(ctx context.Context, documentID string, chunks []*domain.Chunk) error {
	for _, ch := range chunks {
		if ch.Embedding != nil {
			if err := domain.ValidateEmbedding(ch.Embedding); err != nil {
				return err
			}
		}
	}
	if c.t.lookup(documentID) == nil {
		return domain.ErrDocumentNotFound
	}
	set := make([]*domain.Chunk, len(chunks))
	for i, ch := range chunks {
		set[i] = cloneChunk(ch)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].ChunkIndex < set[j].ChunkIndex })
	c.t.chunks[documentID] = set
	return nil
}

func (c txChunks) DeleteByDocument(ctx context.Context, documentID string) error {
	c.t.chunks[documentID] = nil
	return nil
}

func (c txChunks) ListByDocument(ctx context.Context, documentID string) ([]*domain.Chunk, error) {
	set, staged := c.t.chunks[documentID]
	if !staged {
		return chunkStore{c.t.s}.ListByDocument(ctx, documentID)
	}
	out := make([]*domain.Chunk, len(set))
	for i, ch := range set {
		out[i] = cloneChunk(ch)
	}
	return out, nil
}

// Query reads committed chunks only.
func (c txChunks) Query(ctx context.Context, q service.VectorQuery) ([]service.Candidate, error) {
	return chunkStore{c.t.s}.Query(ctx, q)
}

// IncrementUsage is applied immediately and survives a rollback, like the
// counters bumped by searches running beside the transaction.
func (c txChunks) IncrementUsage(ctx context.Context, embeddingIDs []string, usedAt time.Time) error {
	return chunkStore{c.t.s}.IncrementUsage(ctx, embeddingIDs, usedAt)
}

type txJobs struct{ t *tx }

func (j txJobs) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if j.t.lookup(job.DocumentID) == nil {
		return domain.ErrDocumentNotFound
	}
	cp := *job
	j.t.jobs = append(j.t.jobs, &cp)
	return nil
}
