// Package memstore keeps documents, chunks and jobs in process memory. It
// backs DOCVEC_STORE=memory and the tests that should not need Docker.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/pagination"
	"github.com/cloo-solutions/docvec/internal/service"
)

// Store implements every repository interface of the service package.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	docs       map[string]*domain.Document
	byLocation map[string]string
	chunks     map[string][]*domain.Chunk
	jobs       map[string]*domain.ProcessingJob
	records    []*domain.SearchRecord
}

func New() *Store {
	return &Store{
		docs:       make(map[string]*domain.Document),
		byLocation: make(map[string]string),
		chunks:     make(map[string][]*domain.Chunk),
		jobs:       make(map[string]*domain.ProcessingJob),
	}
}

// WithTx runs fn with transactions serialized. Writes made through repos are
// staged and applied together when fn returns nil; on error they are
// discarded. Writes made outside the transaction are never rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	t := newTx(s)
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) Documents() service.DocumentRepository { return s }
func (s *Store) Chunks() service.ChunkStore           { return chunkStore{s} }
func (s *Store) Jobs() service.JobRepository          { return jobStore{s} }

// JobStore returns the store's job queue view.
func (s *Store) JobStore() *JobStore { return &JobStore{s} }

// Create stores a new document. Locations are unique.
func (s *Store) Create(ctx context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return domain.ErrDocumentAlreadyExists
	}
	if _, ok := s.byLocation[doc.Location]; ok {
		return domain.ErrDocumentAlreadyExists
	}
	s.docs[doc.ID] = cloneDocument(doc)
	s.byLocation[doc.Location] = doc.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (s *Store) GetByLocation(ctx context.Context, location string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLocation[location]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return cloneDocument(s.docs[id]), nil
}

func (s *Store) Update(ctx context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.docs[doc.ID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if old.Location != doc.Location {
		if _, taken := s.byLocation[doc.Location]; taken {
			return domain.ErrDocumentAlreadyExists
		}
		delete(s.byLocation, old.Location)
		s.byLocation[doc.Location] = doc.ID
	}
	s.docs[doc.ID] = cloneDocument(doc)
	return nil
}

// Delete removes a document with its chunks and embeddings.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	delete(s.byLocation, doc.Location)
	delete(s.docs, id)
	delete(s.chunks, id)
	for jid, j := range s.jobs {
		if j.DocumentID == id {
			delete(s.jobs, jid)
		}
	}
	return nil
}

// List returns documents newest first, starting after cursor.
func (s *Store) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		all = append(all, d)
	}
	return pageDocuments(all, cursor, limit), nil
}

func pageDocuments(all []*domain.Document, cursor *pagination.Cursor, limit int) []*domain.Document {
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	out := make([]*domain.Document, 0, limit)
	for _, d := range all {
		if cursor != nil {
			if d.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if d.CreatedAt.Equal(cursor.CreatedAt) && d.ID >= cursor.ID {
				continue
			}
		}
		out = append(out, cloneDocument(d))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Records returns the stored search records.
func (s *Store) Records() []*domain.SearchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.SearchRecord(nil), s.records...)
}

// SearchRecords returns the store's search analytics view.
func (s *Store) SearchRecords() service.SearchRecordRepository { return recordStore{s} }

type recordStore struct{ s *Store }

func (r recordStore) Create(ctx context.Context, rec *domain.SearchRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *rec
	r.s.records = append(r.s.records, &cp)
	return nil
}

func cloneDocument(d *domain.Document) *domain.Document {
	cp := *d
	if d.Metadata != nil {
		cp.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneChunk(c *domain.Chunk) *domain.Chunk {
	cp := *c
	if c.Embedding != nil {
		e := *c.Embedding
		e.Vector = append([]float32(nil), c.Embedding.Vector...)
		if c.Embedding.LastUsedAt != nil {
			t := *c.Embedding.LastUsedAt
			e.LastUsedAt = &t
		}
		cp.Embedding = &e
	}
	return &cp
}
