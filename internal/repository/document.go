package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/pagination"
)

const documentColumns = `id, location, content, document_type, status, chunk_size, chunk_overlap, metadata,
	error, processing_started_at, processing_finished_at, created_at, updated_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		doc.ID, doc.Location, doc.Content, doc.DocumentType, doc.Status, doc.ChunkSize, doc.ChunkOverlap, meta,
		nullableString(doc.Error), doc.ProcessingStartedAt, doc.ProcessingFinishedAt, doc.CreatedAt, doc.UpdatedAt,
	)
	if pgCode(err) == pgUniqueViolation {
		return domain.ErrDocumentAlreadyExists
	}
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, domain.ErrDocumentNotFound)
	}
	return doc, nil
}

func (r *DocumentRepository) GetByLocation(ctx context.Context, location string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE location = $1`, location)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, domain.ErrDocumentNotFound)
	}
	return doc, nil
}

func (r *DocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	meta, err := encodeMetadata(doc.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE documents
		 SET location = $2, content = $3, document_type = $4, status = $5, chunk_size = $6, chunk_overlap = $7,
		     metadata = $8, error = $9, processing_started_at = $10, processing_finished_at = $11, updated_at = $12
		 WHERE id = $1`,
		doc.ID, doc.Location, doc.Content, doc.DocumentType, doc.Status, doc.ChunkSize, doc.ChunkOverlap,
		meta, nullableString(doc.Error), doc.ProcessingStartedAt, doc.ProcessingFinishedAt, doc.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.ErrDocumentAlreadyExists
		}
		return notFound(err, domain.ErrDocumentNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// Delete removes the document. Chunks, embeddings and jobs cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return notFound(err, domain.ErrDocumentNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// List returns documents newest first, strictly after cursor.
func (r *DocumentRepository) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]*domain.Document, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor == nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 WHERE (created_at, id) < ($1, $2::uuid)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursor.CreatedAt, cursor.ID, limit,
		)
	}
	if err != nil {
		if pgCode(err) == pgInvalidText {
			return nil, pagination.ErrInvalidCursor
		}
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc     domain.Document
		meta    []byte
		errText *string
	)
	err := row.Scan(
		&doc.ID, &doc.Location, &doc.Content, &doc.DocumentType, &doc.Status, &doc.ChunkSize, &doc.ChunkOverlap, &meta,
		&errText, &doc.ProcessingStartedAt, &doc.ProcessingFinishedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Error = stringOrEmpty(errText)
	if doc.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &doc, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (map[string]any, error) {
	m := map[string]any{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}
