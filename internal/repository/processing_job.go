package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docvec/internal/domain"
)

const jobColumns = `id, document_id, kind, chunk_size, chunk_overlap, status, retries, error, created_at, processed_at`

type ProcessingJobRepository struct {
	db dbtx
}

func NewProcessingJobRepository(pool *pgxpool.Pool) *ProcessingJobRepository {
	return &ProcessingJobRepository{db: pool}
}

func NewProcessingJobRepositoryWithTx(tx pgx.Tx) *ProcessingJobRepository {
	return &ProcessingJobRepository{db: tx}
}

func (r *ProcessingJobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO processing_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.DocumentID, job.Kind, job.ChunkSize, job.ChunkOverlap, job.Status, job.Retries,
		nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	if pgCode(err) == pgForeignKeyViolation {
		return domain.ErrDocumentNotFound
	}
	return err
}

func (r *ProcessingJobRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrJobNotFound)
	}
	return job, nil
}

// ClaimPending moves up to limit of the oldest pending jobs to processing.
// Concurrent workers never claim the same job.
func (r *ProcessingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM processing_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE processing_jobs j
		 SET status = $3,
		     error = NULL,
		     processed_at = NULL
		 FROM cte
		 WHERE j.id = cte.id
		 RETURNING j.id, j.document_id, j.kind, j.chunk_size, j.chunk_overlap, j.status, j.retries, j.error,
		           j.created_at, j.processed_at`,
		domain.JobStatusPending, limit, domain.JobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *ProcessingJobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return notFound(err, domain.ErrJobNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *ProcessingJobRepository) IncrementRetries(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE processing_jobs SET retries = retries + 1 WHERE id = $1`, id)
	if err != nil {
		return notFound(err, domain.ErrJobNotFound)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.ProcessingJob, error) {
	var (
		job    domain.ProcessingJob
		errMsg *string
	)
	if err := row.Scan(&job.ID, &job.DocumentID, &job.Kind, &job.ChunkSize, &job.ChunkOverlap, &job.Status,
		&job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	job.Error = stringOrEmpty(errMsg)
	return &job, nil
}
