package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/service"
	"github.com/cloo-solutions/docvec/internal/telemetry"
)

const (
	// DefaultMaxRetries is the number of attempts a job gets before it is failed
	DefaultMaxRetries = 3

	defaultBatchSize   = 20
	defaultConcurrency = 4
)

// JobStore claims and settles processing jobs
type JobStore interface {
	// ClaimPending moves up to limit pending jobs to processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error)

	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error

	IncrementRetries(ctx context.Context, jobID string) error
}

// DocumentProcessor is the part of the document pipeline the runner drives
type DocumentProcessor interface {
	Get(ctx context.Context, documentID string) (*domain.Document, error)
	Process(ctx context.Context, documentID string) (*domain.Document, error)
	Reprocess(ctx context.Context, documentID string, opts service.ReprocessOptions) (*domain.Document, error)
}

// RunnerConfig tunes a ProcessingRunner
type RunnerConfig struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
}

// ProcessingRunner executes queued process and reprocess jobs
type ProcessingRunner struct {
	jobs JobStore
	docs DocumentProcessor
	cfg  RunnerConfig
}

// NewProcessingRunner creates a new ProcessingRunner instance
func NewProcessingRunner(jobs JobStore, docs DocumentProcessor, cfg RunnerConfig) *ProcessingRunner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &ProcessingRunner{jobs: jobs, docs: docs, cfg: cfg}
}

// ProcessJobs implements the JobProcessor interface. It claims one batch and
// runs it with bounded concurrency. Failures of single jobs are settled on
// the job and never returned.
func (r *ProcessingRunner) ProcessJobs(ctx context.Context) error {
	jobs, err := r.jobs.ClaimPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("runner: processing %d jobs", len(jobs))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := r.processJob(ctx, job); err != nil {
				log.Printf("runner: job %s: %v", job.ID, err)
				telemetry.CaptureError(ctx, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *ProcessingRunner) processJob(ctx context.Context, job *domain.ProcessingJob) error {
	// Settling must outlive a shutdown.
	settleCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		if err := r.jobs.UpdateStatus(settleCtx, job.ID, domain.JobStatusPending, job.Error); err != nil {
			return fmt.Errorf("failed to release job: %w", err)
		}
		return nil
	}

	err := r.run(ctx, job)
	if err == nil {
		if err := r.jobs.UpdateStatus(settleCtx, job.ID, domain.JobStatusCompleted, ""); err != nil {
			return fmt.Errorf("failed to update job status to completed: %w", err)
		}
		return nil
	}

	if errors.Is(err, domain.ErrDocumentNotFound) {
		if err := r.jobs.UpdateStatus(settleCtx, job.ID, domain.JobStatusFailed, "document not found"); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	return r.handleJobFailure(settleCtx, job, err)
}

// run brings the job's document to completed. A pending document is
// processed. A document left failed or stuck in processing is reprocessed,
// which clears what the earlier attempt left behind.
func (r *ProcessingRunner) run(ctx context.Context, job *domain.ProcessingJob) error {
	doc, err := r.docs.Get(ctx, job.DocumentID)
	if err != nil {
		return err
	}

	switch {
	case doc.Status == domain.DocumentStatusPending:
		_, err = r.docs.Process(ctx, doc.ID)
	case doc.Status == domain.DocumentStatusCompleted && job.Kind == domain.JobKindProcess:
		return nil
	default:
		_, err = r.docs.Reprocess(ctx, doc.ID, reprocessOptions(job))
	}
	return err
}

func reprocessOptions(job *domain.ProcessingJob) service.ReprocessOptions {
	if job.Kind != domain.JobKindReprocess || job.ChunkSize <= 0 {
		return service.ReprocessOptions{}
	}
	overlap := job.ChunkOverlap
	return service.ReprocessOptions{ChunkSize: job.ChunkSize, ChunkOverlap: &overlap}
}

// handleJobFailure handles a failed job with retry logic
func (r *ProcessingRunner) handleJobFailure(ctx context.Context, job *domain.ProcessingJob, jobErr error) error {
	log.Printf("runner: job %s failed: %v", job.ID, jobErr)

	if err := r.jobs.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	attempt := int(job.Retries) + 1
	if attempt >= r.cfg.MaxRetries {
		log.Printf("runner: job %s exceeded max retries (%d), marking as failed", job.ID, r.cfg.MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := r.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("runner: job %s will be retried (attempt %d/%d)", job.ID, attempt, r.cfg.MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", attempt, jobErr)
	if err := r.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
