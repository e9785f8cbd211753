package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
	"github.com/cloo-solutions/docvec/internal/telemetry"
)

// JobQueue records processing requests for the background worker.
type JobQueue struct {
	jobs    JobRepository
	tx      TxRunner
	uuidGen UUIDGenerator
	now     func() time.Time
}

func NewJobQueue(jobs JobRepository, tx TxRunner) *JobQueue {
	return &JobQueue{
		jobs:    jobs,
		tx:      tx,
		uuidGen: &DefaultUUIDGenerator{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// EnqueueProcess queues processing of a pending document.
func (q *JobQueue) EnqueueProcess(ctx context.Context, documentID string) (*domain.ProcessingJob, error) {
	job := domain.NewProcessingJob(q.uuidGen.NewString(), documentID, domain.JobKindProcess, q.now())
	if err := domain.ValidateProcessingJob(job); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid processing job", err)
	}
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// EnqueueReprocess clears the document's chunks, resets it to pending and
// queues a reprocess job, all in one transaction.
func (q *JobQueue) EnqueueReprocess(ctx context.Context, documentID string, opts ReprocessOptions) (*domain.Document, *domain.ProcessingJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "JobQueue.EnqueueReprocess", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "enqueue_reprocess",
	})
	defer span.End()

	now := q.now()
	job := domain.NewProcessingJob(q.uuidGen.NewString(), documentID, domain.JobKindReprocess, now)

	var doc *domain.Document
	err := q.tx.WithTx(ctx, func(repos TxRepositories) error {
		var err error
		doc, err = ResetDocument(ctx, repos, documentID, opts, now)
		if err != nil {
			return err
		}
		job.ChunkSize = doc.ChunkSize
		job.ChunkOverlap = doc.ChunkOverlap
		return repos.Jobs().Create(ctx, job)
	})
	if err != nil {
		span.SetError(err)
		return nil, nil, err
	}
	return doc, job, nil
}
