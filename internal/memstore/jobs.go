package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/cloo-solutions/docvec/internal/domain"
)

type jobStore struct{ s *Store }

func (j jobStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	if _, ok := j.s.docs[job.DocumentID]; !ok {
		return domain.ErrDocumentNotFound
	}
	cp := *job
	j.s.jobs[job.ID] = &cp
	return nil
}

// JobStore is the worker-facing view of the in-memory job queue.
type JobStore struct{ s *Store }

func (j *JobStore) Create(ctx context.Context, job *domain.ProcessingJob) error {
	return jobStore{j.s}.Create(ctx, job)
}

// ClaimPending moves up to limit pending jobs, oldest first, to processing.
func (j *JobStore) ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	var pending []*domain.ProcessingJob
	for _, job := range j.s.jobs {
		if job.Status == domain.JobStatusPending {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(a, b int) bool { return pending[a].CreatedAt.Before(pending[b].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]*domain.ProcessingJob, len(pending))
	for i, job := range pending {
		job.Status = domain.JobStatusProcessing
		cp := *job
		out[i] = &cp
	}
	return out, nil
}

func (j *JobStore) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	job, ok := j.s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = status
	job.Error = errMsg
	if status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
		now := time.Now().UTC()
		job.ProcessedAt = &now
	}
	return nil
}

func (j *JobStore) IncrementRetries(ctx context.Context, jobID string) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()

	job, ok := j.s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Retries++
	return nil
}

// GetByID returns a copy of a job.
func (j *JobStore) GetByID(ctx context.Context, jobID string) (*domain.ProcessingJob, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()

	job, ok := j.s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}
