package domain

import (
	"fmt"
	"time"
)

// JobStatus represents the status of a processing job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobKind selects what the runner does with the document.
type JobKind string

const (
	JobKindProcess   JobKind = "process"
	JobKindReprocess JobKind = "reprocess"
)

// ProcessingJob is a queued request to process or reprocess a document
type ProcessingJob struct {
	ID           string
	DocumentID   string
	Kind         JobKind
	ChunkSize    int
	ChunkOverlap int
	Status       JobStatus
	Retries      int32
	Error        string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// NewProcessingJob creates a pending job.
func NewProcessingJob(id, documentID string, kind JobKind, createdAt time.Time) *ProcessingJob {
	return &ProcessingJob{
		ID:         id,
		DocumentID: documentID,
		Kind:       kind,
		Status:     JobStatusPending,
		CreatedAt:  createdAt,
	}
}

// ValidateProcessingJob validates a ProcessingJob instance
func ValidateProcessingJob(j *ProcessingJob) error {
	if j == nil {
		return fmt.Errorf("processing job cannot be nil")
	}
	if j.ID == "" {
		return fmt.Errorf("processing job ID is required")
	}
	if j.DocumentID == "" {
		return fmt.Errorf("processing job DocumentID is required")
	}
	if j.Kind != JobKindProcess && j.Kind != JobKindReprocess {
		return fmt.Errorf("processing job Kind is invalid: %s", j.Kind)
	}
	if !isValidJobStatus(j.Status) {
		return fmt.Errorf("processing job Status is invalid: %s", j.Status)
	}
	if j.Retries < 0 {
		return fmt.Errorf("processing job Retries cannot be negative")
	}
	return nil
}

func isValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}
