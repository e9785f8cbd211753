package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents where a document is in the processing lifecycle
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an ingested source and the unit of processing.
type Document struct {
	ID                   string
	Location             string // unique source identifier (path, URL, object key)
	Content              string
	DocumentType         string
	Status               DocumentStatus
	ChunkSize            int
	ChunkOverlap         int
	Metadata             map[string]any
	Error                string
	ProcessingStartedAt  *time.Time
	ProcessingFinishedAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewDocument creates a pending document.
func NewDocument(id, location, content, documentType string, metadata map[string]any, now time.Time) *Document {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Document{
		ID:           id,
		Location:     location,
		Content:      content,
		DocumentType: documentType,
		Status:       DocumentStatusPending,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// documentTransitions lists the forward moves the pipeline may make.
// Any state may move back to pending through an explicit reprocess.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentStatusPending:    {DocumentStatusProcessing, DocumentStatusFailed},
	DocumentStatusProcessing: {DocumentStatusCompleted, DocumentStatusFailed},
}

// CanTransition reports whether moving from one status to another is allowed
// outside of reprocessing.
func CanTransition(from, to DocumentStatus) bool {
	for _, s := range documentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StartProcessing moves the document to processing and stamps the start time.
func (d *Document) StartProcessing(now time.Time) error {
	if !CanTransition(d.Status, DocumentStatusProcessing) {
		return NewDomainErrorWithCause(ErrCodeInvalidOperation, ErrInvalidTransition.Message,
			fmt.Errorf("%s -> %s", d.Status, DocumentStatusProcessing))
	}
	d.Status = DocumentStatusProcessing
	d.ProcessingStartedAt = &now
	d.ProcessingFinishedAt = nil
	d.Error = ""
	d.UpdatedAt = now
	return nil
}

// Complete marks successful processing.
func (d *Document) Complete(now time.Time) error {
	if !CanTransition(d.Status, DocumentStatusCompleted) {
		return NewDomainErrorWithCause(ErrCodeInvalidOperation, ErrInvalidTransition.Message,
			fmt.Errorf("%s -> %s", d.Status, DocumentStatusCompleted))
	}
	d.Status = DocumentStatusCompleted
	d.ProcessingFinishedAt = &now
	d.UpdatedAt = now
	return nil
}

// Fail records a processing failure and stamps the finish time.
func (d *Document) Fail(now time.Time, cause error) {
	d.Status = DocumentStatusFailed
	d.ProcessingFinishedAt = &now
	if cause != nil {
		d.Error = cause.Error()
	}
	d.UpdatedAt = now
}

// ResetForReprocess returns the document to pending and clears prior run state.
func (d *Document) ResetForReprocess(now time.Time) {
	d.Status = DocumentStatusPending
	d.ProcessingStartedAt = nil
	d.ProcessingFinishedAt = nil
	d.Error = ""
	d.UpdatedAt = now
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.Location == "" {
		return fmt.Errorf("document Location is required")
	}
	if !IsValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}
	if d.ChunkSize < 0 || d.ChunkOverlap < 0 {
		return fmt.Errorf("document chunk settings cannot be negative")
	}
	return nil
}

// IsValidDocumentStatus checks if a DocumentStatus is valid
func IsValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing,
		DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}
