package service

import (
	"context"
	"errors"
	"log"
	"time"
)

// ProgressPhase names a point in document processing.
type ProgressPhase string

const (
	PhaseStarted   ProgressPhase = "started"
	PhaseChunked   ProgressPhase = "chunked"
	PhaseEmbedding ProgressPhase = "embedding"
	PhaseCompleted ProgressPhase = "completed"
	PhaseFailed    ProgressPhase = "failed"
	PhaseBatch     ProgressPhase = "batch"
)

// ProgressEvent is emitted while documents are processed.
type ProgressEvent struct {
	DocumentID string        `json:"document_id,omitempty"`
	Location   string        `json:"location,omitempty"`
	Phase      ProgressPhase `json:"phase"`
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Status     string        `json:"status,omitempty"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// NotificationSink receives progress events. Delivery failures are reported
// to the caller but never change processing.
type NotificationSink interface {
	Notify(ctx context.Context, ev ProgressEvent) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Notify(context.Context, ProgressEvent) error { return nil }

// LogSink writes events to the standard logger.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, ev ProgressEvent) error {
	if ev.Error != "" {
		log.Printf("progress: %s %s %s %d/%d: %s", ev.Phase, ev.DocumentID, ev.Location, ev.Processed, ev.Total, ev.Error)
		return nil
	}
	log.Printf("progress: %s %s %s %d/%d", ev.Phase, ev.DocumentID, ev.Location, ev.Processed, ev.Total)
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []NotificationSink

func (m MultiSink) Notify(ctx context.Context, ev ProgressEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
