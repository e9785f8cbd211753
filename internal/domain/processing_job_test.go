package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProcessingJob(t *testing.T) {
	now := time.Now()
	job := NewProcessingJob("job1", "d1", JobKindReprocess, now)

	assert.Equal(t, "job1", job.ID)
	assert.Equal(t, "d1", job.DocumentID)
	assert.Equal(t, JobKindReprocess, job.Kind)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, int32(0), job.Retries)
	assert.Nil(t, job.ProcessedAt)
}

func TestValidateProcessingJob(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		job     *ProcessingJob
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid job",
			job:     NewProcessingJob("job1", "d1", JobKindProcess, now),
			wantErr: false,
		},
		{
			name:    "nil job",
			job:     nil,
			wantErr: true,
			errMsg:  "nil",
		},
		{
			name:    "missing ID",
			job:     &ProcessingJob{DocumentID: "d1", Kind: JobKindProcess, Status: JobStatusPending},
			wantErr: true,
			errMsg:  "ID",
		},
		{
			name:    "missing DocumentID",
			job:     &ProcessingJob{ID: "job1", Kind: JobKindProcess, Status: JobStatusPending},
			wantErr: true,
			errMsg:  "DocumentID",
		},
		{
			name:    "invalid Kind",
			job:     &ProcessingJob{ID: "job1", DocumentID: "d1", Kind: "index", Status: JobStatusPending},
			wantErr: true,
			errMsg:  "Kind",
		},
		{
			name:    "invalid Status",
			job:     &ProcessingJob{ID: "job1", DocumentID: "d1", Kind: JobKindProcess, Status: "queued"},
			wantErr: true,
			errMsg:  "Status",
		},
		{
			name:    "negative Retries",
			job:     &ProcessingJob{ID: "job1", DocumentID: "d1", Kind: JobKindProcess, Status: JobStatusPending, Retries: -1},
			wantErr: true,
			errMsg:  "Retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProcessingJob(tt.job)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
