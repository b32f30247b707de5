// Package status projects stored jobs into the view returned to clients.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/jo-hoe/docintake/internal/jobs"
)

// Snapshot is the client-facing view of a job.
type Snapshot struct {
	ID            string         `json:"id"`
	DocID         string         `json:"doc_id"`
	DocName       string         `json:"doc_name"`
	Status        jobs.Status    `json:"status"`
	ProcessedData map[string]any `json:"processed_data"`
	ErrorMessage  *string        `json:"error_message"`
}

// NotFoundError reports that no job exists for JobID.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Job with ID '%s' not found.", e.JobID)
}

// Unwrap lets callers match with errors.Is(err, jobs.ErrNotFound).
func (e *NotFoundError) Unwrap() error { return jobs.ErrNotFound }

// Service answers status lookups. Every call reads the store.
type Service struct {
	Jobs jobs.Store
}

func New(js jobs.Store) *Service {
	return &Service{Jobs: js}
}

func (s *Service) GetStatus(ctx context.Context, jobID string) (*Snapshot, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, &NotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, &NotFoundError{JobID: jobID}
	}
	return &Snapshot{
		ID:            job.ID,
		DocID:         job.DocID,
		DocName:       job.DocName,
		Status:        job.Status,
		ProcessedData: job.ProcessedData,
		ErrorMessage:  job.ErrorMessage,
	}, nil
}
