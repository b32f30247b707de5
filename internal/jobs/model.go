package jobs

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle stage of a document job.
type Status string

const (
	StatusWaiting          Status = "waiting"
	StatusProcessing       Status = "processing"
	StatusDone             Status = "done"
	StatusUploadFailed     Status = "upload_failed"
	StatusProcessingFailed Status = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusProcessing, StatusDone, StatusUploadFailed, StatusProcessingFailed:
		return true
	}
	return false
}

// Job describes one uploaded document and its processing state.
// ProcessedData and ErrorMessage are only ever set by the external processing worker.
type Job struct {
	ID            string         // UUIDv4, also the store key
	DocID         string         // key of the payload in the object store
	DocName       string         // original filename, display only
	Status        Status         // current status
	ProcessedData map[string]any // structured result, nil until processed
	ErrorMessage  *string        // processing error, if any
	CreatedAt     time.Time      // creation time
}

var (
	// ErrNotFound is returned by Get when no job has the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateKey is returned by Create when a job with the same id already exists.
	ErrDuplicateKey = errors.New("job already exists")
	// ErrStoreUnavailable wraps transport and backend failures of the job store.
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// Store defines persistence for Jobs.
type Store interface {
	Create(ctx context.Context, job *Job) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	Close() error
}
