// Package intake creates a job record for each submitted document and stores its payload.
//
// The two writes are not atomic. The job record is written first. If the payload upload then
// fails, the document is reported as upload_failed to the caller, but the stored record keeps
// its waiting status. A failure to create the job record aborts the remaining batch.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jo-hoe/docintake/internal/jobs"
	"github.com/jo-hoe/docintake/internal/notify"
	"github.com/jo-hoe/docintake/internal/storage"
	"github.com/jo-hoe/docintake/internal/util"
)

// ErrJobCreate is returned by Submit when a job record could not be created.
var ErrJobCreate = errors.New("create job record")

// Submission is one document of an upload batch.
type Submission struct {
	Filename    string
	ContentType string
	// Open returns the payload. The reader is always closed by the coordinator.
	Open func() (io.ReadCloser, error)
}

// Result is the per-document outcome of a batch.
type Result struct {
	ID      string      `json:"id"`
	DocID   string      `json:"doc_id"`
	DocName string      `json:"doc_name"`
	Status  jobs.Status `json:"status"`
}

// Coordinator sequences writes to the job store and the object store.
type Coordinator struct {
	Log      *slog.Logger
	Jobs     jobs.Store
	Objects  storage.ObjectStore
	Notifier notify.Notifier // optional
	NewID    func() string   // defaults to util.NewID
}

// New returns a Coordinator using random UUIDs for job and document ids.
func New(log *slog.Logger, js jobs.Store, objects storage.ObjectStore, n notify.Notifier) *Coordinator {
	return &Coordinator{
		Log:      log,
		Jobs:     js,
		Objects:  objects,
		Notifier: n,
		NewID:    util.NewID,
	}
}

// Submit processes subs in order and returns one Result per accepted submission.
// Submissions without a filename are skipped. An upload failure only affects its own
// document; a job store failure aborts the batch and returns an error wrapping ErrJobCreate.
func (c *Coordinator) Submit(ctx context.Context, subs []Submission) ([]Result, error) {
	results := make([]Result, 0, len(subs))
	for i, sub := range subs {
		if sub.Filename == "" {
			c.logger().Debug("skipping submission without filename", "index", i)
			continue
		}
		res, err := c.submitOne(ctx, sub)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *Coordinator) submitOne(ctx context.Context, sub Submission) (Result, error) {
	log := c.logger()
	newID := c.NewID
	if newID == nil {
		newID = util.NewID
	}
	jobID := newID()
	docID := newID()

	job, err := c.Jobs.Create(ctx, &jobs.Job{
		ID:      jobID,
		DocID:   docID,
		DocName: sub.Filename,
		Status:  jobs.StatusWaiting,
	})
	if err != nil {
		log.Error("create job record", "job_id", jobID, "filename", sub.Filename, "err", err)
		return Result{}, fmt.Errorf("%w %s: %w", ErrJobCreate, jobID, err)
	}

	loc, err := c.upload(ctx, job, sub)
	if err != nil {
		// The job record keeps its waiting status; only the response reports the failure.
		log.Error("upload document", "job_id", jobID, "doc_id", docID, "filename", sub.Filename, "err", err)
		return Result{
			ID:      jobID,
			DocID:   docID,
			DocName: sub.Filename,
			Status:  jobs.StatusUploadFailed,
		}, nil
	}
	log.Info("document uploaded", "job_id", job.ID, "doc_id", job.DocID, "filename", job.DocName, "location", loc)

	c.notify(ctx, job, loc)

	return Result{
		ID:      job.ID,
		DocID:   job.DocID,
		DocName: job.DocName,
		Status:  jobs.StatusWaiting,
	}, nil
}

// upload reads the whole payload into memory and writes it under the job's doc id.
func (c *Coordinator) upload(ctx context.Context, job *jobs.Job, sub Submission) (string, error) {
	if sub.Open == nil {
		return "", errors.New("submission has no payload")
	}
	rc, err := sub.Open()
	if err != nil {
		return "", fmt.Errorf("open payload: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return c.Objects.Put(ctx, job.DocID, data, storage.Metadata{
		JobID:            job.ID,
		DocID:            job.DocID,
		OriginalFilename: job.DocName,
		ContentType:      sub.ContentType,
	})
}

func (c *Coordinator) notify(ctx context.Context, job *jobs.Job, loc string) {
	if c.Notifier == nil {
		return
	}
	err := c.Notifier.DocumentUploaded(ctx, notify.DocumentUploaded{
		JobID:      job.ID,
		DocID:      job.DocID,
		DocName:    job.DocName,
		Location:   loc,
		UploadedAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger().Warn("publish upload event", "job_id", job.ID, "err", err)
	}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Log
}
