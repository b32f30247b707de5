// Package storage holds the object store backends that keep uploaded document payloads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jo-hoe/docintake/internal/common"
)

var (
	// ErrStorageUnavailable is returned when the backing service cannot be reached while provisioning.
	ErrStorageUnavailable = errors.New("object storage unavailable")
	// ErrUploadFailed wraps any failure while writing an object.
	ErrUploadFailed = errors.New("upload failed")
)

// ObjectStore is write-only blob storage addressed by document id.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// EnsureReady creates the container/bucket if it does not exist. Safe to call on every startup.
	EnsureReady(ctx context.Context) error
	// Put stores data under docID, replacing any previous object, and returns its location.
	Put(ctx context.Context, docID string, data []byte, meta Metadata) (string, error)
	Close() error
}

// Metadata ties a stored object back to its job record.
type Metadata struct {
	JobID            string
	DocID            string
	OriginalFilename string
	// ContentType is sent as the object's content type, not as metadata.
	ContentType string
}

// Map returns the metadata attached to the stored object.
func (m Metadata) Map() map[string]string {
	return map[string]string{
		common.MetaJobID:            m.JobID,
		common.MetaDocID:            m.DocID,
		common.MetaOriginalFilename: m.OriginalFilename,
	}
}

func (m Metadata) contentType() string {
	if ct := strings.TrimSpace(m.ContentType); ct != "" {
		return ct
	}
	return common.ContentTypeOctetStream
}

func validateKey(docID string) error {
	if strings.TrimSpace(docID) == "" {
		return fmt.Errorf("%w: empty object key", ErrUploadFailed)
	}
	if strings.ContainsAny(docID, `/\`) || docID == "." || docID == ".." {
		return fmt.Errorf("%w: invalid object key %q", ErrUploadFailed, docID)
	}
	return nil
}
