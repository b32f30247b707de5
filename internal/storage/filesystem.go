package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const metaSuffix = ".meta.json"

// FileSystemStore stores objects as files under a base directory.
// Metadata for each object is written next to it as <docID>.meta.json.
type FileSystemStore struct {
	baseDir string
}

var _ ObjectStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at baseDir.
func NewFileSystemStore(baseDir string) *FileSystemStore {
	return &FileSystemStore{baseDir: filepath.Clean(baseDir)}
}

func (s *FileSystemStore) EnsureReady(_ context.Context) error {
	if err := os.MkdirAll(s.baseDir, 0o750); err != nil {
		return fmt.Errorf("%w: ensure dir %s: %w", ErrStorageUnavailable, s.baseDir, err)
	}
	return nil
}

func (s *FileSystemStore) Put(ctx context.Context, docID string, data []byte, meta Metadata) (string, error) {
	if err := validateKey(docID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	dst := filepath.Join(s.baseDir, docID)
	if err := writeFileAtomic(dst, data); err != nil {
		return "", fmt.Errorf("%w: write object: %w", ErrUploadFailed, err)
	}
	b, err := json.Marshal(meta.Map())
	if err != nil {
		return "", fmt.Errorf("%w: marshal metadata: %w", ErrUploadFailed, err)
	}
	if err := writeFileAtomic(dst+metaSuffix, b); err != nil {
		return "", fmt.Errorf("%w: write metadata: %w", ErrUploadFailed, err)
	}
	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func (s *FileSystemStore) Close() error { return nil }

// writeFileAtomic writes to a temp file in the same directory and renames it over dst,
// so readers never observe a partially written object.
func writeFileAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close tmp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename tmp file: %w", err)
	}
	return nil
}
