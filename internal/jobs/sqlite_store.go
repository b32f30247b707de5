package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jo-hoe/docintake/internal/common"
)

// SQLiteStore keeps jobs in a single SQLite table keyed by the job id.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %w", ErrStoreUnavailable, err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		doc_name TEXT NOT NULL,
		status TEXT NOT NULL,
		processed_data_json TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) (*Job, error) {
	if err := checkNewJob(job); err != nil {
		return nil, err
	}
	row := *job
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	var data *string
	if row.ProcessedData != nil {
		b, err := json.Marshal(row.ProcessedData)
		if err != nil {
			return nil, fmt.Errorf("marshal processed data: %w", err)
		}
		v := string(b)
		data = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, doc_id, doc_name, status, processed_data_json, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.DocID, row.DocName, string(row.Status), data, row.ErrorMessage, row.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return nil, fmt.Errorf("insert job %s: %w", row.ID, ErrDuplicateKey)
		}
		return nil, fmt.Errorf("%w: insert job: %w", ErrStoreUnavailable, err)
	}
	return &row, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, doc_id, doc_name, status, processed_data_json, error_message, created_at
		FROM jobs WHERE id = ?`, id)

	var job Job
	var data, errMsg, created sql.NullString
	var status string

	if err := row.Scan(
		&job.ID,
		&job.DocID,
		&job.DocName,
		&status,
		&data,
		&errMsg,
		&created,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scan job: %w", ErrStoreUnavailable, err)
	}

	if data.Valid && data.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(data.String), &m); err == nil {
			job.ProcessedData = m
		}
		// Leave ProcessedData nil on decode error; do not fail retrieval.
	}
	if errMsg.Valid {
		v := errMsg.String
		job.ErrorMessage = &v
	}
	if created.Valid {
		if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
			job.CreatedAt = t
		}
	}
	job.Status = Status(status)

	return &job, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isPrimaryKeyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// checkNewJob validates the fields every backend requires before an insert.
func checkNewJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.DocID == "" {
		return errors.New("job.DocID is required")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid job status %q", job.Status)
	}
	return nil
}
