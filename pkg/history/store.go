// Package history records print jobs and the objects cancelled during each
// one in a SQLite database.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"cancelobject/pkg/errors"
)

//go:embed schema.sql
var schemaSQL string

// Job statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusError      = "error"
)

// Job is one print job record.
type Job struct {
	JobID     string     `json:"job_id"`
	Filename  string     `json:"filename"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Cancelled []string   `json:"cancelled_objects"`
}

// Store is the SQLite-backed job history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema. The
// special path ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.ErrStorage, "history path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "open sqlite db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrStorage, "ping sqlite db")
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrStorage, "apply pragmas")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrStorage, "apply schema")
	}
	return &Store{db: db, now: time.Now}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartJob records a new in-progress job for filename.
func (s *Store) StartJob(ctx context.Context, filename string) (Job, error) {
	job := Job{
		JobID:     uuid.NewString(),
		Filename:  filename,
		Status:    StatusInProgress,
		StartTime: s.now().UTC(),
		Cancelled: []string{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, filename, status, start_time) VALUES (?, ?, ?, ?)`,
		job.JobID, job.Filename, job.Status, job.StartTime.UnixNano())
	if err != nil {
		return Job{}, errors.Wrap(err, errors.ErrStorage, "insert job")
	}
	return job, nil
}

// NoteCancelled records that object was cancelled during jobID. Recording
// the same object twice is a no-op.
func (s *Store) NoteCancelled(ctx context.Context, jobID, object string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE job_id = ?`, jobID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, errors.ErrStorage, "query job")
	}
	if exists == 0 {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("job '%s' not found", jobID))
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cancelled_objects (job_id, object, cancelled_at) VALUES (?, ?, ?)`,
		jobID, object, s.now().UTC().UnixNano())
	if err != nil {
		return errors.Wrap(err, errors.ErrStorage, "insert cancelled object")
	}
	return nil
}

// FinishJob sets the final status of an in-progress job.
func (s *Store) FinishJob(ctx context.Context, jobID, status string) error {
	switch status {
	case StatusCompleted, StatusCancelled, StatusError:
	default:
		return errors.New(errors.ErrStorage, fmt.Sprintf("invalid final status %q", status))
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, end_time = ? WHERE job_id = ? AND status = ?`,
		status, s.now().UTC().UnixNano(), jobID, StatusInProgress)
	if err != nil {
		return errors.Wrap(err, errors.ErrStorage, "update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrNotFound, fmt.Sprintf("no in-progress job '%s'", jobID))
	}
	return nil
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, jobID string) (Job, error) {
	jobs, err := s.query(ctx, `WHERE job_id = ?`, jobID)
	if err != nil {
		return Job{}, err
	}
	if len(jobs) == 0 {
		return Job{}, errors.New(errors.ErrNotFound, fmt.Sprintf("job '%s' not found", jobID))
	}
	return jobs[0], nil
}

// List returns up to limit jobs, most recent first. A limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `ORDER BY start_time DESC, rowid DESC LIMIT ?`, limit)
}

func (s *Store) query(ctx context.Context, tail string, args ...any) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, filename, status, start_time, end_time FROM jobs `+tail, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "query jobs")
	}

	jobs := []Job{}
	for rows.Next() {
		var (
			job   Job
			start int64
			end   sql.NullInt64
		)
		if err := rows.Scan(&job.JobID, &job.Filename, &job.Status, &start, &end); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, errors.ErrStorage, "scan job")
		}
		job.StartTime = time.Unix(0, start).UTC()
		if end.Valid {
			t := time.Unix(0, end.Int64).UTC()
			job.EndTime = &t
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, errors.ErrStorage, "iterate jobs")
	}
	rows.Close()

	for i := range jobs {
		objects, err := s.cancelledObjects(ctx, jobs[i].JobID)
		if err != nil {
			return nil, err
		}
		jobs[i].Cancelled = objects
	}
	return jobs, nil
}

func (s *Store) cancelledObjects(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object FROM cancelled_objects WHERE job_id = ? ORDER BY cancelled_at, rowid`, jobID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "query cancelled objects")
	}
	defer rows.Close()

	objects := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrStorage, "scan cancelled object")
		}
		objects = append(objects, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, "iterate cancelled objects")
	}
	return objects, nil
}
