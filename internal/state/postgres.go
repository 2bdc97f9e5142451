package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"trainjob/internal/api"
)

// PostgresStore is a Store backed by Postgres, for deployments that
// need job records to survive a daemon restart. The spec payload is
// stored as a JSON column; lifecycle fields get their own columns so
// transitions stay a single row update.
type PostgresStore struct {
	db *sql.DB
}

// Schema is the DDL the store expects. Applied out of band (or via
// EnsureSchema) rather than on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
	name          TEXT PRIMARY KEY,
	spec          JSONB NOT NULL,
	status        TEXT NOT NULL,
	attempt_id    TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
`

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects and pings the database at dsn.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// EnsureSchema creates the jobs table when it does not exist.
func (s *PostgresStore) EnsureSchema() error {
	_, err := s.db.Exec(Schema)
	return err
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreateJob(job *Job) error {
	spec, err := json.Marshal(job.Spec)
	if err != nil {
		return fmt.Errorf("encoding spec: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO jobs (name, spec, status, created_at) VALUES ($1, $2, $3, $4)`,
		job.Name, spec, job.Status, job.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrAlreadyExists
	}
	return err
}

const jobColumns = `name, spec, status, attempt_id, failure_reason, created_at, started_at, completed_at`

func (s *PostgresStore) GetJob(name string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE name = $1`, name)
	return scanJob(row)
}

func (s *PostgresStore) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) Transition(name string, status api.Status, reason string) (*Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE name = $1 FOR UPDATE`, name)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if err := stamp(job, status, reason, time.Now()); err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`UPDATE jobs SET status = $2, failure_reason = $3, started_at = $4, completed_at = $5 WHERE name = $1`,
		name, job.Status, job.FailureReason, nullTime(job.StartedAt), nullTime(job.CompletedAt),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *PostgresStore) SetAttempt(name, attemptID string) error {
	res, err := s.db.Exec(`UPDATE jobs SET attempt_id = $2 WHERE name = $1`, name, attemptID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		spec        []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&job.Name, &spec, &job.Status, &job.AttemptID,
		&job.FailureReason, &job.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(spec, &job.Spec); err != nil {
		return nil, fmt.Errorf("decoding spec for %s: %w", job.Name, err)
	}
	if startedAt.Valid {
		job.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = completedAt.Time
	}
	return &job, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
