package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.JobStore = (*JobRepo)(nil)

// JobRepo is the SQLite implementation of the JobStore port.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new JobRepo backed by the given DB.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

const jobColumns = `id, check_suite_id, stage_id, name, status, job_ref, check_ref, retry, execution_time, summary, created_at, updated_at`

// Create inserts a new job and returns it with its assigned id.
func (r *JobRepo) Create(ctx context.Context, job model.Job) (model.Job, error) {
	const query = `
		INSERT INTO jobs (check_suite_id, stage_id, name, status, job_ref, check_ref, retry, execution_time, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if job.Status == "" {
		job.Status = model.StatusQueued
	}

	now := time.Now().UTC()
	res, err := r.db.Writer.ExecContext(ctx, query,
		job.CheckSuiteID, job.StageID, job.Name, string(job.Status), job.JobRef,
		job.CheckRef, job.Retry, job.ExecutionTime, job.Summary, now, now,
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("create job %q for suite %d: %w", job.Name, job.CheckSuiteID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Job{}, fmt.Errorf("last insert id: %w", err)
	}

	job.ID = id
	job.CreatedAt = now
	job.UpdatedAt = now
	return job, nil
}

// GetByID retrieves a job by id. Returns nil, nil on miss.
func (r *JobRepo) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	job, err := scanJob(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}

	return job, nil
}

// GetByCheckRef resolves a job by its GitHub check run id. Returns nil, nil on miss.
func (r *JobRepo) GetByCheckRef(ctx context.Context, checkRef int64) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE check_ref = ? ORDER BY id DESC LIMIT 1`

	job, err := scanJob(r.db.Reader.QueryRowContext(ctx, query, checkRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by check ref %d: %w", checkRef, err)
	}

	return job, nil
}

// ListBySuite returns all jobs of a suite ordered by id.
func (r *JobRepo) ListBySuite(ctx context.Context, suiteID int64) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE check_suite_id = ? ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query, suiteID)
	if err != nil {
		return nil, fmt.Errorf("query jobs for suite %d: %w", suiteID, err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, nil
}

// UpdateStatus transitions a job to the given status.
func (r *JobRepo) UpdateStatus(ctx context.Context, id int64, status model.Status) error {
	return r.exec(ctx, id, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, string(status))
}

// SetCheckRef records the GitHub check run id created for this job.
func (r *JobRepo) SetCheckRef(ctx context.Context, id, checkRef int64) error {
	return r.exec(ctx, id, `UPDATE jobs SET check_ref = ?, updated_at = ? WHERE id = ?`, checkRef)
}

// SetExecutionTime records the job's execution time in seconds.
func (r *JobRepo) SetExecutionTime(ctx context.Context, id int64, seconds int) error {
	return r.exec(ctx, id, `UPDATE jobs SET execution_time = ?, updated_at = ? WHERE id = ?`, seconds)
}

// SetSummary records the job's free-text summary.
func (r *JobRepo) SetSummary(ctx context.Context, id int64, summary string) error {
	return r.exec(ctx, id, `UPDATE jobs SET summary = ?, updated_at = ? WHERE id = ?`, summary)
}

// Enqueue sets the job back to queued and increments its retry counter.
func (r *JobRepo) Enqueue(ctx context.Context, id int64) error {
	return r.exec(ctx, id, `UPDATE jobs SET status = 'queued', retry = retry + 1, updated_at = ? WHERE id = ?`)
}

// AddTestFailure appends a failed test case record to a job.
func (r *JobRepo) AddTestFailure(ctx context.Context, failure model.TestFailure) error {
	const query = `
		INSERT INTO test_failures (job_id, test_suite, test_case, message, execution_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		failure.JobID, failure.TestSuite, failure.TestCase, failure.Message,
		failure.ExecutionTime, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add test failure for job %d: %w", failure.JobID, err)
	}

	return nil
}

// ListTestFailures returns the failed test cases recorded for a job, oldest first.
func (r *JobRepo) ListTestFailures(ctx context.Context, jobID int64) ([]model.TestFailure, error) {
	const query = `
		SELECT id, job_id, test_suite, test_case, message, execution_time, created_at
		FROM test_failures
		WHERE job_id = ?
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query test failures for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var failures []model.TestFailure
	for rows.Next() {
		var f model.TestFailure
		var createdAt string

		if err := rows.Scan(&f.ID, &f.JobID, &f.TestSuite, &f.TestCase, &f.Message, &f.ExecutionTime, &createdAt); err != nil {
			return nil, fmt.Errorf("scan test failure: %w", err)
		}

		f.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		failures = append(failures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test failures: %w", err)
	}

	return failures, nil
}

// exec runs an UPDATE whose final bind parameters are (updated_at, id).
func (r *JobRepo) exec(ctx context.Context, id int64, query string, args ...any) error {
	args = append(args, time.Now().UTC(), id)

	res, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %d: %w", id, driven.ErrNotFound)
	}

	return nil
}

func scanJob(s scanner) (*model.Job, error) {
	var job model.Job
	var status string
	var createdAt, updatedAt string

	err := s.Scan(
		&job.ID, &job.CheckSuiteID, &job.StageID, &job.Name, &status, &job.JobRef,
		&job.CheckRef, &job.Retry, &job.ExecutionTime, &job.Summary, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = model.Status(status)

	job.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	job.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &job, nil
}
