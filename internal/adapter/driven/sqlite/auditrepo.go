package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditStore = (*AuditRepo)(nil)

// AuditRepo is the SQLite implementation of the AuditStore port.
// Entries are append-only; there is no update or delete path.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// RecordRetry appends a retry audit entry and its job links in one transaction.
func (r *AuditRepo) RecordRetry(ctx context.Context, entry model.AuditRetry) (model.AuditRetry, error) {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return model.AuditRetry{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const insertEntry = `
		INSERT INTO audit_retries (check_suite_id, username, user_id, user_type, retry_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, insertEntry,
		entry.CheckSuiteID, entry.Username, entry.UserID, entry.UserType, string(entry.RetryKind), now,
	)
	if err != nil {
		return model.AuditRetry{}, fmt.Errorf("insert audit retry for suite %d: %w", entry.CheckSuiteID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.AuditRetry{}, fmt.Errorf("last insert id: %w", err)
	}

	const insertJob = `INSERT INTO audit_retry_jobs (audit_retry_id, job_id) VALUES (?, ?)`
	for _, jobID := range entry.JobIDs {
		if _, err := tx.ExecContext(ctx, insertJob, id, jobID); err != nil {
			return model.AuditRetry{}, fmt.Errorf("link job %d to audit retry %d: %w", jobID, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.AuditRetry{}, fmt.Errorf("commit audit retry: %w", err)
	}

	entry.ID = id
	entry.CreatedAt = now
	return entry, nil
}

// ListRetriesSince returns audit entries created at or after the given time,
// newest first, with their linked job ids populated.
func (r *AuditRepo) ListRetriesSince(ctx context.Context, since time.Time) ([]model.AuditRetry, error) {
	const query = `
		SELECT id, check_suite_id, username, user_id, user_type, retry_kind, created_at
		FROM audit_retries
		WHERE created_at >= ?
		ORDER BY id DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query audit retries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditRetry
	for rows.Next() {
		var e model.AuditRetry
		var kind, createdAt string

		if err := rows.Scan(&e.ID, &e.CheckSuiteID, &e.Username, &e.UserID, &e.UserType, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit retry: %w", err)
		}

		e.RetryKind = model.RetryKind(kind)
		e.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit retries: %w", err)
	}

	for i := range entries {
		jobIDs, err := r.jobIDs(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].JobIDs = jobIDs
	}

	return entries, nil
}

func (r *AuditRepo) jobIDs(ctx context.Context, retryID int64) ([]int64, error) {
	const query = `SELECT job_id FROM audit_retry_jobs WHERE audit_retry_id = ? ORDER BY job_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, retryID)
	if err != nil {
		return nil, fmt.Errorf("query audit retry jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan audit retry job: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit retry jobs: %w", err)
	}

	return ids, nil
}
