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
var _ driven.PullRequestStore = (*PullRequestRepo)(nil)

// PullRequestRepo is the SQLite implementation of the PullRequestStore port.
type PullRequestRepo struct {
	db *DB
}

// NewPullRequestRepo creates a new PullRequestRepo backed by the given DB.
func NewPullRequestRepo(db *DB) *PullRequestRepo {
	return &PullRequestRepo{db: db}
}

// GetByRepoNumber retrieves a pull request by its (repository, number) key.
// Returns nil, nil if the pull request does not exist.
func (r *PullRequestRepo) GetByRepoNumber(ctx context.Context, repository string, number int) (*model.PullRequest, error) {
	const query = `
		SELECT id, repository, number, author, branch_name, plan, created_at, updated_at
		FROM pull_requests
		WHERE repository = ? AND number = ?
	`

	pr, err := scanPullRequest(r.db.Reader.QueryRowContext(ctx, query, repository, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get PR %s#%d: %w", repository, number, err)
	}

	return pr, nil
}

// GetByID retrieves a pull request by its id. Returns nil, nil if the pull
// request does not exist.
func (r *PullRequestRepo) GetByID(ctx context.Context, id int64) (*model.PullRequest, error) {
	const query = `
		SELECT id, repository, number, author, branch_name, plan, created_at, updated_at
		FROM pull_requests
		WHERE id = ?
	`

	pr, err := scanPullRequest(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get PR %d: %w", id, err)
	}

	return pr, nil
}

// Create inserts a new pull request and returns it with its assigned id.
func (r *PullRequestRepo) Create(ctx context.Context, pr model.PullRequest) (model.PullRequest, error) {
	const query = `
		INSERT INTO pull_requests (repository, number, author, branch_name, plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	res, err := r.db.Writer.ExecContext(ctx, query,
		pr.Repository, pr.Number, pr.Author, pr.BranchName, pr.Plan, now, now,
	)
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("create PR %s#%d: %w", pr.Repository, pr.Number, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.PullRequest{}, fmt.Errorf("last insert id: %w", err)
	}

	pr.ID = id
	pr.CreatedAt = now
	pr.UpdatedAt = now
	return pr, nil
}

// Update rewrites the mutable attributes of a pull request: author, branch
// name, and plan.
func (r *PullRequestRepo) Update(ctx context.Context, pr model.PullRequest) error {
	const query = `
		UPDATE pull_requests
		SET author = ?, branch_name = ?, plan = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := r.db.Writer.ExecContext(ctx, query,
		pr.Author, pr.BranchName, pr.Plan, time.Now().UTC(), pr.ID,
	)
	if err != nil {
		return fmt.Errorf("update PR %d: %w", pr.ID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update PR %d: %w", pr.ID, driven.ErrNotFound)
	}

	return nil
}

// ListAll returns all pull requests ordered by most recently updated.
func (r *PullRequestRepo) ListAll(ctx context.Context) ([]model.PullRequest, error) {
	const query = `
		SELECT id, repository, number, author, branch_name, plan, created_at, updated_at
		FROM pull_requests
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return prs, nil
}

func scanPullRequest(s scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var createdAt, updatedAt string

	err := s.Scan(&pr.ID, &pr.Repository, &pr.Number, &pr.Author, &pr.BranchName, &pr.Plan, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	pr.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	pr.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &pr, nil
}
