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
var _ driven.CheckSuiteStore = (*CheckSuiteRepo)(nil)

// CheckSuiteRepo is the SQLite implementation of the CheckSuiteStore port.
type CheckSuiteRepo struct {
	db *DB
}

// NewCheckSuiteRepo creates a new CheckSuiteRepo backed by the given DB.
func NewCheckSuiteRepo(db *DB) *CheckSuiteRepo {
	return &CheckSuiteRepo{db: db}
}

const suiteColumns = `id, pull_request_id, author, commit_sha, base_sha, work_branch, merge_branch,
	backend_ref, retry, cancelled_previous_id, stopped_in_stage_id, created_at, updated_at`

// Create inserts a new check suite and returns it with its assigned id.
func (r *CheckSuiteRepo) Create(ctx context.Context, suite model.CheckSuite) (model.CheckSuite, error) {
	const query = `
		INSERT INTO check_suites (
			pull_request_id, author, commit_sha, base_sha, work_branch, merge_branch,
			backend_ref, retry, cancelled_previous_id, stopped_in_stage_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	res, err := r.db.Writer.ExecContext(ctx, query,
		suite.PullRequestID, suite.Author, suite.CommitSHA, suite.BaseSHA,
		suite.WorkBranch, suite.MergeBranch, suite.BackendRef, suite.Retry,
		suite.CancelledPreviousID, suite.StoppedInStageID, now, now,
	)
	if err != nil {
		return model.CheckSuite{}, fmt.Errorf("create check suite for PR %d: %w", suite.PullRequestID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.CheckSuite{}, fmt.Errorf("last insert id: %w", err)
	}

	suite.ID = id
	suite.CreatedAt = now
	suite.UpdatedAt = now
	return suite, nil
}

// GetByID retrieves a check suite by id. Returns nil, nil on miss.
func (r *CheckSuiteRepo) GetByID(ctx context.Context, id int64) (*model.CheckSuite, error) {
	query := `SELECT ` + suiteColumns + ` FROM check_suites WHERE id = ?`

	suite, err := scanCheckSuite(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get check suite %d: %w", id, err)
	}

	return suite, nil
}

// GetLastForPullRequest returns the most recently created suite for the pull
// request, or nil, nil when the PR has no suites yet.
func (r *CheckSuiteRepo) GetLastForPullRequest(ctx context.Context, prID int64) (*model.CheckSuite, error) {
	query := `SELECT ` + suiteColumns + ` FROM check_suites WHERE pull_request_id = ? ORDER BY id DESC LIMIT 1`

	suite, err := scanCheckSuite(r.db.Reader.QueryRowContext(ctx, query, prID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last check suite for PR %d: %w", prID, err)
	}

	return suite, nil
}

// GetByCommitSHA resolves the most recent suite for a head commit.
// Returns nil, nil on miss.
func (r *CheckSuiteRepo) GetByCommitSHA(ctx context.Context, sha string) (*model.CheckSuite, error) {
	query := `SELECT ` + suiteColumns + ` FROM check_suites WHERE commit_sha = ? ORDER BY id DESC LIMIT 1`

	suite, err := scanCheckSuite(r.db.Reader.QueryRowContext(ctx, query, sha))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get check suite for commit %s: %w", sha, err)
	}

	return suite, nil
}

// ListForPullRequest returns all suites for a pull request, oldest first.
func (r *CheckSuiteRepo) ListForPullRequest(ctx context.Context, prID int64) ([]model.CheckSuite, error) {
	query := `SELECT ` + suiteColumns + ` FROM check_suites WHERE pull_request_id = ? ORDER BY id`

	return r.querySuites(ctx, query, prID)
}

// ListRunning returns suites that hold a backend reference and still have at
// least one job in a non-terminal status.
func (r *CheckSuiteRepo) ListRunning(ctx context.Context) ([]model.CheckSuite, error) {
	query := `
		SELECT DISTINCT cs.id, cs.pull_request_id, cs.author, cs.commit_sha, cs.base_sha,
		       cs.work_branch, cs.merge_branch, cs.backend_ref, cs.retry,
		       cs.cancelled_previous_id, cs.stopped_in_stage_id, cs.created_at, cs.updated_at
		FROM check_suites cs
		JOIN jobs j ON j.check_suite_id = cs.id
		WHERE cs.backend_ref != '' AND j.status IN ('queued', 'in_progress')
		ORDER BY cs.id
	`

	return r.querySuites(ctx, query)
}

// SetBackendRef records the backend plan-run reference after a successful start.
func (r *CheckSuiteRepo) SetBackendRef(ctx context.Context, id int64, ref string) error {
	return r.setColumn(ctx, id, "backend_ref", ref)
}

// SetCancelledPrevious records the supersede relationship to the cancelled run.
func (r *CheckSuiteRepo) SetCancelledPrevious(ctx context.Context, id, previousID int64) error {
	return r.setColumn(ctx, id, "cancelled_previous_id", previousID)
}

// SetStoppedInStage records the stage that was active when the suite was cancelled.
func (r *CheckSuiteRepo) SetStoppedInStage(ctx context.Context, id, stageID int64) error {
	return r.setColumn(ctx, id, "stopped_in_stage_id", stageID)
}

func (r *CheckSuiteRepo) setColumn(ctx context.Context, id int64, column string, value any) error {
	query := fmt.Sprintf(`UPDATE check_suites SET %s = ?, updated_at = ? WHERE id = ?`, column)

	res, err := r.db.Writer.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set %s on check suite %d: %w", column, id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("check suite %d: %w", id, driven.ErrNotFound)
	}

	return nil
}

func (r *CheckSuiteRepo) querySuites(ctx context.Context, query string, args ...any) ([]model.CheckSuite, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query check suites: %w", err)
	}
	defer rows.Close()

	var suites []model.CheckSuite
	for rows.Next() {
		suite, err := scanCheckSuite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check suite: %w", err)
		}
		suites = append(suites, *suite)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate check suites: %w", err)
	}

	return suites, nil
}

func scanCheckSuite(s scanner) (*model.CheckSuite, error) {
	var suite model.CheckSuite
	var createdAt, updatedAt string

	err := s.Scan(
		&suite.ID, &suite.PullRequestID, &suite.Author, &suite.CommitSHA, &suite.BaseSHA,
		&suite.WorkBranch, &suite.MergeBranch, &suite.BackendRef, &suite.Retry,
		&suite.CancelledPreviousID, &suite.StoppedInStageID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	suite.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	suite.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &suite, nil
}
