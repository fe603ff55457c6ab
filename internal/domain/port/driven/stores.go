// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/checkbridge/checkbridge/internal/domain/model"
)

// ErrNotFound indicates the requested entity does not exist. Store lookups
// that can miss either return it or return (nil, nil); the method comment
// says which.
var ErrNotFound = errors.New("not found")

// PullRequestStore defines the driven port for pull request persistence.
// Uniqueness key is (repository, number).
type PullRequestStore interface {
	// GetByRepoNumber returns nil, nil when no row matches.
	GetByRepoNumber(ctx context.Context, repository string, number int) (*model.PullRequest, error)
	// GetByID returns nil, nil when no row matches.
	GetByID(ctx context.Context, id int64) (*model.PullRequest, error)
	Create(ctx context.Context, pr model.PullRequest) (model.PullRequest, error)
	// Update rewrites the mutable attributes (author, branch, plan).
	Update(ctx context.Context, pr model.PullRequest) error
	ListAll(ctx context.Context) ([]model.PullRequest, error)
}

// CheckSuiteStore defines the driven port for check suite persistence.
type CheckSuiteStore interface {
	Create(ctx context.Context, suite model.CheckSuite) (model.CheckSuite, error)
	GetByID(ctx context.Context, id int64) (*model.CheckSuite, error)
	// GetLastForPullRequest returns the most recently created suite for the
	// pull request, or nil, nil when the PR has no suites yet.
	GetLastForPullRequest(ctx context.Context, prID int64) (*model.CheckSuite, error)
	// GetByCommitSHA resolves a suite by its head commit. Returns nil, nil on miss.
	GetByCommitSHA(ctx context.Context, sha string) (*model.CheckSuite, error)
	ListForPullRequest(ctx context.Context, prID int64) ([]model.CheckSuite, error)
	SetBackendRef(ctx context.Context, id int64, ref string) error
	SetCancelledPrevious(ctx context.Context, id, previousID int64) error
	SetStoppedInStage(ctx context.Context, id, stageID int64) error
	// ListRunning returns suites that have a backend reference and at least
	// one job in a non-terminal status. Consumed by the poller.
	ListRunning(ctx context.Context) ([]model.CheckSuite, error)
}

// StageStore defines the driven port for stage persistence.
type StageStore interface {
	Create(ctx context.Context, stage model.Stage) (model.Stage, error)
	GetByID(ctx context.Context, id int64) (*model.Stage, error)
	// GetBySuiteAndName returns nil, nil on miss.
	GetBySuiteAndName(ctx context.Context, suiteID int64, name string) (*model.Stage, error)
	ListBySuite(ctx context.Context, suiteID int64) ([]model.Stage, error)
	UpdateStatus(ctx context.Context, id int64, status model.Status) error
	SetCheckRef(ctx context.Context, id, checkRef int64) error
}

// StageConfigurationStore defines the driven port for stage definitions.
type StageConfigurationStore interface {
	// Upsert inserts or replaces a configuration keyed by backend stage name.
	Upsert(ctx context.Context, cfg model.StageConfiguration) error
	// GetByBackendName returns nil, nil on miss.
	GetByBackendName(ctx context.Context, name string) (*model.StageConfiguration, error)
	// List returns all configurations ordered by position.
	List(ctx context.Context) ([]model.StageConfiguration, error)
}

// JobStore defines the driven port for job persistence.
type JobStore interface {
	Create(ctx context.Context, job model.Job) (model.Job, error)
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	// GetByCheckRef resolves a job by its GitHub check run id. Returns nil, nil on miss.
	GetByCheckRef(ctx context.Context, checkRef int64) (*model.Job, error)
	ListBySuite(ctx context.Context, suiteID int64) ([]model.Job, error)
	UpdateStatus(ctx context.Context, id int64, status model.Status) error
	SetCheckRef(ctx context.Context, id, checkRef int64) error
	SetExecutionTime(ctx context.Context, id int64, seconds int) error
	SetSummary(ctx context.Context, id int64, summary string) error
	// Enqueue sets the job back to queued and increments its retry counter.
	Enqueue(ctx context.Context, id int64) error
	AddTestFailure(ctx context.Context, failure model.TestFailure) error
	ListTestFailures(ctx context.Context, jobID int64) ([]model.TestFailure, error)
}

// AuditStore defines the driven port for the append-only retry audit log.
type AuditStore interface {
	RecordRetry(ctx context.Context, entry model.AuditRetry) (model.AuditRetry, error)
	// ListRetriesSince returns audit entries created at or after the given
	// time, newest first.
	ListRetriesSince(ctx context.Context, since time.Time) ([]model.AuditRetry, error)
}
