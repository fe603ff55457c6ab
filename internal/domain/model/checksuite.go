package model

import "time"

// CheckSuite is one CI execution attempt for a pull request at a given commit.
// At most one suite per pull request may be in a non-terminal state at a time;
// the intake service enforces this procedurally when it supersedes the
// previous run.
type CheckSuite struct {
	ID            int64
	PullRequestID int64
	Author        string
	CommitSHA     string
	BaseSHA       string
	WorkBranch    string
	MergeBranch   string
	BackendRef    string // Opaque plan-run reference; empty until the backend accepted the run.
	Retry         int

	// CancelledPreviousID is a weak reference to the suite this run
	// superseded, 0 when this run did not cancel anything.
	CancelledPreviousID int64

	// StoppedInStageID records the stage that was in progress when this
	// suite was cancelled by a newer run, 0 otherwise.
	StoppedInStageID int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
