package model

import "time"

// PullRequest represents a GitHub pull request tracked by checkbridge.
// Identity is (Repository, Number); rows are created on the first webhook for
// a PR and never deleted.
type PullRequest struct {
	ID         int64
	Repository string // "owner/name" as reported by the webhook payload.
	Number     int
	Author     string
	BranchName string
	Plan       string // Backend build-plan key used for this repository.
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
