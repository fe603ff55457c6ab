package driven

import (
	"context"

	"github.com/checkbridge/checkbridge/internal/domain/model"
)

// MaxSummaryLength is the upper bound GitHub accepts for check-run output
// summaries. Longer summaries are truncated by the sink.
const MaxSummaryLength = 65536

// CheckOutput is the title+summary text shown on a check run.
type CheckOutput struct {
	Title   string
	Summary string
}

// CheckRunState is the sink's current view of a check run.
type CheckRunState struct {
	Name       string
	Status     string // queued, in_progress, completed.
	Conclusion string // success, failure, cancelled, skipped; empty until completed.
}

// StatusSink defines the driven port for the code-hosting platform's
// check-run API. Repository is "owner/name".
type StatusSink interface {
	// CreateCheckRun registers a new check run against the head commit and
	// returns its reference.
	CreateCheckRun(ctx context.Context, repository, headSHA, name string) (int64, error)

	// UpdateCheckRun moves a check run to queued or in_progress.
	UpdateCheckRun(ctx context.Context, repository string, checkRef int64, status model.Status, output *CheckOutput) error

	// CompleteCheckRun finishes a check run with one of the terminal
	// conclusions (success, failure, cancelled, skipped).
	CompleteCheckRun(ctx context.Context, repository string, checkRef int64, conclusion model.Status, output *CheckOutput) error

	// GetCheckRun returns the sink's current state for a check run.
	GetCheckRun(ctx context.Context, repository string, checkRef int64) (*CheckRunState, error)

	// CreateComment posts a PR-level comment.
	CreateComment(ctx context.Context, repository string, prNumber int, body string) error
}
