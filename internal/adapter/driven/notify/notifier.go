// Package notify implements the Notifier port as structured log events.
// Chat fan-out lives behind the same interface, so swapping this adapter for
// a real messaging client needs no application changes.
package notify

import (
	"context"
	"log/slog"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

var _ driven.Notifier = (*LogNotifier)(nil)

// LogNotifier emits lifecycle notifications to the process log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// ExecutionStarted reports a newly started plan run.
func (n *LogNotifier) ExecutionStarted(_ context.Context, pr model.PullRequest, suite model.CheckSuite) {
	n.logger.Info("execution started",
		"repository", pr.Repository,
		"number", pr.Number,
		"suite", suite.ID,
		"commit", suite.CommitSHA,
	)
}

// RetryRequested reports an accepted retry.
func (n *LogNotifier) RetryRequested(_ context.Context, suite model.CheckSuite, username string, kind model.RetryKind) {
	n.logger.Info("retry requested",
		"suite", suite.ID,
		"commit", suite.CommitSHA,
		"user", username,
		"kind", string(kind),
	)
}

// RetryBlocked reports a rejected retry.
func (n *LogNotifier) RetryBlocked(_ context.Context, suite model.CheckSuite, username, reason string) {
	n.logger.Warn("retry blocked",
		"suite", suite.ID,
		"commit", suite.CommitSHA,
		"user", username,
		"reason", reason,
	)
}
