package driven

import (
	"context"

	"github.com/checkbridge/checkbridge/internal/domain/model"
)

// Notifier fans out chat-style notifications about run lifecycle events.
// Implementations must be best-effort; a failed notification never blocks a
// state transition.
type Notifier interface {
	ExecutionStarted(ctx context.Context, pr model.PullRequest, suite model.CheckSuite)
	RetryRequested(ctx context.Context, suite model.CheckSuite, username string, kind model.RetryKind)
	RetryBlocked(ctx context.Context, suite model.CheckSuite, username, reason string)
}
