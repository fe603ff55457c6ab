package model

// Status is the lifecycle state shared by stages and jobs.
// Ordering for "is active": queued < in_progress < terminal states.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailure    Status = "failure"
	StatusCancelled  Status = "cancelled"
	StatusSkipped    Status = "skipped"
)

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// Active reports whether the status still occupies the execution backend.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusInProgress
}

// RetryKind distinguishes audit entries for full re-runs from partial
// single-stage retries.
type RetryKind string

const (
	RetryKindFull    RetryKind = "full"
	RetryKindPartial RetryKind = "partial"
)
