package model

import "time"

// AuditRetry is an append-only record of who triggered a retry and what was
// retried. Never mutated after creation; consumed only by reporting.
type AuditRetry struct {
	ID           int64
	CheckSuiteID int64
	Username     string
	UserID       int64
	UserType     string // "User", "Bot", ...
	RetryKind    RetryKind
	CreatedAt    time.Time

	// JobIDs lists the jobs covered by this retry. Persisted through a join
	// table, populated on read.
	JobIDs []int64
}
