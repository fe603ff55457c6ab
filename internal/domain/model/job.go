package model

import (
	"strings"
	"time"
)

// CheckoutJobName is the bootstrap job that prepares the working tree before
// any build or test job runs. Whether it counts as its own stage is decided
// by stage configuration.
const CheckoutJobName = "Checkout Code"

// Job is one unit of remote execution (a build task or a single test suite
// run) inside a check suite, optionally grouped under a stage.
type Job struct {
	ID            int64
	CheckSuiteID  int64
	StageID       int64 // 0 when the job is not grouped under a stage.
	Name          string
	Status        Status
	JobRef        string // Backend job reference.
	CheckRef      int64  // GitHub check run id.
	Retry         int
	ExecutionTime int // Seconds.
	Summary       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsCheckout reports whether this is the bootstrap checkout job.
func (j Job) IsCheckout() bool {
	return strings.EqualFold(j.Name, CheckoutJobName)
}

// TestFailure is one failed test case recorded against a failed test job.
type TestFailure struct {
	ID            int64
	JobID         int64
	TestSuite     string
	TestCase      string
	Message       string
	ExecutionTime int // Seconds.
	CreatedAt     time.Time
}
