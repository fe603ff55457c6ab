package driven

import (
	"context"

	"github.com/checkbridge/checkbridge/internal/domain/model"
)

// RunningJob is one entry of the backend's reported job list for a plan run.
type RunningJob struct {
	Name   string
	JobRef string
}

// Artifact is a link to a build artifact exposed by the backend.
type Artifact struct {
	Name string
	Href string
}

// TestCaseFailure is one failed test case inside a job result.
type TestCaseFailure struct {
	TestSuite     string
	TestCase      string
	Message       string
	ExecutionTime int // Seconds.
}

// JobResult is the backend's view of one job inside a plan run.
type JobResult struct {
	JobRef        string
	State         model.Status
	ExecutionTime int // Seconds.
	Artifacts     []Artifact
	Failures      []TestCaseFailure
}

// PlanResult is the backend's aggregated view of a plan run.
type PlanResult struct {
	State    model.Status
	Finished bool
	Jobs     []JobResult
}

// ExecutionBackend defines the driven port for the remote build-plan runner.
// All references are opaque strings minted by the backend. Every call is a
// blocking network operation; callers must not hold locks across them.
type ExecutionBackend interface {
	// StartPlan starts a plan run for the suite and returns the plan-run
	// reference. The variables are passed to the plan as execution variables.
	StartPlan(ctx context.Context, suite model.CheckSuite, plan string, variables map[string]string) (string, error)

	// FetchRunningJobs returns the job list the backend scheduled for the
	// plan run. An empty list means the backend is not ready or rejected the
	// run; the error distinguishes the two where the backend allows it.
	FetchRunningJobs(ctx context.Context, backendRef string) ([]RunningJob, error)

	// StopPlan stops a whole plan run. Tolerant of already-stopped and
	// unknown references.
	StopPlan(ctx context.Context, backendRef string) error

	// StopJob stops a single job inside a plan run. Best-effort.
	StopJob(ctx context.Context, jobRef string) error

	// Restart re-runs the failed jobs of an existing plan run.
	Restart(ctx context.Context, backendRef string) error

	// FetchPlanResult returns the current aggregated result of a plan run.
	FetchPlanResult(ctx context.Context, backendRef string) (*PlanResult, error)

	// FetchJobResult returns the detailed result of a single job, including
	// artifact links and failed test cases.
	FetchJobResult(ctx context.Context, jobRef string) (*JobResult, error)

	// FetchLog downloads a log artifact by its href.
	FetchLog(ctx context.Context, href string) (string, error)
}
