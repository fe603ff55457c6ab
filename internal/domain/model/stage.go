package model

import "time"

// Well-known check-run names for the two aggregate stages. The summary
// projector rolls individual jobs up into these.
const (
	StageNameBuild = "Build"
	StageNameTests = "Tests"
)

// StageConfiguration is the external definition of a stage: how the backend
// names it, how it appears on GitHub, and how retry treats it.
type StageConfiguration struct {
	ID               int64
	BackendStageName string // Stage name as reported by the execution backend.
	CheckRunName     string // Display name used for the GitHub check run.
	Position         int
	StartInProgress  bool
	CanRetry         bool
	Mandatory        bool
}

// Stage is a named phase inside a check suite, owned exclusively by it.
type Stage struct {
	ID              int64
	CheckSuiteID    int64
	ConfigurationID int64
	Name            string
	Status          Status
	CheckRef        int64 // GitHub check run id for the aggregate stage, 0 when not created.
	ExecutionTime   int   // Seconds.
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsBuild reports whether this stage aggregates build-classified jobs.
func (s Stage) IsBuild() bool { return s.Name == StageNameBuild }

// IsTest reports whether this stage aggregates test-classified jobs.
func (s Stage) IsTest() bool { return s.Name == StageNameTests }
