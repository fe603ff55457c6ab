package application

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

type summaryFixture struct {
	db      *memDB
	backend *fakeBackend
	sink    *fakeSink
	svc     *SummaryService
}

func newSummaryFixture(t *testing.T) *summaryFixture {
	t.Helper()

	db := newMemDB()
	backend := &fakeBackend{}
	sink := &fakeSink{}
	svc := NewSummaryService(
		memPRStore{db}, memSuiteStore{db}, memStageStore{db}, memJobStore{db},
		backend, sink, discardLogger(),
	)
	return &summaryFixture{db: db, backend: backend, sink: sink, svc: svc}
}

func (f *summaryFixture) seedSuite() (model.PullRequest, model.CheckSuite) {
	pr := f.db.addPR(model.PullRequest{Repository: "octocat/hello-world", Number: 42})
	suite := f.db.addSuite(model.CheckSuite{PullRequestID: pr.ID, CommitSHA: "abc123", BackendRef: "CI-PLAN-7"})
	return pr, suite
}

func TestSummaryService_RunningTally(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()

	stage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameBuild, CheckRef: 100})
	running := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: stage.ID, Name: "build-amd64", Status: model.StatusInProgress})
	f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: stage.ID, Name: "build-arm64", Status: model.StatusQueued})

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), running.ID))

	assert.Equal(t, model.StatusInProgress, f.db.stageByID(stage.ID).Status)

	updates := f.sink.updatedChecks()
	require.Len(t, updates, 1)
	assert.Equal(t, int64(100), updates[0].Ref)
	assert.Equal(t, model.StatusInProgress, updates[0].Status)
	require.NotNil(t, updates[0].Output)
	assert.Contains(t, updates[0].Output.Summary, "1 in progress")
	assert.Contains(t, updates[0].Output.Summary, "build-arm64")
	assert.Empty(t, f.sink.completedChecks())
}

func TestSummaryService_BuildRollupWaitsForAllBuildJobs(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()

	stage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameBuild, Status: model.StatusInProgress, CheckRef: 100})
	done := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: stage.ID, Name: "build-amd64", Status: model.StatusSuccess})
	f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: stage.ID, Name: "build-arm64", Status: model.StatusInProgress})

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), done.ID))

	assert.Empty(t, f.sink.completedChecks(), "no rollup while a build job is still running")
	assert.Equal(t, model.StatusInProgress, f.db.stageByID(stage.ID).Status)
}

func TestSummaryService_BuildRollupSuccess(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()

	buildStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameBuild, Status: model.StatusInProgress, CheckRef: 100})
	testsStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameTests, Status: model.StatusInProgress, CheckRef: 101})
	done := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: buildStage.ID, Name: "build-amd64", Status: model.StatusSuccess})
	f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: testsStage.ID, Name: "test-a", Status: model.StatusInProgress})

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), done.ID))

	assert.Equal(t, model.StatusSuccess, f.db.stageByID(buildStage.ID).Status)
	completions := f.sink.completedChecks()
	require.Len(t, completions, 1)
	assert.Equal(t, int64(100), completions[0].Ref)
	assert.Equal(t, model.StatusSuccess, completions[0].Conclusion)

	// The tests stage stays open until the whole suite is terminal.
	assert.Equal(t, model.StatusInProgress, f.db.stageByID(testsStage.ID).Status)
}

func TestSummaryService_BuildFailureSettlesTests(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()

	buildStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameBuild, Status: model.StatusInProgress, CheckRef: 100})
	testsStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameTests, CheckRef: 101})
	failed := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: buildStage.ID, Name: "build-amd64", Status: model.StatusFailure})
	queued := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: testsStage.ID, Name: "test-a", Status: model.StatusQueued})

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), failed.ID))

	assert.Equal(t, model.StatusFailure, f.db.stageByID(buildStage.ID).Status)
	assert.Equal(t, model.StatusCancelled, f.db.stageByID(testsStage.ID).Status)
	assert.Equal(t, model.StatusSkipped, f.db.jobByID(queued.ID).Status)

	byRef := map[int64]checkCompletion{}
	for _, c := range f.sink.completedChecks() {
		byRef[c.Ref] = c
	}
	assert.Equal(t, model.StatusFailure, byRef[100].Conclusion)
	assert.Equal(t, model.StatusCancelled, byRef[101].Conclusion)
	require.NotNil(t, byRef[101].Output)
	assert.Contains(t, byRef[101].Output.Summary, "not possible to run the tests")
}

func TestSummaryService_TestsRollupWithFailureDetails(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()

	buildStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameBuild, Status: model.StatusSuccess, CheckRef: 100})
	testsStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameTests, Status: model.StatusInProgress, CheckRef: 101})
	f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: buildStage.ID, Name: "build-amd64", Status: model.StatusSuccess})
	f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: testsStage.ID, Name: "test-a", Status: model.StatusSuccess})
	failed := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: testsStage.ID, Name: "test-b", Status: model.StatusFailure})

	jobs := memJobStore{f.db}
	require.NoError(t, jobs.AddTestFailure(context.Background(), model.TestFailure{
		JobID:     failed.ID,
		TestSuite: "ospf_topo1",
		TestCase:  "test_converges",
		Message:   "expected full adjacency",
	}))

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), failed.ID))

	assert.Equal(t, model.StatusFailure, f.db.stageByID(testsStage.ID).Status)

	completions := f.sink.completedChecks()
	require.Len(t, completions, 1)
	assert.Equal(t, int64(101), completions[0].Ref)
	assert.Equal(t, model.StatusFailure, completions[0].Conclusion)
	require.NotNil(t, completions[0].Output)
	summary := completions[0].Output.Summary
	assert.Contains(t, summary, "test-b")
	assert.Contains(t, summary, "ospf_topo1")
	assert.Contains(t, summary, "test_converges")
	assert.Contains(t, summary, "expected full adjacency")
}

func TestSummaryService_FailedBuildJobGetsLogExcerpt(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()

	buildStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameBuild, Status: model.StatusSuccess, CheckRef: 100})
	testsStage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameTests, Status: model.StatusInProgress, CheckRef: 101})
	brokenBuild := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: buildStage.ID, Name: "build-amd64", Status: model.StatusFailure, JobRef: "B-1"})
	failed := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: testsStage.ID, Name: "test-a", Status: model.StatusFailure})
	_ = brokenBuild

	f.backend.jobResults = map[string]*driven.JobResult{
		"B-1": {
			JobRef: "B-1",
			State:  model.StatusFailure,
			Artifacts: []driven.Artifact{
				{Name: "ErrorLog", Href: "https://ci.example.com/artifact/B-1/log"},
			},
		},
	}
	f.backend.logs = map[string]string{
		"https://ci.example.com/artifact/B-1/log": "gcc: fatal error: ld returned 1",
	}

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), failed.ID))

	completions := f.sink.completedChecks()
	require.Len(t, completions, 1)
	assert.Contains(t, completions[0].Output.Summary, "ld returned 1")
}

func TestSummaryService_SummaryIsTruncated(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()

	stage := f.db.addStage(model.Stage{CheckSuiteID: suite.ID, Name: model.StageNameTests, Status: model.StatusInProgress, CheckRef: 101})
	failed := f.db.addJob(model.Job{CheckSuiteID: suite.ID, StageID: stage.ID, Name: "test-a", Status: model.StatusFailure})

	jobs := memJobStore{f.db}
	require.NoError(t, jobs.AddTestFailure(context.Background(), model.TestFailure{
		JobID:     failed.ID,
		TestSuite: "big",
		TestCase:  "case",
		Message:   strings.Repeat("x", driven.MaxSummaryLength+1000),
	}))

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), failed.ID))

	completions := f.sink.completedChecks()
	require.Len(t, completions, 1)
	assert.LessOrEqual(t, len(completions[0].Output.Summary), driven.MaxSummaryLength)
}

func TestTruncateSummaryKeepsRunesIntact(t *testing.T) {
	// The odd-length prefix forces the length limit to fall inside a
	// two-byte rune.
	s := "a" + strings.Repeat("ü", driven.MaxSummaryLength)

	out := truncateSummary(s)
	assert.Equal(t, driven.MaxSummaryLength-1, len(out))
	assert.True(t, utf8.ValidString(out), "the cut must fall on a rune boundary")

	assert.Equal(t, "short", truncateSummary("short"))
}

func TestSummaryService_UngroupedJobIsIgnored(t *testing.T) {
	f := newSummaryFixture(t)
	_, suite := f.seedSuite()
	job := f.db.addJob(model.Job{CheckSuiteID: suite.ID, Name: "orphan", Status: model.StatusSuccess})

	require.NoError(t, f.svc.JobStatusChanged(context.Background(), job.ID))
	assert.Empty(t, f.sink.updatedChecks())
	assert.Empty(t, f.sink.completedChecks())
}
