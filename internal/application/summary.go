package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// logExcerptLength bounds the tail of a build log attached to a failure
// summary, well under the sink's output limit.
const logExcerptLength = 4000

// SummaryService rolls job status changes up into the aggregate Build/Tests
// stage check runs. Rollup timing: the build stage completes only once every
// build job is terminal; the tests stage completes only once the whole suite
// is terminal, so a partial status never flaps.
type SummaryService struct {
	prStore    driven.PullRequestStore
	suiteStore driven.CheckSuiteStore
	stageStore driven.StageStore
	jobs       driven.JobStore
	backend    driven.ExecutionBackend
	sink       driven.StatusSink
	logger     *slog.Logger
}

// NewSummaryService creates a SummaryService.
func NewSummaryService(
	prStore driven.PullRequestStore,
	suiteStore driven.CheckSuiteStore,
	stageStore driven.StageStore,
	jobs driven.JobStore,
	backend driven.ExecutionBackend,
	sink driven.StatusSink,
	logger *slog.Logger,
) *SummaryService {
	return &SummaryService{
		prStore:    prStore,
		suiteStore: suiteStore,
		stageStore: stageStore,
		jobs:       jobs,
		backend:    backend,
		sink:       sink,
		logger:     logger,
	}
}

// JobStatusChanged projects a single job's new status onto the aggregate
// stage check runs.
func (s *SummaryService) JobStatusChanged(ctx context.Context, jobID int64) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolve job %d: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("resolve job %d: %w", jobID, driven.ErrNotFound)
	}
	if job.StageID == 0 {
		return nil
	}

	suite, err := s.suiteStore.GetByID(ctx, job.CheckSuiteID)
	if err != nil {
		return fmt.Errorf("resolve suite %d: %w", job.CheckSuiteID, err)
	}
	if suite == nil {
		return fmt.Errorf("resolve suite %d: %w", job.CheckSuiteID, driven.ErrNotFound)
	}
	pr, err := s.prStore.GetByID(ctx, suite.PullRequestID)
	if err != nil {
		return fmt.Errorf("resolve pull request %d: %w", suite.PullRequestID, err)
	}
	if pr == nil {
		return fmt.Errorf("resolve pull request %d: %w", suite.PullRequestID, driven.ErrNotFound)
	}

	allJobs, err := s.jobs.ListBySuite(ctx, suite.ID)
	if err != nil {
		return fmt.Errorf("list suite jobs: %w", err)
	}
	stages, err := s.stageStore.ListBySuite(ctx, suite.ID)
	if err != nil {
		return fmt.Errorf("list suite stages: %w", err)
	}

	buildStage := findStage(stages, func(st model.Stage) bool { return st.IsBuild() })
	testsStage := findStage(stages, func(st model.Stage) bool { return st.IsTest() })

	// Running tally while the job's own stage is still moving.
	if !job.Status.Finished() {
		if stage := stageByID(stages, job.StageID); stage != nil && stage.Status.Active() {
			s.postRunningTally(ctx, *pr, *stage, allJobs)
		}
		return nil
	}

	if buildStage != nil && buildStage.Status.Active() && model.BuildStageFinished(allJobs, stages) {
		s.completeBuildStage(ctx, *pr, *buildStage, testsStage, allJobs, stages)
	}

	if testsStage != nil && testsStage.Status.Active() && model.SuiteFinished(allJobs) {
		s.completeTestsStage(ctx, *pr, *testsStage, allJobs)
	}

	return nil
}

// postRunningTally moves the stage to in_progress on the sink with a count of
// its jobs by status.
func (s *SummaryService) postRunningTally(ctx context.Context, pr model.PullRequest, stage model.Stage, allJobs []model.Job) {
	if stage.Status == model.StatusQueued {
		if err := s.stageStore.UpdateStatus(ctx, stage.ID, model.StatusInProgress); err != nil {
			s.logger.Error("failed to move stage in progress", "stage", stage.ID, "error", err)
		}
	}
	if stage.CheckRef == 0 {
		return
	}

	output := tallyOutput(stage.Name, model.StageJobs(allJobs, stage.ID))
	if err := s.sink.UpdateCheckRun(ctx, pr.Repository, stage.CheckRef, model.StatusInProgress, output); err != nil {
		s.logger.Error("failed to update stage check run", "stage", stage.ID, "error", err)
	}
}

// completeBuildStage rolls the build stage up to its conclusion. A failed
// build also settles the tests stage: its jobs will never run.
func (s *SummaryService) completeBuildStage(ctx context.Context, pr model.PullRequest, stage model.Stage, testsStage *model.Stage, allJobs []model.Job, stages []model.Stage) {
	conclusion := model.StatusFailure
	if model.BuildStageSuccess(allJobs, stages) {
		conclusion = model.StatusSuccess
	}

	if err := s.stageStore.UpdateStatus(ctx, stage.ID, conclusion); err != nil {
		s.logger.Error("failed to settle build stage", "stage", stage.ID, "error", err)
	}
	if stage.CheckRef != 0 {
		output := tallyOutput(stage.Name, model.StageJobs(allJobs, stage.ID))
		if err := s.sink.CompleteCheckRun(ctx, pr.Repository, stage.CheckRef, conclusion, output); err != nil {
			s.logger.Error("failed to complete build check run", "stage", stage.ID, "error", err)
		}
	}

	if conclusion != model.StatusFailure || testsStage == nil || !testsStage.Status.Active() {
		return
	}
	testJobs := model.StageJobs(allJobs, testsStage.ID)
	if len(model.ActiveJobs(testJobs)) != len(testJobs) {
		// Some tests already ran; the normal tests rollup reports them.
		return
	}
	if err := s.stageStore.UpdateStatus(ctx, testsStage.ID, model.StatusCancelled); err != nil {
		s.logger.Error("failed to settle tests stage", "stage", testsStage.ID, "error", err)
	}
	for _, job := range testJobs {
		if err := s.jobs.UpdateStatus(ctx, job.ID, model.StatusSkipped); err != nil {
			s.logger.Error("failed to skip test job", "job", job.ID, "error", err)
		}
	}
	if testsStage.CheckRef != 0 {
		output := &driven.CheckOutput{
			Title:   "Tests cancelled",
			Summary: "The build failed, so it is not possible to run the tests.",
		}
		if err := s.sink.CompleteCheckRun(ctx, pr.Repository, testsStage.CheckRef, model.StatusCancelled, output); err != nil {
			s.logger.Error("failed to cancel tests check run", "stage", testsStage.ID, "error", err)
		}
	}
}

// completeTestsStage rolls the tests stage up once the whole suite is
// terminal, attaching failure detail for every failed job.
func (s *SummaryService) completeTestsStage(ctx context.Context, pr model.PullRequest, stage model.Stage, allJobs []model.Job) {
	testJobs := model.StageJobs(allJobs, stage.ID)

	conclusion := model.StatusSuccess
	for _, job := range testJobs {
		switch job.Status {
		case model.StatusFailure:
			conclusion = model.StatusFailure
		case model.StatusCancelled:
			if conclusion == model.StatusSuccess {
				conclusion = model.StatusCancelled
			}
		}
	}

	if err := s.stageStore.UpdateStatus(ctx, stage.ID, conclusion); err != nil {
		s.logger.Error("failed to settle tests stage", "stage", stage.ID, "error", err)
	}
	if stage.CheckRef == 0 {
		return
	}

	output := tallyOutput(stage.Name, testJobs)
	if conclusion == model.StatusFailure {
		details := s.failureDetails(ctx, allJobs)
		output.Summary = truncateSummary(output.Summary + "\n" + details)
	}
	if err := s.sink.CompleteCheckRun(ctx, pr.Repository, stage.CheckRef, conclusion, output); err != nil {
		s.logger.Error("failed to complete tests check run", "stage", stage.ID, "error", err)
	}
}

// failureDetails renders per-job failure detail: recorded test case failures
// for test jobs, a fetched log tail for build-type jobs.
func (s *SummaryService) failureDetails(ctx context.Context, allJobs []model.Job) string {
	var b strings.Builder
	for _, job := range allJobs {
		if job.Status != model.StatusFailure {
			continue
		}
		fmt.Fprintf(&b, "## %s\n", job.Name)

		if classifyJob(job.Name, nil) == model.StageNameBuild {
			if excerpt := s.buildLogExcerpt(ctx, job); excerpt != "" {
				fmt.Fprintf(&b, "```\n%s\n```\n", excerpt)
			}
			continue
		}

		failures, err := s.jobs.ListTestFailures(ctx, job.ID)
		if err != nil {
			s.logger.Error("failed to list test failures", "job", job.ID, "error", err)
			continue
		}
		for _, f := range failures {
			fmt.Fprintf(&b, "- `%s` / `%s`: %s\n", f.TestSuite, f.TestCase, f.Message)
		}
	}
	return b.String()
}

// buildLogExcerpt fetches the tail of the first log-like artifact of a failed
// build job. Best-effort; an empty string means no log was available.
func (s *SummaryService) buildLogExcerpt(ctx context.Context, job model.Job) string {
	if job.JobRef == "" {
		return ""
	}
	result, err := s.backend.FetchJobResult(ctx, job.JobRef)
	if err != nil {
		s.logger.Error("failed to fetch job result", "job", job.ID, "error", err)
		return ""
	}
	for _, artifact := range result.Artifacts {
		if !strings.Contains(strings.ToLower(artifact.Name), "log") {
			continue
		}
		log, err := s.backend.FetchLog(ctx, artifact.Href)
		if err != nil {
			s.logger.Error("failed to fetch build log", "job", job.ID, "href", artifact.Href, "error", err)
			return ""
		}
		if len(log) > logExcerptLength {
			log = log[len(log)-logExcerptLength:]
		}
		return log
	}
	return ""
}

// tallyOutput builds the running-count output for a stage check run.
func tallyOutput(name string, jobs []model.Job) *driven.CheckOutput {
	counts := map[model.Status]int{}
	byStatus := map[model.Status][]string{}
	for _, job := range jobs {
		counts[job.Status]++
		byStatus[job.Status] = append(byStatus[job.Status], job.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d in progress, %d queued, %d succeeded, %d failed, %d cancelled, %d skipped.\n",
		counts[model.StatusInProgress], counts[model.StatusQueued],
		counts[model.StatusSuccess], counts[model.StatusFailure],
		counts[model.StatusCancelled], counts[model.StatusSkipped])
	for _, status := range []model.Status{
		model.StatusFailure, model.StatusInProgress, model.StatusQueued,
		model.StatusCancelled, model.StatusSkipped,
	} {
		if len(byStatus[status]) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", status)
		for _, jobName := range byStatus[status] {
			fmt.Fprintf(&b, "- %s\n", jobName)
		}
	}

	return &driven.CheckOutput{
		Title:   name,
		Summary: truncateSummary(b.String()),
	}
}

func truncateSummary(s string) string {
	if len(s) <= driven.MaxSummaryLength {
		return s
	}
	// Never cut inside a multi-byte rune.
	cut := driven.MaxSummaryLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func findStage(stages []model.Stage, match func(model.Stage) bool) *model.Stage {
	for i := range stages {
		if match(stages[i]) {
			return &stages[i]
		}
	}
	return nil
}

func stageByID(stages []model.Stage, id int64) *model.Stage {
	for i := range stages {
		if stages[i].ID == id {
			return &stages[i]
		}
	}
	return nil
}
