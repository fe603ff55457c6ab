package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// PollService periodically reconciles every running suite against the
// execution backend, applies job status transitions locally, mirrors them to
// the job check runs, and feeds each change to the summary projector.
type PollService struct {
	prStore    driven.PullRequestStore
	suiteStore driven.CheckSuiteStore
	jobs       driven.JobStore
	backend    driven.ExecutionBackend
	sink       driven.StatusSink
	summary    *SummaryService
	interval   time.Duration
	refreshCh  chan int64
	logger     *slog.Logger
}

// NewPollService creates a PollService polling at the given interval.
func NewPollService(
	prStore driven.PullRequestStore,
	suiteStore driven.CheckSuiteStore,
	jobs driven.JobStore,
	backend driven.ExecutionBackend,
	sink driven.StatusSink,
	summary *SummaryService,
	interval time.Duration,
	logger *slog.Logger,
) *PollService {
	return &PollService{
		prStore:    prStore,
		suiteStore: suiteStore,
		jobs:       jobs,
		backend:    backend,
		sink:       sink,
		summary:    summary,
		interval:   interval,
		refreshCh:  make(chan int64, 16),
		logger:     logger,
	}
}

// Start runs the polling loop until the context is canceled. It polls once
// immediately, then on every tick, plus on demand via RequestRefresh.
func (p *PollService) Start(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.interval)
	p.pollAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.pollAll(ctx)
		case suiteID := <-p.refreshCh:
			p.refreshSuite(ctx, suiteID)
		}
	}
}

// RequestRefresh asks for an out-of-band poll of one suite. Non-blocking;
// when the queue is full the next periodic tick covers it anyway.
func (p *PollService) RequestRefresh(suiteID int64) {
	select {
	case p.refreshCh <- suiteID:
	default:
	}
}

func (p *PollService) pollAll(ctx context.Context) {
	suites, err := p.suiteStore.ListRunning(ctx)
	if err != nil {
		p.logger.Error("failed to list running suites", "error", err)
		return
	}
	for _, suite := range suites {
		if ctx.Err() != nil {
			return
		}
		p.pollSuite(ctx, suite)
	}
}

func (p *PollService) refreshSuite(ctx context.Context, suiteID int64) {
	suite, err := p.suiteStore.GetByID(ctx, suiteID)
	if err != nil || suite == nil {
		p.logger.Error("failed to resolve suite for refresh", "suite", suiteID, "error", err)
		return
	}
	p.pollSuite(ctx, *suite)
}

func (p *PollService) pollSuite(ctx context.Context, suite model.CheckSuite) {
	if suite.BackendRef == "" {
		return
	}

	result, err := p.backend.FetchPlanResult(ctx, suite.BackendRef)
	if err != nil {
		p.logger.Error("failed to fetch plan result", "suite", suite.ID, "error", err)
		return
	}

	pr, err := p.prStore.GetByID(ctx, suite.PullRequestID)
	if err != nil || pr == nil {
		p.logger.Error("failed to resolve pull request", "suite", suite.ID, "error", err)
		return
	}

	jobs, err := p.jobs.ListBySuite(ctx, suite.ID)
	if err != nil {
		p.logger.Error("failed to list suite jobs", "suite", suite.ID, "error", err)
		return
	}

	byRef := make(map[string]driven.JobResult, len(result.Jobs))
	for _, remote := range result.Jobs {
		byRef[remote.JobRef] = remote
	}

	for _, job := range jobs {
		remote, ok := byRef[job.JobRef]
		if !ok {
			continue
		}
		p.applyTransition(ctx, *pr, job, remote)
	}
}

// applyTransition moves one local job to the state the backend reports.
// Local terminal states stick until a retry re-enqueues the job, so a stale
// backend read can never resurrect a finished job.
func (p *PollService) applyTransition(ctx context.Context, pr model.PullRequest, job model.Job, remote driven.JobResult) {
	if job.Status.Finished() || remote.State == job.Status {
		return
	}

	switch remote.State {
	case model.StatusInProgress:
		if err := p.jobs.UpdateStatus(ctx, job.ID, model.StatusInProgress); err != nil {
			p.logger.Error("failed to move job in progress", "job", job.ID, "error", err)
			return
		}
		if job.CheckRef != 0 {
			if err := p.sink.UpdateCheckRun(ctx, pr.Repository, job.CheckRef, model.StatusInProgress, nil); err != nil {
				p.logger.Error("failed to update job check run", "job", job.ID, "error", err)
			}
		}

	case model.StatusSuccess, model.StatusFailure, model.StatusCancelled, model.StatusSkipped:
		if err := p.jobs.UpdateStatus(ctx, job.ID, remote.State); err != nil {
			p.logger.Error("failed to finish job", "job", job.ID, "error", err)
			return
		}
		if remote.ExecutionTime > 0 {
			if err := p.jobs.SetExecutionTime(ctx, job.ID, remote.ExecutionTime); err != nil {
				p.logger.Error("failed to save execution time", "job", job.ID, "error", err)
			}
		}
		summary := p.recordFailures(ctx, job, remote)
		if job.CheckRef != 0 {
			var output *driven.CheckOutput
			if summary != "" {
				output = &driven.CheckOutput{Title: job.Name, Summary: summary}
			}
			if err := p.sink.CompleteCheckRun(ctx, pr.Repository, job.CheckRef, remote.State, output); err != nil {
				p.logger.Error("failed to complete job check run", "job", job.ID, "error", err)
			}
		}

	default:
		return
	}

	if err := p.summary.JobStatusChanged(ctx, job.ID); err != nil {
		p.logger.Error("failed to project job status", "job", job.ID, "error", err)
	}
}

// recordFailures persists the backend-reported test case failures and returns
// a short summary for the job check run. The aggregated plan result does not
// carry test detail, so a failed job without inline failures gets one
// detailed fetch.
func (p *PollService) recordFailures(ctx context.Context, job model.Job, remote driven.JobResult) string {
	if remote.State != model.StatusFailure {
		return ""
	}

	failures := remote.Failures
	if len(failures) == 0 && job.JobRef != "" {
		detail, err := p.backend.FetchJobResult(ctx, job.JobRef)
		if err != nil {
			p.logger.Error("failed to fetch job detail", "job", job.ID, "error", err)
		} else {
			failures = detail.Failures
		}
	}
	if len(failures) == 0 {
		return ""
	}

	for _, f := range failures {
		err := p.jobs.AddTestFailure(ctx, model.TestFailure{
			JobID:         job.ID,
			TestSuite:     f.TestSuite,
			TestCase:      f.TestCase,
			Message:       f.Message,
			ExecutionTime: f.ExecutionTime,
		})
		if err != nil {
			p.logger.Error("failed to record test failure", "job", job.ID, "error", err)
		}
	}

	summary := fmt.Sprintf("%d test case(s) failed.", len(failures))
	if err := p.jobs.SetSummary(ctx, job.ID, summary); err != nil {
		p.logger.Error("failed to save job summary", "job", job.ID, "error", err)
	}
	return summary
}
