package application

import (
	"context"
	"log/slog"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// RetryUser identifies who requested a retry, for the audit log.
type RetryUser struct {
	Login string
	ID    int64
	Type  string
}

// RetryCommand is a parsed comment-style retry request: a commit reference
// plus an optional target stage for a partial retry.
type RetryCommand struct {
	CommitSHA string
	StageName string
	User      RetryUser
}

// RetryService handles check-run re-run buttons and comment retry commands:
// it re-enqueues the failed jobs of a suite (or one stage of it), asks the
// backend to restart them, and records an audit entry.
type RetryService struct {
	prStore    driven.PullRequestStore
	suiteStore driven.CheckSuiteStore
	stageStore driven.StageStore
	configs    driven.StageConfigurationStore
	jobs       driven.JobStore
	audit      driven.AuditStore
	backend    driven.ExecutionBackend
	sink       driven.StatusSink
	notifier   driven.Notifier
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewRetryService creates a RetryService.
func NewRetryService(
	prStore driven.PullRequestStore,
	suiteStore driven.CheckSuiteStore,
	stageStore driven.StageStore,
	configs driven.StageConfigurationStore,
	jobs driven.JobStore,
	audit driven.AuditStore,
	backend driven.ExecutionBackend,
	sink driven.StatusSink,
	notifier driven.Notifier,
	dispatcher *Dispatcher,
	logger *slog.Logger,
) *RetryService {
	return &RetryService{
		prStore:    prStore,
		suiteStore: suiteStore,
		stageStore: stageStore,
		configs:    configs,
		jobs:       jobs,
		audit:      audit,
		backend:    backend,
		sink:       sink,
		notifier:   notifier,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// HandleCheckRerun processes the re-run button of a job check run. It is a
// full re-run: every non-success job of the owning suite is re-enqueued.
func (s *RetryService) HandleCheckRerun(ctx context.Context, checkRef int64, user RetryUser) Result {
	job, err := s.jobs.GetByCheckRef(ctx, checkRef)
	if err != nil {
		s.logger.Error("failed to resolve check run", "check_ref", checkRef, "error", err)
		return Result{Code: 422, Reason: "Failed to resolve check run"}
	}
	if job == nil {
		return Result{Code: 404, Reason: "Check run not found"}
	}
	if job.Status.Active() {
		return Result{Code: 304, Reason: "Already enqueued this execution"}
	}

	suite, err := s.suiteStore.GetByID(ctx, job.CheckSuiteID)
	if err != nil || suite == nil {
		s.logger.Error("failed to resolve check suite", "suite", job.CheckSuiteID, "error", err)
		return Result{Code: 404, Reason: "Check suite not found"}
	}

	jobs, err := s.jobs.ListBySuite(ctx, suite.ID)
	if err != nil {
		s.logger.Error("failed to list suite jobs", "suite", suite.ID, "error", err)
		return Result{Code: 422, Reason: "Failed to resolve check run"}
	}

	return s.retryScope(ctx, *suite, nonSuccess(jobs), model.RetryKindFull, user)
}

// HandleCommand processes a parsed comment retry command.
func (s *RetryService) HandleCommand(ctx context.Context, cmd RetryCommand) Result {
	if cmd.CommitSHA == "" {
		return Result{Code: 422, Reason: "Invalid payload"}
	}

	suite, err := s.suiteStore.GetByCommitSHA(ctx, cmd.CommitSHA)
	if err != nil {
		s.logger.Error("failed to resolve commit", "sha", cmd.CommitSHA, "error", err)
		return Result{Code: 422, Reason: "Failed to resolve commit"}
	}
	if suite == nil {
		return Result{Code: 404, Reason: "Commit not found"}
	}

	jobs, err := s.jobs.ListBySuite(ctx, suite.ID)
	if err != nil {
		s.logger.Error("failed to list suite jobs", "suite", suite.ID, "error", err)
		return Result{Code: 422, Reason: "Failed to resolve commit"}
	}

	if cmd.StageName == "" {
		if len(model.ActiveJobs(jobs)) > 0 {
			return Result{Code: 304, Reason: "Already enqueued this execution"}
		}
		return s.retryScope(ctx, *suite, nonSuccess(jobs), model.RetryKindFull, cmd.User)
	}

	return s.retryStage(ctx, *suite, jobs, cmd)
}

func (s *RetryService) retryStage(ctx context.Context, suite model.CheckSuite, jobs []model.Job, cmd RetryCommand) Result {
	stage, err := s.stageStore.GetBySuiteAndName(ctx, suite.ID, cmd.StageName)
	if err != nil {
		s.logger.Error("failed to resolve stage", "suite", suite.ID, "name", cmd.StageName, "error", err)
		return Result{Code: 422, Reason: "Failed to resolve stage"}
	}
	if stage == nil {
		return Result{Code: 404, Reason: "Stage not found"}
	}
	if !s.stageCanRetry(ctx, *stage) {
		return Result{Code: 406, Reason: "Retry is not allowed for this stage"}
	}

	stageJobs := model.StageJobs(jobs, stage.ID)
	if len(model.ActiveJobs(stageJobs)) > 0 {
		return Result{Code: 304, Reason: "Already enqueued this execution"}
	}

	if s.siblingsRunning(ctx, suite.ID, jobs, stage.ID) {
		s.notifier.RetryBlocked(ctx, suite, cmd.User.Login, "other tests are still running")
		return Result{Code: 406, Reason: "Cannot retry while other tests are running"}
	}

	// Conflict answers must not mutate anything, so the stage only resets
	// once there is a job to re-enqueue.
	scope := nonSuccess(stageJobs)
	if len(scope) == 0 {
		return Result{Code: 304, Reason: "Nothing to retry"}
	}
	if err := s.stageStore.UpdateStatus(ctx, stage.ID, model.StatusQueued); err != nil {
		s.logger.Error("failed to reset stage status", "stage", stage.ID, "error", err)
	}

	return s.retryScope(ctx, suite, scope, model.RetryKindPartial, cmd.User)
}

// siblingsRunning reports whether any job outside the target stage is still
// active. Jobs grouped under a dedicated checkout stage are excluded: that
// stage completes before anything else starts and must not block a retry.
func (s *RetryService) siblingsRunning(ctx context.Context, suiteID int64, jobs []model.Job, targetStageID int64) bool {
	checkoutStages := make(map[int64]bool)
	stages, err := s.stageStore.ListBySuite(ctx, suiteID)
	if err != nil {
		s.logger.Error("failed to list suite stages", "suite", suiteID, "error", err)
	}
	for _, stage := range stages {
		if stage.Name == model.CheckoutJobName {
			checkoutStages[stage.ID] = true
		}
	}

	for _, job := range jobs {
		if job.StageID == targetStageID || checkoutStages[job.StageID] {
			continue
		}
		if job.Status.Active() {
			return true
		}
	}
	return false
}

func (s *RetryService) stageCanRetry(ctx context.Context, stage model.Stage) bool {
	if stage.ConfigurationID == 0 {
		return true
	}
	configs, err := s.configs.List(ctx)
	if err != nil {
		s.logger.Error("failed to load stage configurations", "error", err)
		return true
	}
	for _, cfg := range configs {
		if cfg.ID == stage.ConfigurationID {
			return cfg.CanRetry
		}
	}
	return true
}

// retryScope re-enqueues every job in scope, pushes the queued status to the
// sink, schedules best-effort remote job stops, restarts the plan, and writes
// the audit entry. Local transitions commit before any remote call.
func (s *RetryService) retryScope(ctx context.Context, suite model.CheckSuite, scope []model.Job, kind model.RetryKind, user RetryUser) Result {
	if len(scope) == 0 {
		return Result{Code: 304, Reason: "Nothing to retry"}
	}

	pr, err := s.prStore.GetByID(ctx, suite.PullRequestID)
	if err != nil || pr == nil {
		s.logger.Error("failed to resolve pull request", "pr", suite.PullRequestID, "error", err)
		return Result{Code: 422, Reason: "Failed to resolve pull request"}
	}

	jobIDs := make([]int64, 0, len(scope))
	for _, job := range scope {
		if err := s.jobs.Enqueue(ctx, job.ID); err != nil {
			s.logger.Error("failed to enqueue job", "job", job.ID, "error", err)
			continue
		}
		jobIDs = append(jobIDs, job.ID)

		if job.CheckRef != 0 {
			if err := s.sink.UpdateCheckRun(ctx, pr.Repository, job.CheckRef, model.StatusQueued, nil); err != nil {
				s.logger.Error("failed to mark check run queued", "job", job.ID, "error", err)
			}
		}
		if job.JobRef != "" {
			ref := job.JobRef
			s.dispatcher.Submit("stop retried job", func(ctx context.Context) error {
				return s.backend.StopJob(ctx, ref)
			})
		}
	}

	if suite.BackendRef != "" {
		if err := s.backend.Restart(ctx, suite.BackendRef); err != nil {
			s.logger.Error("failed to restart plan", "suite", suite.ID, "error", err)
		}
	}

	if _, err := s.audit.RecordRetry(ctx, model.AuditRetry{
		CheckSuiteID: suite.ID,
		Username:     user.Login,
		UserID:       user.ID,
		UserType:     user.Type,
		RetryKind:    kind,
		JobIDs:       jobIDs,
	}); err != nil {
		s.logger.Error("failed to record retry audit entry", "suite", suite.ID, "error", err)
	}

	s.notifier.RetryRequested(ctx, suite, user.Login, kind)

	return Result{Code: 200, Reason: "Retrying failure jobs"}
}

func nonSuccess(jobs []model.Job) []model.Job {
	var out []model.Job
	for _, j := range jobs {
		if j.Status != model.StatusSuccess {
			out = append(out, j)
		}
	}
	return out
}
