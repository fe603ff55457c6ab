package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// PullRequestEvent is the normalized payload of a pull request webhook
// delivery, extracted by the driving adapter.
type PullRequestEvent struct {
	Action     string
	Repository string // "owner/name".
	Number     int
	Author     string
	HeadSHA    string
	BaseSHA    string
	HeadBranch string
	BaseBranch string
}

// IntakeService handles qualifying pull request events: it supersedes any
// still-running suite for the same pull request, creates a new check suite,
// starts the backend plan, and materializes the reported job list as local
// jobs with GitHub check runs.
type IntakeService struct {
	prStore     driven.PullRequestStore
	suiteStore  driven.CheckSuiteStore
	stageStore  driven.StageStore
	configs     driven.StageConfigurationStore
	jobs        driven.JobStore
	backend     driven.ExecutionBackend
	sink        driven.StatusSink
	notifier    driven.Notifier
	dispatcher  *Dispatcher
	locks       *KeyedLock
	plans       map[string]string // Repository -> backend plan key overrides.
	defaultPlan string
	logger      *slog.Logger
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(
	prStore driven.PullRequestStore,
	suiteStore driven.CheckSuiteStore,
	stageStore driven.StageStore,
	configs driven.StageConfigurationStore,
	jobs driven.JobStore,
	backend driven.ExecutionBackend,
	sink driven.StatusSink,
	notifier driven.Notifier,
	dispatcher *Dispatcher,
	plans map[string]string,
	defaultPlan string,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		prStore:     prStore,
		suiteStore:  suiteStore,
		stageStore:  stageStore,
		configs:     configs,
		jobs:        jobs,
		backend:     backend,
		sink:        sink,
		notifier:    notifier,
		dispatcher:  dispatcher,
		locks:       NewKeyedLock(),
		plans:       plans,
		defaultPlan: defaultPlan,
		logger:      logger,
	}
}

var qualifyingActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// Handle processes one pull request event end to end.
func (s *IntakeService) Handle(ctx context.Context, event PullRequestEvent) Result {
	if event.Repository == "" || event.Number == 0 || event.HeadSHA == "" {
		return Result{Code: 422, Reason: "Invalid payload"}
	}
	if !qualifyingActions[event.Action] {
		return Result{Code: 200, Reason: fmt.Sprintf("Ignoring action %q", event.Action)}
	}

	// The supersede-previous / create-new sequence must be serialized per
	// pull request so two near-simultaneous pushes cannot both become "the
	// latest". Remote calls happen after the lock is released.
	unlock := s.locks.Lock(PullRequestKey(event.Repository, event.Number))

	pr, res := s.findOrCreatePullRequest(ctx, event)
	if res != nil {
		unlock()
		return *res
	}

	previous, err := s.suiteStore.GetLastForPullRequest(ctx, pr.ID)
	if err != nil {
		unlock()
		s.logger.Error("failed to read previous check suite", "pr", pr.ID, "error", err)
		return Result{Code: 422, Reason: "Failed to save Check Suite"}
	}

	suite, err := s.suiteStore.Create(ctx, model.CheckSuite{
		PullRequestID: pr.ID,
		Author:        event.Author,
		CommitSHA:     event.HeadSHA,
		BaseSHA:       event.BaseSHA,
		WorkBranch:    event.HeadBranch,
		MergeBranch:   event.BaseBranch,
	})
	if err != nil {
		unlock()
		s.logger.Error("failed to save check suite", "pr", pr.ID, "error", err)
		return Result{Code: 422, Reason: "Failed to save Check Suite"}
	}

	superseded := false
	if previous != nil {
		superseded = s.cancelPrevious(ctx, *pr, *previous)
	}

	unlock()

	// Per-run signing credential handed to the plan as an execution variable.
	secret := uuid.NewString()
	backendRef, err := s.backend.StartPlan(ctx, suite, pr.Plan, map[string]string{
		"signature_secret": secret,
	})
	if err != nil {
		s.logger.Error("failed to start plan", "suite", suite.ID, "plan", pr.Plan, "error", err)
		return Result{Code: 424, Reason: "Failed to start CI plan"}
	}
	suite.BackendRef = backendRef
	if err := s.suiteStore.SetBackendRef(ctx, suite.ID, backendRef); err != nil {
		s.logger.Error("failed to save backend reference", "suite", suite.ID, "error", err)
		return Result{Code: 422, Reason: "Failed to save Check Suite"}
	}

	running, err := s.backend.FetchRunningJobs(ctx, backendRef)
	if err != nil || len(running) == 0 {
		s.logger.Error("failed to fetch running plan jobs",
			"suite", suite.ID, "backend_ref", backendRef, "error", err)
		return Result{Code: 422, Reason: "Failed to fetch running plan jobs"}
	}

	// A newer push may have superseded this suite while the plan was
	// starting. Materializing its jobs now would leave a second active run,
	// so stop the plan instead.
	latest, err := s.suiteStore.GetLastForPullRequest(ctx, pr.ID)
	if err == nil && latest != nil && latest.ID != suite.ID {
		s.dispatcher.Submit("stop superseded plan", func(ctx context.Context) error {
			return s.backend.StopPlan(ctx, backendRef)
		})
		return Result{Code: 200, Reason: "Pull Request superseded"}
	}

	s.notifier.ExecutionStarted(ctx, *pr, suite)
	s.materializeJobs(ctx, *pr, suite, running)

	if superseded {
		if err := s.suiteStore.SetCancelledPrevious(ctx, suite.ID, previous.ID); err != nil {
			s.logger.Error("failed to record superseded suite",
				"suite", suite.ID, "previous", previous.ID, "error", err)
		}
		body := fmt.Sprintf(
			"CI run for commit `%s` was cancelled: commit `%s` superseded it before it finished.",
			previous.CommitSHA, suite.CommitSHA)
		if err := s.sink.CreateComment(ctx, pr.Repository, pr.Number, body); err != nil {
			s.logger.Error("failed to post supersede comment", "pr", pr.ID, "error", err)
		}
	}

	return Result{Code: 200, Reason: "Pull Request created"}
}

func (s *IntakeService) findOrCreatePullRequest(ctx context.Context, event PullRequestEvent) (*model.PullRequest, *Result) {
	pr, err := s.prStore.GetByRepoNumber(ctx, event.Repository, event.Number)
	if err != nil {
		s.logger.Error("failed to look up pull request",
			"repository", event.Repository, "number", event.Number, "error", err)
		return nil, &Result{Code: 422, Reason: "Failed to save Pull Request"}
	}

	plan := s.planFor(event.Repository)

	if pr == nil {
		created, err := s.prStore.Create(ctx, model.PullRequest{
			Repository: event.Repository,
			Number:     event.Number,
			Author:     event.Author,
			BranchName: event.HeadBranch,
			Plan:       plan,
		})
		if err != nil {
			s.logger.Error("failed to save pull request",
				"repository", event.Repository, "number", event.Number, "error", err)
			return nil, &Result{Code: 422, Reason: "Failed to save Pull Request"}
		}
		return &created, nil
	}

	pr.Author = event.Author
	pr.BranchName = event.HeadBranch
	pr.Plan = plan
	if err := s.prStore.Update(ctx, *pr); err != nil {
		s.logger.Error("failed to update pull request", "pr", pr.ID, "error", err)
		return nil, &Result{Code: 422, Reason: "Failed to save Pull Request"}
	}
	return pr, nil
}

func (s *IntakeService) planFor(repository string) string {
	if plan, ok := s.plans[repository]; ok {
		return plan
	}
	return s.defaultPlan
}

// cancelPrevious marks every non-terminal job and stage of the previous suite
// as cancelled, records the stage that was active, and schedules the remote
// stop plus check-run completions. Local state transitions commit first; the
// remote side effects are fire-and-forget. Returns whether the previous suite
// was still running.
func (s *IntakeService) cancelPrevious(ctx context.Context, pr model.PullRequest, previous model.CheckSuite) bool {
	jobs, err := s.jobs.ListBySuite(ctx, previous.ID)
	if err != nil {
		s.logger.Error("failed to list jobs of previous suite", "suite", previous.ID, "error", err)
		return false
	}
	// A job-less suite with a backend ref is still starting up. Without a
	// backend ref the plan never started, so there is nothing to cancel.
	if len(jobs) == 0 && previous.BackendRef == "" {
		return false
	}
	if len(jobs) > 0 && model.SuiteFinished(jobs) {
		return false
	}

	stages, err := s.stageStore.ListBySuite(ctx, previous.ID)
	if err != nil {
		s.logger.Error("failed to list stages of previous suite", "suite", previous.ID, "error", err)
		stages = nil
	}

	var checkRefs []int64
	for _, job := range jobs {
		if !job.Status.Active() {
			continue
		}
		if err := s.jobs.UpdateStatus(ctx, job.ID, model.StatusCancelled); err != nil {
			s.logger.Error("failed to cancel job", "job", job.ID, "error", err)
			continue
		}
		if job.CheckRef != 0 {
			checkRefs = append(checkRefs, job.CheckRef)
		}
	}

	var stoppedIn int64
	for _, stage := range stages {
		if stage.Status == model.StatusInProgress && stoppedIn == 0 {
			stoppedIn = stage.ID
		}
		if !stage.Status.Active() {
			continue
		}
		if err := s.stageStore.UpdateStatus(ctx, stage.ID, model.StatusCancelled); err != nil {
			s.logger.Error("failed to cancel stage", "stage", stage.ID, "error", err)
			continue
		}
		if stage.CheckRef != 0 {
			checkRefs = append(checkRefs, stage.CheckRef)
		}
	}
	if stoppedIn != 0 {
		if err := s.suiteStore.SetStoppedInStage(ctx, previous.ID, stoppedIn); err != nil {
			s.logger.Error("failed to record stopped stage", "suite", previous.ID, "error", err)
		}
	}

	if previous.BackendRef != "" {
		ref := previous.BackendRef
		s.dispatcher.Submit("stop superseded plan", func(ctx context.Context) error {
			return s.backend.StopPlan(ctx, ref)
		})
	}
	repository := pr.Repository
	for _, checkRef := range checkRefs {
		ref := checkRef
		s.dispatcher.Submit("cancel superseded check run", func(ctx context.Context) error {
			return s.sink.CompleteCheckRun(ctx, repository, ref, model.StatusCancelled, &driven.CheckOutput{
				Title:   "Cancelled",
				Summary: "A newer commit superseded this run.",
			})
		})
	}

	return true
}

// materializeJobs creates one local job per backend-reported entry plus the
// aggregate stage rows derived from stage configuration. Each job creation is
// independent; a failure is logged and siblings still get created.
func (s *IntakeService) materializeJobs(ctx context.Context, pr model.PullRequest, suite model.CheckSuite, running []driven.RunningJob) {
	configs, err := s.configs.List(ctx)
	if err != nil {
		s.logger.Error("failed to load stage configurations", "error", err)
	}
	byName := make(map[string]model.StageConfiguration, len(configs))
	for _, cfg := range configs {
		byName[cfg.CheckRunName] = cfg
	}

	stageIDs := make(map[string]int64)
	for _, entry := range running {
		stageName := classifyJob(entry.Name, byName)
		stageID, ok := stageIDs[stageName]
		if !ok {
			stageID = s.ensureStage(ctx, pr, suite, stageName, byName)
			stageIDs[stageName] = stageID
		}

		job, err := s.jobs.Create(ctx, model.Job{
			CheckSuiteID: suite.ID,
			StageID:      stageID,
			Name:         entry.Name,
			Status:       model.StatusQueued,
			JobRef:       entry.JobRef,
		})
		if err != nil {
			s.logger.Error("failed to save job", "suite", suite.ID, "name", entry.Name, "error", err)
			continue
		}

		checkRef, err := s.sink.CreateCheckRun(ctx, pr.Repository, suite.CommitSHA, job.Name)
		if err != nil {
			s.logger.Error("failed to create check run", "job", job.ID, "error", err)
			continue
		}
		if err := s.jobs.SetCheckRef(ctx, job.ID, checkRef); err != nil {
			s.logger.Error("failed to save check reference", "job", job.ID, "error", err)
		}
	}
}

// ensureStage creates the aggregate stage row and its check run once per
// suite. Returns 0 when the stage could not be created; the job is then kept
// ungrouped rather than dropped.
func (s *IntakeService) ensureStage(ctx context.Context, pr model.PullRequest, suite model.CheckSuite, name string, configs map[string]model.StageConfiguration) int64 {
	existing, err := s.stageStore.GetBySuiteAndName(ctx, suite.ID, name)
	if err != nil {
		s.logger.Error("failed to look up stage", "suite", suite.ID, "name", name, "error", err)
		return 0
	}
	if existing != nil {
		return existing.ID
	}

	cfg := configs[name]
	status := model.StatusQueued
	if cfg.StartInProgress {
		status = model.StatusInProgress
	}
	stage, err := s.stageStore.Create(ctx, model.Stage{
		CheckSuiteID:    suite.ID,
		ConfigurationID: cfg.ID,
		Name:            name,
		Status:          status,
	})
	if err != nil {
		s.logger.Error("failed to save stage", "suite", suite.ID, "name", name, "error", err)
		return 0
	}

	checkRef, err := s.sink.CreateCheckRun(ctx, pr.Repository, suite.CommitSHA, name)
	if err != nil {
		s.logger.Error("failed to create stage check run", "stage", stage.ID, "error", err)
		return stage.ID
	}
	if err := s.stageStore.SetCheckRef(ctx, stage.ID, checkRef); err != nil {
		s.logger.Error("failed to save stage check reference", "stage", stage.ID, "error", err)
	}
	if cfg.StartInProgress {
		if err := s.sink.UpdateCheckRun(ctx, pr.Repository, checkRef, model.StatusInProgress, nil); err != nil {
			s.logger.Error("failed to mark stage in progress", "stage", stage.ID, "error", err)
		}
	}
	return stage.ID
}

// classifyJob maps a backend job name onto an aggregate stage check-run name.
// The checkout job gets its own stage only when a configuration row exists for
// it; otherwise it counts as part of the build.
func classifyJob(name string, configs map[string]model.StageConfiguration) string {
	if strings.EqualFold(name, model.CheckoutJobName) {
		if _, ok := configs[model.CheckoutJobName]; ok {
			return model.CheckoutJobName
		}
		return model.StageNameBuild
	}
	if strings.Contains(strings.ToLower(name), "build") {
		return model.StageNameBuild
	}
	return model.StageNameTests
}
