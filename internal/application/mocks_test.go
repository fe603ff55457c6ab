package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// memDB is the shared backing state for the in-memory store fakes, so a flow
// test can wire every port against the same data without a database.
type memDB struct {
	mu       sync.Mutex
	prs      []model.PullRequest
	suites   []model.CheckSuite
	stages   []model.Stage
	configs  []model.StageConfiguration
	jobs     []model.Job
	failures []model.TestFailure
	retries  []model.AuditRetry
	nextID   int64
}

func newMemDB() *memDB { return &memDB{} }

func (db *memDB) id() int64 {
	db.nextID++
	return db.nextID
}

// Seeding helpers for test setup.

func (db *memDB) addPR(pr model.PullRequest) model.PullRequest {
	db.mu.Lock()
	defer db.mu.Unlock()
	pr.ID = db.id()
	db.prs = append(db.prs, pr)
	return pr
}

func (db *memDB) addSuite(suite model.CheckSuite) model.CheckSuite {
	db.mu.Lock()
	defer db.mu.Unlock()
	suite.ID = db.id()
	suite.CreatedAt = time.Now()
	db.suites = append(db.suites, suite)
	return suite
}

func (db *memDB) addStage(stage model.Stage) model.Stage {
	db.mu.Lock()
	defer db.mu.Unlock()
	stage.ID = db.id()
	if stage.Status == "" {
		stage.Status = model.StatusQueued
	}
	db.stages = append(db.stages, stage)
	return stage
}

func (db *memDB) addJob(job model.Job) model.Job {
	db.mu.Lock()
	defer db.mu.Unlock()
	job.ID = db.id()
	if job.Status == "" {
		job.Status = model.StatusQueued
	}
	db.jobs = append(db.jobs, job)
	return job
}

func (db *memDB) addConfig(cfg model.StageConfiguration) model.StageConfiguration {
	db.mu.Lock()
	defer db.mu.Unlock()
	cfg.ID = db.id()
	db.configs = append(db.configs, cfg)
	return cfg
}

func (db *memDB) suiteByID(id int64) model.CheckSuite {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, suite := range db.suites {
		if suite.ID == id {
			return suite
		}
	}
	return model.CheckSuite{}
}

func (db *memDB) jobByID(id int64) model.Job {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, job := range db.jobs {
		if job.ID == id {
			return job
		}
	}
	return model.Job{}
}

func (db *memDB) stageByID(id int64) model.Stage {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, stage := range db.stages {
		if stage.ID == id {
			return stage
		}
	}
	return model.Stage{}
}

func (db *memDB) allSuites() []model.CheckSuite {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]model.CheckSuite(nil), db.suites...)
}

func (db *memDB) allRetries() []model.AuditRetry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]model.AuditRetry(nil), db.retries...)
}

// memPRStore implements driven.PullRequestStore.
type memPRStore struct{ db *memDB }

var _ driven.PullRequestStore = memPRStore{}

func (s memPRStore) GetByRepoNumber(_ context.Context, repository string, number int) (*model.PullRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, pr := range s.db.prs {
		if pr.Repository == repository && pr.Number == number {
			out := pr
			return &out, nil
		}
	}
	return nil, nil
}

func (s memPRStore) GetByID(_ context.Context, id int64) (*model.PullRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, pr := range s.db.prs {
		if pr.ID == id {
			out := pr
			return &out, nil
		}
	}
	return nil, nil
}

func (s memPRStore) Create(_ context.Context, pr model.PullRequest) (model.PullRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	pr.ID = s.db.id()
	pr.CreatedAt = time.Now()
	pr.UpdatedAt = pr.CreatedAt
	s.db.prs = append(s.db.prs, pr)
	return pr, nil
}

func (s memPRStore) Update(_ context.Context, pr model.PullRequest) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.prs {
		if s.db.prs[i].ID == pr.ID {
			pr.UpdatedAt = time.Now()
			s.db.prs[i] = pr
			return nil
		}
	}
	return driven.ErrNotFound
}

func (s memPRStore) ListAll(_ context.Context) ([]model.PullRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]model.PullRequest(nil), s.db.prs...), nil
}

// memSuiteStore implements driven.CheckSuiteStore.
type memSuiteStore struct{ db *memDB }

var _ driven.CheckSuiteStore = memSuiteStore{}

func (s memSuiteStore) Create(_ context.Context, suite model.CheckSuite) (model.CheckSuite, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	suite.ID = s.db.id()
	suite.CreatedAt = time.Now()
	suite.UpdatedAt = suite.CreatedAt
	s.db.suites = append(s.db.suites, suite)
	return suite, nil
}

func (s memSuiteStore) GetByID(_ context.Context, id int64) (*model.CheckSuite, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, suite := range s.db.suites {
		if suite.ID == id {
			out := suite
			return &out, nil
		}
	}
	return nil, nil
}

func (s memSuiteStore) GetLastForPullRequest(_ context.Context, prID int64) (*model.CheckSuite, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var last *model.CheckSuite
	for i := range s.db.suites {
		if s.db.suites[i].PullRequestID == prID {
			out := s.db.suites[i]
			last = &out
		}
	}
	return last, nil
}

func (s memSuiteStore) GetByCommitSHA(_ context.Context, sha string) (*model.CheckSuite, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := len(s.db.suites) - 1; i >= 0; i-- {
		if s.db.suites[i].CommitSHA == sha {
			out := s.db.suites[i]
			return &out, nil
		}
	}
	return nil, nil
}

func (s memSuiteStore) ListForPullRequest(_ context.Context, prID int64) ([]model.CheckSuite, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.CheckSuite
	for _, suite := range s.db.suites {
		if suite.PullRequestID == prID {
			out = append(out, suite)
		}
	}
	return out, nil
}

func (s memSuiteStore) SetBackendRef(_ context.Context, id int64, ref string) error {
	return s.mutate(id, func(cs *model.CheckSuite) { cs.BackendRef = ref })
}

func (s memSuiteStore) SetCancelledPrevious(_ context.Context, id, previousID int64) error {
	return s.mutate(id, func(cs *model.CheckSuite) { cs.CancelledPreviousID = previousID })
}

func (s memSuiteStore) SetStoppedInStage(_ context.Context, id, stageID int64) error {
	return s.mutate(id, func(cs *model.CheckSuite) { cs.StoppedInStageID = stageID })
}

func (s memSuiteStore) mutate(id int64, fn func(*model.CheckSuite)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.suites {
		if s.db.suites[i].ID == id {
			fn(&s.db.suites[i])
			return nil
		}
	}
	return driven.ErrNotFound
}

func (s memSuiteStore) ListRunning(_ context.Context) ([]model.CheckSuite, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.CheckSuite
	for _, suite := range s.db.suites {
		if suite.BackendRef == "" {
			continue
		}
		for _, job := range s.db.jobs {
			if job.CheckSuiteID == suite.ID && job.Status.Active() {
				out = append(out, suite)
				break
			}
		}
	}
	return out, nil
}

// memStageStore implements driven.StageStore.
type memStageStore struct{ db *memDB }

var _ driven.StageStore = memStageStore{}

func (s memStageStore) Create(_ context.Context, stage model.Stage) (model.Stage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stage.ID = s.db.id()
	if stage.Status == "" {
		stage.Status = model.StatusQueued
	}
	s.db.stages = append(s.db.stages, stage)
	return stage, nil
}

func (s memStageStore) GetByID(_ context.Context, id int64) (*model.Stage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, stage := range s.db.stages {
		if stage.ID == id {
			out := stage
			return &out, nil
		}
	}
	return nil, nil
}

func (s memStageStore) GetBySuiteAndName(_ context.Context, suiteID int64, name string) (*model.Stage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, stage := range s.db.stages {
		if stage.CheckSuiteID == suiteID && stage.Name == name {
			out := stage
			return &out, nil
		}
	}
	return nil, nil
}

func (s memStageStore) ListBySuite(_ context.Context, suiteID int64) ([]model.Stage, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Stage
	for _, stage := range s.db.stages {
		if stage.CheckSuiteID == suiteID {
			out = append(out, stage)
		}
	}
	return out, nil
}

func (s memStageStore) UpdateStatus(_ context.Context, id int64, status model.Status) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.stages {
		if s.db.stages[i].ID == id {
			s.db.stages[i].Status = status
			return nil
		}
	}
	return driven.ErrNotFound
}

func (s memStageStore) SetCheckRef(_ context.Context, id, checkRef int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.stages {
		if s.db.stages[i].ID == id {
			s.db.stages[i].CheckRef = checkRef
			return nil
		}
	}
	return driven.ErrNotFound
}

// memConfigStore implements driven.StageConfigurationStore.
type memConfigStore struct{ db *memDB }

var _ driven.StageConfigurationStore = memConfigStore{}

func (s memConfigStore) Upsert(_ context.Context, cfg model.StageConfiguration) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.configs {
		if s.db.configs[i].BackendStageName == cfg.BackendStageName {
			cfg.ID = s.db.configs[i].ID
			s.db.configs[i] = cfg
			return nil
		}
	}
	cfg.ID = s.db.id()
	s.db.configs = append(s.db.configs, cfg)
	return nil
}

func (s memConfigStore) GetByBackendName(_ context.Context, name string) (*model.StageConfiguration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, cfg := range s.db.configs {
		if cfg.BackendStageName == name {
			out := cfg
			return &out, nil
		}
	}
	return nil, nil
}

func (s memConfigStore) List(_ context.Context) ([]model.StageConfiguration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return append([]model.StageConfiguration(nil), s.db.configs...), nil
}

// memJobStore implements driven.JobStore.
type memJobStore struct{ db *memDB }

var _ driven.JobStore = memJobStore{}

func (s memJobStore) Create(_ context.Context, job model.Job) (model.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	job.ID = s.db.id()
	if job.Status == "" {
		job.Status = model.StatusQueued
	}
	s.db.jobs = append(s.db.jobs, job)
	return job, nil
}

func (s memJobStore) GetByID(_ context.Context, id int64) (*model.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, job := range s.db.jobs {
		if job.ID == id {
			out := job
			return &out, nil
		}
	}
	return nil, nil
}

func (s memJobStore) GetByCheckRef(_ context.Context, checkRef int64) (*model.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, job := range s.db.jobs {
		if job.CheckRef == checkRef {
			out := job
			return &out, nil
		}
	}
	return nil, nil
}

func (s memJobStore) ListBySuite(_ context.Context, suiteID int64) ([]model.Job, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Job
	for _, job := range s.db.jobs {
		if job.CheckSuiteID == suiteID {
			out = append(out, job)
		}
	}
	return out, nil
}

func (s memJobStore) UpdateStatus(_ context.Context, id int64, status model.Status) error {
	return s.mutate(id, func(j *model.Job) { j.Status = status })
}

func (s memJobStore) SetCheckRef(_ context.Context, id, checkRef int64) error {
	return s.mutate(id, func(j *model.Job) { j.CheckRef = checkRef })
}

func (s memJobStore) SetExecutionTime(_ context.Context, id int64, seconds int) error {
	return s.mutate(id, func(j *model.Job) { j.ExecutionTime = seconds })
}

func (s memJobStore) SetSummary(_ context.Context, id int64, summary string) error {
	return s.mutate(id, func(j *model.Job) { j.Summary = summary })
}

func (s memJobStore) Enqueue(_ context.Context, id int64) error {
	return s.mutate(id, func(j *model.Job) {
		j.Status = model.StatusQueued
		j.Retry++
	})
}

func (s memJobStore) mutate(id int64, fn func(*model.Job)) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i := range s.db.jobs {
		if s.db.jobs[i].ID == id {
			fn(&s.db.jobs[i])
			return nil
		}
	}
	return driven.ErrNotFound
}

func (s memJobStore) AddTestFailure(_ context.Context, failure model.TestFailure) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	failure.ID = s.db.id()
	s.db.failures = append(s.db.failures, failure)
	return nil
}

func (s memJobStore) ListTestFailures(_ context.Context, jobID int64) ([]model.TestFailure, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.TestFailure
	for _, f := range s.db.failures {
		if f.JobID == jobID {
			out = append(out, f)
		}
	}
	return out, nil
}

// memAuditStore implements driven.AuditStore.
type memAuditStore struct{ db *memDB }

var _ driven.AuditStore = memAuditStore{}

func (s memAuditStore) RecordRetry(_ context.Context, entry model.AuditRetry) (model.AuditRetry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	entry.ID = s.db.id()
	entry.CreatedAt = time.Now()
	s.db.retries = append(s.db.retries, entry)
	return entry, nil
}

func (s memAuditStore) ListRetriesSince(_ context.Context, since time.Time) ([]model.AuditRetry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.AuditRetry
	for i := len(s.db.retries) - 1; i >= 0; i-- {
		if !s.db.retries[i].CreatedAt.Before(since) {
			out = append(out, s.db.retries[i])
		}
	}
	return out, nil
}

// fakeBackend scripts ExecutionBackend responses and records every call.
type fakeBackend struct {
	mu sync.Mutex

	startRef   string
	startErr   error
	running    []driven.RunningJob
	runningErr error
	planResult *driven.PlanResult
	jobResults map[string]*driven.JobResult
	logs       map[string]string

	startedPlans []string
	startVars    map[string]string
	stoppedPlans []string
	stoppedJobs  []string
	restarted    []string
}

var _ driven.ExecutionBackend = (*fakeBackend)(nil)

func (b *fakeBackend) StartPlan(_ context.Context, _ model.CheckSuite, plan string, variables map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return "", b.startErr
	}
	b.startedPlans = append(b.startedPlans, plan)
	b.startVars = variables
	return b.startRef, nil
}

func (b *fakeBackend) FetchRunningJobs(_ context.Context, _ string) ([]driven.RunningJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running, b.runningErr
}

func (b *fakeBackend) StopPlan(_ context.Context, backendRef string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stoppedPlans = append(b.stoppedPlans, backendRef)
	return nil
}

func (b *fakeBackend) StopJob(_ context.Context, jobRef string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stoppedJobs = append(b.stoppedJobs, jobRef)
	return nil
}

func (b *fakeBackend) Restart(_ context.Context, backendRef string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restarted = append(b.restarted, backendRef)
	return nil
}

func (b *fakeBackend) FetchPlanResult(_ context.Context, _ string) (*driven.PlanResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.planResult == nil {
		return nil, fmt.Errorf("no plan result scripted")
	}
	return b.planResult, nil
}

func (b *fakeBackend) FetchJobResult(_ context.Context, jobRef string) (*driven.JobResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if result, ok := b.jobResults[jobRef]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("no job result scripted for %s", jobRef)
}

func (b *fakeBackend) FetchLog(_ context.Context, href string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logs[href], nil
}

func (b *fakeBackend) stoppedPlanRefs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stoppedPlans...)
}

func (b *fakeBackend) restartedRefs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.restarted...)
}

func (b *fakeBackend) stoppedJobRefs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.stoppedJobs...)
}

type createdCheck struct {
	Repository string
	HeadSHA    string
	Name       string
	Ref        int64
}

type checkUpdate struct {
	Ref    int64
	Status model.Status
	Output *driven.CheckOutput
}

type checkCompletion struct {
	Ref        int64
	Conclusion model.Status
	Output     *driven.CheckOutput
}

// fakeSink records check-run traffic. Individual create calls can be
// scripted to fail by check name.
type fakeSink struct {
	mu          sync.Mutex
	nextRef     int64
	failCreate  map[string]error
	created     []createdCheck
	updates     []checkUpdate
	completions []checkCompletion
	comments    []string
}

var _ driven.StatusSink = (*fakeSink)(nil)

func (s *fakeSink) CreateCheckRun(_ context.Context, repository, headSHA, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failCreate[name]; ok {
		return 0, err
	}
	s.nextRef++
	s.created = append(s.created, createdCheck{
		Repository: repository,
		HeadSHA:    headSHA,
		Name:       name,
		Ref:        s.nextRef,
	})
	return s.nextRef, nil
}

func (s *fakeSink) UpdateCheckRun(_ context.Context, _ string, checkRef int64, status model.Status, output *driven.CheckOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, checkUpdate{Ref: checkRef, Status: status, Output: output})
	return nil
}

func (s *fakeSink) CompleteCheckRun(_ context.Context, _ string, checkRef int64, conclusion model.Status, output *driven.CheckOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions = append(s.completions, checkCompletion{Ref: checkRef, Conclusion: conclusion, Output: output})
	return nil
}

func (s *fakeSink) GetCheckRun(_ context.Context, _ string, checkRef int64) (*driven.CheckRunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.created {
		if c.Ref == checkRef {
			return &driven.CheckRunState{Name: c.Name, Status: "queued"}, nil
		}
	}
	return nil, driven.ErrNotFound
}

func (s *fakeSink) CreateComment(_ context.Context, _ string, _ int, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, body)
	return nil
}

func (s *fakeSink) createdChecks() []createdCheck {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]createdCheck(nil), s.created...)
}

func (s *fakeSink) completedChecks() []checkCompletion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkCompletion(nil), s.completions...)
}

func (s *fakeSink) updatedChecks() []checkUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]checkUpdate(nil), s.updates...)
}

func (s *fakeSink) postedComments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comments...)
}

// fakeNotifier records notification calls.
type fakeNotifier struct {
	mu        sync.Mutex
	started   int
	requested int
	blocked   []string
}

var _ driven.Notifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) ExecutionStarted(_ context.Context, _ model.PullRequest, _ model.CheckSuite) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
}

func (n *fakeNotifier) RetryRequested(_ context.Context, _ model.CheckSuite, _ string, _ model.RetryKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested++
}

func (n *fakeNotifier) RetryBlocked(_ context.Context, _ model.CheckSuite, _, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked = append(n.blocked, reason)
}

func (n *fakeNotifier) blockedReasons() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.blocked...)
}
