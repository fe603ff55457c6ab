// Package httphandler is the HTTP driving adapter: the GitHub webhook entry
// point plus a small read-only REST API over the run hierarchy.
package httphandler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"

	"github.com/checkbridge/checkbridge/internal/application"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// retryCommandPrefix marks a PR comment as a retry request. The remainder of
// the line selects a stage for a partial retry; bare means full re-run.
const retryCommandPrefix = "ci:retry"

// Handler serves the webhook endpoint and the REST API.
type Handler struct {
	prStore       driven.PullRequestStore
	suiteStore    driven.CheckSuiteStore
	stageStore    driven.StageStore
	jobStore      driven.JobStore
	auditStore    driven.AuditStore
	intake        *application.IntakeService
	retry         *application.RetryService
	webhookSecret []byte
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	prStore driven.PullRequestStore,
	suiteStore driven.CheckSuiteStore,
	stageStore driven.StageStore,
	jobStore driven.JobStore,
	auditStore driven.AuditStore,
	intake *application.IntakeService,
	retry *application.RetryService,
	webhookSecret string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		prStore:       prStore,
		suiteStore:    suiteStore,
		stageStore:    stageStore,
		jobStore:      jobStore,
		auditStore:    auditStore,
		intake:        intake,
		retry:         retry,
		webhookSecret: []byte(webhookSecret),
		logger:        logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /webhooks/github", h.Webhook)
	mux.HandleFunc("GET /api/v1/prs", h.ListPRs)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/suites", h.ListSuites)
	mux.HandleFunc("GET /api/v1/reports/retries", h.RetryReport)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Webhook validates and dispatches one GitHub webhook delivery. Every
// delivery gets an HTTP-like result; unqualifying events are acknowledged,
// not rejected.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := gh.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	event, err := gh.ParseWebHook(gh.WebHookType(r), payload)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unsupported payload")
		return
	}

	switch e := event.(type) {
	case *gh.PullRequestEvent:
		writeResult(w, h.intake.Handle(r.Context(), toIntakeEvent(e)))
	case *gh.CheckRunEvent:
		h.handleCheckRun(w, r, e)
	case *gh.IssueCommentEvent:
		h.handleComment(w, r, e)
	default:
		writeResult(w, application.Result{Code: http.StatusOK, Reason: "Ignoring event"})
	}
}

func (h *Handler) handleCheckRun(w http.ResponseWriter, r *http.Request, e *gh.CheckRunEvent) {
	if e.GetAction() != "rerequested" {
		writeResult(w, application.Result{Code: http.StatusOK, Reason: "Ignoring action"})
		return
	}

	user := application.RetryUser{
		Login: e.GetSender().GetLogin(),
		ID:    e.GetSender().GetID(),
		Type:  e.GetSender().GetType(),
	}
	writeResult(w, h.retry.HandleCheckRerun(r.Context(), e.GetCheckRun().GetID(), user))
}

// handleComment turns a "ci:retry [stage]" PR comment into a retry command
// against the PR's latest suite.
func (h *Handler) handleComment(w http.ResponseWriter, r *http.Request, e *gh.IssueCommentEvent) {
	if e.GetAction() != "created" || !e.GetIssue().IsPullRequest() {
		writeResult(w, application.Result{Code: http.StatusOK, Reason: "Ignoring comment"})
		return
	}
	stage, ok := parseRetryCommand(e.GetComment().GetBody())
	if !ok {
		writeResult(w, application.Result{Code: http.StatusOK, Reason: "Ignoring comment"})
		return
	}

	ctx := r.Context()
	repository := e.GetRepo().GetFullName()
	number := e.GetIssue().GetNumber()

	pr, err := h.prStore.GetByRepoNumber(ctx, repository, number)
	if err != nil {
		h.logger.Error("failed to resolve pull request", "repository", repository, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if pr == nil {
		writeResult(w, application.Result{Code: http.StatusNotFound, Reason: "Pull Request not found"})
		return
	}

	suite, err := h.suiteStore.GetLastForPullRequest(ctx, pr.ID)
	if err != nil {
		h.logger.Error("failed to resolve latest suite", "pr", pr.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if suite == nil {
		writeResult(w, application.Result{Code: http.StatusNotFound, Reason: "No runs for this Pull Request"})
		return
	}

	cmd := application.RetryCommand{
		CommitSHA: suite.CommitSHA,
		StageName: stage,
		User: application.RetryUser{
			Login: e.GetSender().GetLogin(),
			ID:    e.GetSender().GetID(),
			Type:  e.GetSender().GetType(),
		},
	}
	writeResult(w, h.retry.HandleCommand(ctx, cmd))
}

// parseRetryCommand scans a comment body for the retry command. It must be
// the first token of a line; anything after it on the same line names the
// target stage.
func parseRetryCommand(body string) (stage string, ok bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == retryCommandPrefix {
			return "", true
		}
		if rest, found := strings.CutPrefix(line, retryCommandPrefix+" "); found {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// toIntakeEvent maps a go-github event to the application-level payload.
func toIntakeEvent(e *gh.PullRequestEvent) application.PullRequestEvent {
	pr := e.GetPullRequest()
	return application.PullRequestEvent{
		Action:     e.GetAction(),
		Repository: e.GetRepo().GetFullName(),
		Number:     e.GetNumber(),
		Author:     pr.GetUser().GetLogin(),
		HeadSHA:    pr.GetHead().GetSHA(),
		BaseSHA:    pr.GetBase().GetSHA(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
	}
}

// ListPRs returns all tracked pull requests.
func (h *Handler) ListPRs(w http.ResponseWriter, r *http.Request) {
	prs, err := h.prStore.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list pull requests", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PRResponse, 0, len(prs))
	for _, pr := range prs {
		resp = append(resp, toPRResponse(pr))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListSuites returns every suite of one pull request, with its stages and
// jobs nested.
func (h *Handler) ListSuites(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	repo := r.PathValue("repo")
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid PR number")
		return
	}

	ctx := r.Context()
	repository := owner + "/" + repo

	pr, err := h.prStore.GetByRepoNumber(ctx, repository, number)
	if err != nil {
		h.logger.Error("failed to get pull request", "repository", repository, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if pr == nil {
		writeError(w, http.StatusNotFound, "pull request not found")
		return
	}

	suites, err := h.suiteStore.ListForPullRequest(ctx, pr.ID)
	if err != nil {
		h.logger.Error("failed to list suites", "pr", pr.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]SuiteResponse, 0, len(suites))
	for _, suite := range suites {
		stages, err := h.stageStore.ListBySuite(ctx, suite.ID)
		if err != nil {
			h.logger.Error("failed to list stages", "suite", suite.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		jobs, err := h.jobStore.ListBySuite(ctx, suite.ID)
		if err != nil {
			h.logger.Error("failed to list jobs", "suite", suite.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp = append(resp, toSuiteResponse(suite, stages, jobs))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RetryReport returns the retry audit entries of the requested window
// (default: the last 7 days).
func (h *Handler) RetryReport(w http.ResponseWriter, r *http.Request) {
	since := time.Now().AddDate(0, 0, -7)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp, want RFC3339")
			return
		}
		since = parsed
	}

	entries, err := h.auditStore.ListRetriesSince(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to list retry audit entries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RetryReportResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toRetryReportResponse(entry))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
