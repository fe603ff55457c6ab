// Package bamboo implements the ExecutionBackend port against a Bamboo-style
// build server's REST API. Plan runs and jobs are addressed by the result
// keys the server mints (e.g. "CI-PLAN-123", "CI-PLAN-JOB1-123").
package bamboo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ExecutionBackend = (*Client)(nil)

const (
	queuePath    = "/rest/api/latest/queue/"
	resultPath   = "/rest/api/latest/result/"
	stopPath     = "/build/admin/stopPlan.action"
	resultExpand = "stages.stage.results"
	jobExpand    = "testResults.failedTests.testResult.errors,artifacts"
)

// Client talks to the build server over its REST API using a bearer token.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
		token:   token,
		logger:  logger,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client, for
// injecting an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		token:   token,
		logger:  logger,
	}
}

// StartPlan queues a plan run for the suite. Suite attributes and the given
// execution variables are passed as plan variables, so the build scripts can
// check out the right commits and sign their artifacts.
func (c *Client) StartPlan(ctx context.Context, suite model.CheckSuite, plan string, variables map[string]string) (string, error) {
	query := url.Values{}
	query.Set("stage", "")
	query.Set("executeAllStages", "true")
	query.Set("bamboo.variable.github_commit", suite.CommitSHA)
	query.Set("bamboo.variable.github_base", suite.BaseSHA)
	query.Set("bamboo.variable.github_branch", suite.WorkBranch)
	query.Set("bamboo.variable.github_merge_branch", suite.MergeBranch)
	for name, value := range variables {
		query.Set("bamboo.variable."+name, value)
	}

	var response struct {
		BuildResultKey string `json:"buildResultKey"`
	}
	if err := c.do(ctx, http.MethodPost, queuePath+plan, query, &response); err != nil {
		return "", fmt.Errorf("starting plan %s: %w", plan, err)
	}
	if response.BuildResultKey == "" {
		return "", fmt.Errorf("starting plan %s: server returned no build result key", plan)
	}

	return response.BuildResultKey, nil
}

// FetchRunningJobs returns the jobs the server scheduled for the plan run.
func (c *Client) FetchRunningJobs(ctx context.Context, backendRef string) ([]driven.RunningJob, error) {
	response, err := c.fetchPlan(ctx, backendRef)
	if err != nil {
		return nil, err
	}

	var jobs []driven.RunningJob
	for _, stage := range response.Stages.Stage {
		for _, result := range stage.Results.Result {
			jobs = append(jobs, driven.RunningJob{
				Name:   result.Plan.ShortName,
				JobRef: result.BuildResultKey,
			})
		}
	}

	return jobs, nil
}

// StopPlan stops a whole plan run. Unknown and already-stopped runs are not
// errors.
func (c *Client) StopPlan(ctx context.Context, backendRef string) error {
	return c.stop(ctx, backendRef)
}

// StopJob stops a single job inside a plan run. Best-effort.
func (c *Client) StopJob(ctx context.Context, jobRef string) error {
	return c.stop(ctx, jobRef)
}

func (c *Client) stop(ctx context.Context, resultKey string) error {
	query := url.Values{}
	query.Set("planResultKey", resultKey)

	err := c.do(ctx, http.MethodPost, stopPath, query, nil)
	if err != nil && isNotFound(err) {
		c.logger.Debug("stop target already gone", "result_key", resultKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stopping %s: %w", resultKey, err)
	}

	return nil
}

// Restart re-runs the failed jobs of an existing plan run.
func (c *Client) Restart(ctx context.Context, backendRef string) error {
	if err := c.do(ctx, http.MethodPut, queuePath+backendRef, nil, nil); err != nil {
		return fmt.Errorf("restarting %s: %w", backendRef, err)
	}
	return nil
}

// FetchPlanResult returns the current aggregated result of a plan run.
func (c *Client) FetchPlanResult(ctx context.Context, backendRef string) (*driven.PlanResult, error) {
	response, err := c.fetchPlan(ctx, backendRef)
	if err != nil {
		return nil, err
	}

	result := &driven.PlanResult{
		State:    mapState(response.State, response.LifeCycleState),
		Finished: response.LifeCycleState == "Finished",
	}
	for _, stage := range response.Stages.Stage {
		for _, job := range stage.Results.Result {
			result.Jobs = append(result.Jobs, driven.JobResult{
				JobRef:        job.BuildResultKey,
				State:         mapState(job.State, job.LifeCycleState),
				ExecutionTime: job.BuildDurationInSeconds,
			})
		}
	}

	return result, nil
}

// FetchJobResult returns the detailed result of one job, including artifact
// links and failed test cases.
func (c *Client) FetchJobResult(ctx context.Context, jobRef string) (*driven.JobResult, error) {
	query := url.Values{}
	query.Set("expand", jobExpand)

	var response jobResultResponse
	if err := c.do(ctx, http.MethodGet, resultPath+jobRef, query, &response); err != nil {
		return nil, fmt.Errorf("fetching job result %s: %w", jobRef, err)
	}

	result := &driven.JobResult{
		JobRef:        jobRef,
		State:         mapState(response.State, response.LifeCycleState),
		ExecutionTime: response.BuildDurationInSeconds,
	}
	for _, artifact := range response.Artifacts.Artifact {
		result.Artifacts = append(result.Artifacts, driven.Artifact{
			Name: artifact.Name,
			Href: artifact.Link.Href,
		})
	}
	for _, test := range response.TestResults.FailedTests.TestResult {
		message := ""
		if len(test.Errors.Error) > 0 {
			message = test.Errors.Error[0].Message
		}
		result.Failures = append(result.Failures, driven.TestCaseFailure{
			TestSuite:     test.ClassName,
			TestCase:      test.MethodName,
			Message:       message,
			ExecutionTime: test.DurationInSeconds,
		})
	}

	return result, nil
}

// FetchLog downloads a log artifact by its href.
func (c *Client) FetchLog(ctx context.Context, href string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return "", fmt.Errorf("building log request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching log %s: %w", href, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching log %s: unexpected status %d", href, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading log %s: %w", href, err)
	}

	return string(body), nil
}

type planResultResponse struct {
	State          string `json:"state"`
	LifeCycleState string `json:"lifeCycleState"`
	Stages         struct {
		Stage []struct {
			Name    string `json:"name"`
			Results struct {
				Result []struct {
					BuildResultKey         string `json:"buildResultKey"`
					State                  string `json:"state"`
					LifeCycleState         string `json:"lifeCycleState"`
					BuildDurationInSeconds int    `json:"buildDurationInSeconds"`
					Plan                   struct {
						ShortName string `json:"shortName"`
					} `json:"plan"`
				} `json:"result"`
			} `json:"results"`
		} `json:"stage"`
	} `json:"stages"`
}

type jobResultResponse struct {
	State                  string `json:"state"`
	LifeCycleState         string `json:"lifeCycleState"`
	BuildDurationInSeconds int    `json:"buildDurationInSeconds"`
	Artifacts              struct {
		Artifact []struct {
			Name string `json:"name"`
			Link struct {
				Href string `json:"href"`
			} `json:"link"`
		} `json:"artifact"`
	} `json:"artifacts"`
	TestResults struct {
		FailedTests struct {
			TestResult []struct {
				ClassName         string `json:"className"`
				MethodName        string `json:"methodName"`
				DurationInSeconds int    `json:"durationInSeconds"`
				Errors            struct {
					Error []struct {
						Message string `json:"message"`
					} `json:"error"`
				} `json:"errors"`
			} `json:"testResult"`
		} `json:"failedTests"`
	} `json:"testResults"`
}

func (c *Client) fetchPlan(ctx context.Context, backendRef string) (*planResultResponse, error) {
	query := url.Values{}
	query.Set("expand", resultExpand)

	var response planResultResponse
	if err := c.do(ctx, http.MethodGet, resultPath+backendRef, query, &response); err != nil {
		return nil, fmt.Errorf("fetching plan result %s: %w", backendRef, err)
	}

	return &response, nil
}

// statusError carries the HTTP status of a failed call so stop operations can
// tolerate missing targets.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.status)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %w", method, path, &statusError{status: resp.StatusCode})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}

	return nil
}

// mapState converts the server's state/lifeCycleState pair to a Status.
func mapState(state, lifecycle string) model.Status {
	switch lifecycle {
	case "Queued", "Pending":
		return model.StatusQueued
	case "InProgress":
		return model.StatusInProgress
	case "NotBuilt":
		return model.StatusSkipped
	}

	switch state {
	case "Successful":
		return model.StatusSuccess
	case "Failed":
		return model.StatusFailure
	default:
		return model.StatusQueued
	}
}
