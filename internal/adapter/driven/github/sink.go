// Package github implements the StatusSink port using the go-github library.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/checkbridge/checkbridge/internal/domain/model"
	"github.com/checkbridge/checkbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.StatusSink = (*Sink)(nil)

// Sink implements the driven.StatusSink port against the GitHub checks API.
type Sink struct {
	gh *gh.Client
}

// NewSink creates a Sink with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewSink(token string) *Sink {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Sink{gh: client}
}

// NewSinkWithHTTPClient creates a Sink with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest
// server.
func NewSinkWithHTTPClient(httpClient *http.Client, baseURL string) (*Sink, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Sink{gh: client}, nil
}

// CreateCheckRun registers a new queued check run against the head commit and
// returns its id.
func (s *Sink) CreateCheckRun(ctx context.Context, repository, headSHA, name string) (int64, error) {
	owner, repo, err := splitRepo(repository)
	if err != nil {
		return 0, err
	}

	run, _, err := s.gh.Checks.CreateCheckRun(ctx, owner, repo, gh.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: headSHA,
		Status:  gh.Ptr("queued"),
	})
	if err != nil {
		return 0, fmt.Errorf("creating check run %q on %s@%s: %w", name, repository, headSHA, err)
	}

	return run.GetID(), nil
}

// UpdateCheckRun moves a check run to queued or in_progress. The GitHub API
// requires the check name on update, so the current state is fetched first.
func (s *Sink) UpdateCheckRun(ctx context.Context, repository string, checkRef int64, status model.Status, output *driven.CheckOutput) error {
	owner, repo, err := splitRepo(repository)
	if err != nil {
		return err
	}

	current, _, err := s.gh.Checks.GetCheckRun(ctx, owner, repo, checkRef)
	if err != nil {
		return fmt.Errorf("fetching check run %d on %s: %w", checkRef, repository, err)
	}

	opts := gh.UpdateCheckRunOptions{
		Name:   current.GetName(),
		Status: gh.Ptr(string(status)),
		Output: mapOutput(current.GetName(), output),
	}
	if _, _, err := s.gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRef, opts); err != nil {
		return fmt.Errorf("updating check run %d on %s: %w", checkRef, repository, err)
	}

	return nil
}

// CompleteCheckRun finishes a check run with a terminal conclusion.
func (s *Sink) CompleteCheckRun(ctx context.Context, repository string, checkRef int64, conclusion model.Status, output *driven.CheckOutput) error {
	owner, repo, err := splitRepo(repository)
	if err != nil {
		return err
	}

	current, _, err := s.gh.Checks.GetCheckRun(ctx, owner, repo, checkRef)
	if err != nil {
		return fmt.Errorf("fetching check run %d on %s: %w", checkRef, repository, err)
	}

	opts := gh.UpdateCheckRunOptions{
		Name:        current.GetName(),
		Status:      gh.Ptr("completed"),
		Conclusion:  gh.Ptr(conclusionFor(conclusion)),
		CompletedAt: &gh.Timestamp{Time: time.Now()},
		Output:      mapOutput(current.GetName(), output),
	}
	if _, _, err := s.gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRef, opts); err != nil {
		return fmt.Errorf("completing check run %d on %s: %w", checkRef, repository, err)
	}

	return nil
}

// GetCheckRun returns the current state of a check run.
func (s *Sink) GetCheckRun(ctx context.Context, repository string, checkRef int64) (*driven.CheckRunState, error) {
	owner, repo, err := splitRepo(repository)
	if err != nil {
		return nil, err
	}

	run, _, err := s.gh.Checks.GetCheckRun(ctx, owner, repo, checkRef)
	if err != nil {
		return nil, fmt.Errorf("fetching check run %d on %s: %w", checkRef, repository, err)
	}

	return &driven.CheckRunState{
		Name:       run.GetName(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
	}, nil
}

// CreateComment posts a PR-level comment.
func (s *Sink) CreateComment(ctx context.Context, repository string, prNumber int, body string) error {
	owner, repo, err := splitRepo(repository)
	if err != nil {
		return err
	}

	comment := &gh.IssueComment{Body: gh.Ptr(body)}
	if _, _, err := s.gh.Issues.CreateComment(ctx, owner, repo, prNumber, comment); err != nil {
		return fmt.Errorf("commenting on %s#%d: %w", repository, prNumber, err)
	}

	return nil
}

// mapOutput converts a port-level output to the wire type, enforcing the
// summary length limit GitHub imposes.
func mapOutput(name string, output *driven.CheckOutput) *gh.CheckRunOutput {
	if output == nil {
		return nil
	}

	title := output.Title
	if title == "" {
		title = name
	}
	summary := output.Summary
	if len(summary) > driven.MaxSummaryLength {
		// Back off to a rune boundary so the cut never splits a multi-byte
		// character.
		cut := driven.MaxSummaryLength
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}

	return &gh.CheckRunOutput{
		Title:   gh.Ptr(title),
		Summary: gh.Ptr(summary),
	}
}

// conclusionFor maps a terminal status to a check-run conclusion.
func conclusionFor(status model.Status) string {
	switch status {
	case model.StatusSuccess:
		return "success"
	case model.StatusFailure:
		return "failure"
	case model.StatusCancelled:
		return "cancelled"
	case model.StatusSkipped:
		return "skipped"
	default:
		return "neutral"
	}
}

func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
