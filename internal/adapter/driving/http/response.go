package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/checkbridge/checkbridge/internal/application"
	"github.com/checkbridge/checkbridge/internal/domain/model"
)

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ResultResponse reports the outcome of a webhook delivery.
type ResultResponse struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// PRResponse is the API representation of a tracked pull request.
type PRResponse struct {
	ID         int64  `json:"id"`
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	Author     string `json:"author"`
	BranchName string `json:"branch_name"`
	Plan       string `json:"plan"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// SuiteResponse is the API representation of one CI run, with its stages and
// jobs nested.
type SuiteResponse struct {
	ID                  int64           `json:"id"`
	CommitSHA           string          `json:"commit_sha"`
	BaseSHA             string          `json:"base_sha"`
	WorkBranch          string          `json:"work_branch"`
	MergeBranch         string          `json:"merge_branch"`
	BackendRef          string          `json:"backend_ref,omitempty"`
	Retry               int             `json:"retry"`
	CancelledPreviousID int64           `json:"cancelled_previous_id,omitempty"`
	StoppedInStageID    int64           `json:"stopped_in_stage_id,omitempty"`
	CreatedAt           string          `json:"created_at"`
	Stages              []StageResponse `json:"stages"`
	Jobs                []JobResponse   `json:"jobs"`
}

// StageResponse is the API representation of a stage.
type StageResponse struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	CheckRef      int64  `json:"check_ref,omitempty"`
	ExecutionTime int    `json:"execution_time"`
}

// JobResponse is the API representation of a job.
type JobResponse struct {
	ID            int64  `json:"id"`
	StageID       int64  `json:"stage_id,omitempty"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	JobRef        string `json:"job_ref,omitempty"`
	CheckRef      int64  `json:"check_ref,omitempty"`
	Retry         int    `json:"retry"`
	ExecutionTime int    `json:"execution_time"`
	Summary       string `json:"summary,omitempty"`
}

// RetryReportResponse is one entry of the retry audit report.
type RetryReportResponse struct {
	ID           int64   `json:"id"`
	CheckSuiteID int64   `json:"check_suite_id"`
	Username     string  `json:"username"`
	UserType     string  `json:"user_type"`
	RetryKind    string  `json:"retry_kind"`
	JobIDs       []int64 `json:"job_ids"`
	CreatedAt    string  `json:"created_at"`
}

func toPRResponse(pr model.PullRequest) PRResponse {
	return PRResponse{
		ID:         pr.ID,
		Repository: pr.Repository,
		Number:     pr.Number,
		Author:     pr.Author,
		BranchName: pr.BranchName,
		Plan:       pr.Plan,
		CreatedAt:  pr.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  pr.UpdatedAt.Format(time.RFC3339),
	}
}

func toSuiteResponse(suite model.CheckSuite, stages []model.Stage, jobs []model.Job) SuiteResponse {
	resp := SuiteResponse{
		ID:                  suite.ID,
		CommitSHA:           suite.CommitSHA,
		BaseSHA:             suite.BaseSHA,
		WorkBranch:          suite.WorkBranch,
		MergeBranch:         suite.MergeBranch,
		BackendRef:          suite.BackendRef,
		Retry:               suite.Retry,
		CancelledPreviousID: suite.CancelledPreviousID,
		StoppedInStageID:    suite.StoppedInStageID,
		CreatedAt:           suite.CreatedAt.Format(time.RFC3339),
		Stages:              make([]StageResponse, 0, len(stages)),
		Jobs:                make([]JobResponse, 0, len(jobs)),
	}
	for _, stage := range stages {
		resp.Stages = append(resp.Stages, StageResponse{
			ID:            stage.ID,
			Name:          stage.Name,
			Status:        string(stage.Status),
			CheckRef:      stage.CheckRef,
			ExecutionTime: stage.ExecutionTime,
		})
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, JobResponse{
			ID:            job.ID,
			StageID:       job.StageID,
			Name:          job.Name,
			Status:        string(job.Status),
			JobRef:        job.JobRef,
			CheckRef:      job.CheckRef,
			Retry:         job.Retry,
			ExecutionTime: job.ExecutionTime,
			Summary:       job.Summary,
		})
	}

	return resp
}

func toRetryReportResponse(entry model.AuditRetry) RetryReportResponse {
	return RetryReportResponse{
		ID:           entry.ID,
		CheckSuiteID: entry.CheckSuiteID,
		Username:     entry.Username,
		UserType:     entry.UserType,
		RetryKind:    string(entry.RetryKind),
		JobIDs:       entry.JobIDs,
		CreatedAt:    entry.CreatedAt.Format(time.RFC3339),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serializes v to the response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeResult reports an application result as the HTTP status it names.
func writeResult(w http.ResponseWriter, res application.Result) {
	writeJSON(w, res.Code, ResultResponse{Code: res.Code, Reason: res.Reason})
}
