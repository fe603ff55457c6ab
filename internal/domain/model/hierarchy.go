package model

// Pure derived predicates over the run hierarchy. These take the current
// persisted jobs/stages as arguments and never touch storage themselves, so
// callers decide how fresh their view is.

// SuiteFinished reports whether every job in the suite reached a terminal
// status. An empty job list counts as finished.
func SuiteFinished(jobs []Job) bool {
	for _, j := range jobs {
		if !j.Status.Finished() {
			return false
		}
	}
	return true
}

// SuiteSuccess reports whether every job is terminal and none failed or was
// cancelled.
func SuiteSuccess(jobs []Job) bool {
	for _, j := range jobs {
		if !j.Status.Finished() {
			return false
		}
		if j.Status == StatusFailure || j.Status == StatusCancelled {
			return false
		}
	}
	return true
}

// StageJobs returns the jobs grouped under the given stage.
func StageJobs(jobs []Job, stageID int64) []Job {
	var out []Job
	for _, j := range jobs {
		if j.StageID == stageID {
			out = append(out, j)
		}
	}
	return out
}

// SkipCheckout returns jobs excluding the bootstrap checkout job.
func SkipCheckout(jobs []Job) []Job {
	var out []Job
	for _, j := range jobs {
		if !j.IsCheckout() {
			out = append(out, j)
		}
	}
	return out
}

// buildJobs returns the jobs belonging to build-classified stages.
func buildJobs(jobs []Job, stages []Stage) []Job {
	build := make(map[int64]bool, len(stages))
	for _, s := range stages {
		if s.IsBuild() {
			build[s.ID] = true
		}
	}

	var out []Job
	for _, j := range jobs {
		if build[j.StageID] {
			out = append(out, j)
		}
	}
	return out
}

// BuildStageFinished reports whether every job belonging to a build-classified
// stage is terminal. True when no build stage exists (vacuously finished).
func BuildStageFinished(jobs []Job, stages []Stage) bool {
	return SuiteFinished(buildJobs(jobs, stages))
}

// BuildStageSuccess reports whether all build-classified jobs succeeded.
func BuildStageSuccess(jobs []Job, stages []Stage) bool {
	return SuiteSuccess(buildJobs(jobs, stages))
}

// ActiveJobs returns jobs that are queued or in progress.
func ActiveJobs(jobs []Job) []Job {
	var out []Job
	for _, j := range jobs {
		if j.Status.Active() {
			out = append(out, j)
		}
	}
	return out
}
