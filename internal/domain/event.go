package domain

import "time"

// Result is the outcome Jenkins reports for a completed build. An empty
// value means the result is unknown (still running, or missing from the
// payload).
type Result string

const (
	ResultSuccess  Result = "SUCCESS"
	ResultFailure  Result = "FAILURE"
	ResultUnstable Result = "UNSTABLE"
	ResultAborted  Result = "ABORTED"
	ResultUnknown  Result = ""
)

// NormalizeResult maps a raw Jenkins result string onto the known set.
// Anything unrecognized becomes ResultUnknown rather than an error.
func NormalizeResult(raw string) Result {
	switch Result(raw) {
	case ResultSuccess, ResultFailure, ResultUnstable, ResultAborted:
		return Result(raw)
	default:
		return ResultUnknown
	}
}

// BuildEvent is one normalized Jenkins build completion. Instances are
// created by the ingestors and never mutated afterwards.
type BuildEvent struct {
	Job       string
	Number    int64
	Result    Result
	Branch    string
	Timestamp time.Time
	URL       string
}

// DedupKey identifies a build for deduplication purposes.
type DedupKey struct {
	Job    string
	Number int64
}

func (e BuildEvent) Key() DedupKey {
	return DedupKey{Job: e.Job, Number: e.Number}
}

// BuildSummary is what the Jenkins collaborator returns when listing
// completed builds for a job.
type BuildSummary struct {
	Number    int64
	Result    Result
	Branch    string
	Timestamp time.Time
	URL       string
}

// AnalysisRequest carries everything the reasoning collaborator needs for
// one build. Feature flags are copied from configuration at request time.
type AnalysisRequest struct {
	Job                string
	Number             int64
	Log                string
	DetailedAnalysis   bool
	SecurityScan       bool
	PerformanceMetrics bool
}

// AnalysisResult is the reasoning collaborator's diagnosis.
type AnalysisResult struct {
	RootCause  string
	FixSteps   []string
	Prevention string
	Summary    string
}

// Platform names a notification transport.
type Platform string

const (
	PlatformSlack Platform = "slack"
	PlatformTeams Platform = "teams"
)

// NotificationTarget is one destination channel, configured at startup
// and read-only afterwards.
type NotificationTarget struct {
	Platform Platform
	Channel  string
	Team     string
}
