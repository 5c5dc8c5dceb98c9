package domain

import "fmt"

// MalformedEventError marks an inbound payload that cannot become a
// BuildEvent. The event is dropped and logged; it never crashes the process.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return "malformed build event: " + e.Reason
}

// TransientIOError wraps a network failure talking to Jenkins or a
// notification transport. Callers retry these with bounded backoff.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient I/O error during %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// AnalysisFailedError means the reasoning collaborator exhausted its
// retries or returned an explicit error. It is surfaced to the user as a
// degraded notification, never swallowed.
type AnalysisFailedError struct {
	Job    string
	Number int64
	Err    error
}

func (e *AnalysisFailedError) Error() string {
	return fmt.Sprintf("analysis failed for %s #%d: %v", e.Job, e.Number, e.Err)
}

func (e *AnalysisFailedError) Unwrap() error { return e.Err }
