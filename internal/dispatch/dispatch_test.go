package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"buildwatch/internal/domain"
)

type fakeLogFetcher struct {
	log      []byte
	err      error
	failures int32 // fail this many calls before succeeding
	calls    atomic.Int32
}

func (f *fakeLogFetcher) GetBuildLog(ctx context.Context, job string, number int64) ([]byte, error) {
	call := f.calls.Add(1)
	if f.err != nil && (f.failures == 0 || call <= f.failures) {
		return nil, f.err
	}
	return f.log, nil
}

type fakeAnalyzer struct {
	result   domain.AnalysisResult
	err      error
	failures int32
	calls    atomic.Int32
	lastReq  domain.AnalysisRequest
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	f.lastReq = req
	call := f.calls.Add(1)
	if f.err != nil && (f.failures == 0 || call <= f.failures) {
		return domain.AnalysisResult{}, f.err
	}
	return f.result, nil
}

func testOptions() Options {
	return Options{
		JenkinsTimeout:  time.Second,
		AnalysisTimeout: time.Second,
		MaxAttempts:     3,
		InitialBackoff:  time.Millisecond,
		LogTailKB:       64,
		LogHeadLines:    50,
	}
}

func testEvent() domain.BuildEvent {
	return domain.BuildEvent{Job: "build-A", Number: 42, Result: domain.ResultFailure}
}

func TestDispatchSuccess(t *testing.T) {
	fetcher := &fakeLogFetcher{log: []byte("compile error on line 3\n")}
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{RootCause: "compile error", Summary: "compile error"}}
	d := New(fetcher, analyzer, testOptions())

	res, err := d.Dispatch(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if res.RootCause != "compile error" {
		t.Fatalf("unexpected root cause: %q", res.RootCause)
	}
	if analyzer.lastReq.Job != "build-A" || analyzer.lastReq.Number != 42 {
		t.Fatalf("unexpected request identity: %s #%d", analyzer.lastReq.Job, analyzer.lastReq.Number)
	}
	if analyzer.lastReq.Log != "compile error on line 3\n" {
		t.Fatalf("unexpected request log: %q", analyzer.lastReq.Log)
	}
}

func TestDispatchCopiesFeatureFlags(t *testing.T) {
	opts := testOptions()
	opts.DetailedAnalysis = true
	opts.SecurityScan = true
	fetcher := &fakeLogFetcher{log: []byte("boom\n")}
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{RootCause: "boom"}}
	d := New(fetcher, analyzer, opts)

	if _, err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if !analyzer.lastReq.DetailedAnalysis || !analyzer.lastReq.SecurityScan || analyzer.lastReq.PerformanceMetrics {
		t.Fatalf("flags not copied from options: %+v", analyzer.lastReq)
	}
}

func TestDispatchRetriesTransientFetchFailures(t *testing.T) {
	fetcher := &fakeLogFetcher{
		log:      []byte("ok\n"),
		err:      &domain.TransientIOError{Op: "get log", Err: errors.New("connection reset")},
		failures: 2,
	}
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{RootCause: "ok"}}
	d := New(fetcher, analyzer, testOptions())

	if _, err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("Dispatch should recover within retry budget: %v", err)
	}
	if got := fetcher.calls.Load(); got != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", got)
	}
}

func TestDispatchExhaustedAnalysisIsAnalysisFailed(t *testing.T) {
	fetcher := &fakeLogFetcher{log: []byte("boom\n")}
	analyzer := &fakeAnalyzer{err: errors.New("deadline exceeded")}
	d := New(fetcher, analyzer, testOptions())

	_, err := d.Dispatch(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected an error after exhausted retries")
	}
	var af *domain.AnalysisFailedError
	if !errors.As(err, &af) {
		t.Fatalf("expected AnalysisFailedError, got %T: %v", err, err)
	}
	if af.Job != "build-A" || af.Number != 42 {
		t.Fatalf("error carries wrong identity: %s #%d", af.Job, af.Number)
	}
	if got := analyzer.calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 analysis attempts, got %d", got)
	}
}

func TestDispatchFetchFailureIsAnalysisFailed(t *testing.T) {
	fetcher := &fakeLogFetcher{err: &domain.TransientIOError{Op: "get log", Err: errors.New("gone")}}
	analyzer := &fakeAnalyzer{}
	d := New(fetcher, analyzer, testOptions())

	_, err := d.Dispatch(context.Background(), testEvent())
	var af *domain.AnalysisFailedError
	if !errors.As(err, &af) {
		t.Fatalf("expected AnalysisFailedError, got %T: %v", err, err)
	}
	if analyzer.calls.Load() != 0 {
		t.Fatal("analyzer should never run when the log is unavailable")
	}
}
