// Package dispatch fetches build logs, truncates them, and drives the
// reasoning collaborator with timeouts and bounded retries.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"buildwatch/internal/domain"
)

// LogFetcher is the slice of the Jenkins collaborator the dispatcher needs.
type LogFetcher interface {
	GetBuildLog(ctx context.Context, job string, number int64) ([]byte, error)
}

// Analyzer is the reasoning collaborator, treated as a black box.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error)
}

type Options struct {
	JenkinsTimeout     time.Duration
	AnalysisTimeout    time.Duration
	MaxAttempts        int
	InitialBackoff     time.Duration
	LogTailKB          int
	LogHeadLines       int
	DetailedAnalysis   bool
	SecurityScan       bool
	PerformanceMetrics bool
}

type Dispatcher struct {
	logs     LogFetcher
	analyzer Analyzer
	opts     Options
}

func New(logs LogFetcher, analyzer Analyzer, opts Options) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Dispatcher{logs: logs, analyzer: analyzer, opts: opts}
}

// Dispatch runs the full log-fetch → truncate → analyze sequence for one
// admitted event. Any exhausted failure comes back as AnalysisFailedError
// so the caller can route a degraded notification; nothing is dropped
// silently.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.BuildEvent) (domain.AnalysisResult, error) {
	rawLog, err := d.fetchLog(ctx, ev)
	if err != nil {
		return domain.AnalysisResult{}, &domain.AnalysisFailedError{Job: ev.Job, Number: ev.Number, Err: err}
	}

	truncated := Truncate(rawLog, d.opts.LogHeadLines, d.opts.LogTailKB*1024)
	if len(truncated) < len(rawLog) {
		log.Printf("dispatch truncated log job=%s build=%d from=%d to=%d", ev.Job, ev.Number, len(rawLog), len(truncated))
	}

	// Feature flags are copied from configuration at request time; the
	// request is owned here until handed to the analyzer and never
	// retained afterwards.
	req := domain.AnalysisRequest{
		Job:                ev.Job,
		Number:             ev.Number,
		Log:                string(truncated),
		DetailedAnalysis:   d.opts.DetailedAnalysis,
		SecurityScan:       d.opts.SecurityScan,
		PerformanceMetrics: d.opts.PerformanceMetrics,
	}

	result, err := d.analyze(ctx, req)
	if err != nil {
		return domain.AnalysisResult{}, &domain.AnalysisFailedError{Job: ev.Job, Number: ev.Number, Err: err}
	}
	return result, nil
}

func (d *Dispatcher) fetchLog(ctx context.Context, ev domain.BuildEvent) ([]byte, error) {
	var rawLog []byte
	operation := func() error {
		fetchCtx, cancel := context.WithTimeout(ctx, d.opts.JenkinsTimeout)
		defer cancel()

		b, err := d.logs.GetBuildLog(fetchCtx, ev.Job, ev.Number)
		if err != nil {
			log.Printf("dispatch log fetch error job=%s build=%d err=%v", ev.Job, ev.Number, err)
			return err
		}
		rawLog = b
		return nil
	}
	if err := backoff.Retry(operation, d.newBackOff(ctx)); err != nil {
		return nil, fmt.Errorf("fetching build log: %w", err)
	}
	return rawLog, nil
}

func (d *Dispatcher) analyze(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	var result domain.AnalysisResult
	operation := func() error {
		analysisCtx, cancel := context.WithTimeout(ctx, d.opts.AnalysisTimeout)
		defer cancel()

		r, err := d.analyzer.Analyze(analysisCtx, req)
		if err != nil {
			log.Printf("dispatch analysis error job=%s build=%d err=%v", req.Job, req.Number, err)
			return err
		}
		result = r
		return nil
	}
	if err := backoff.Retry(operation, d.newBackOff(ctx)); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis exhausted %d attempts: %w", d.opts.MaxAttempts, err)
	}
	return result, nil
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.InitialBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.opts.MaxAttempts-1)), ctx)
}
