package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"buildwatch/internal/domain"
)

// Jenkins is the collaborator slice poll mode consumes.
type Jenkins interface {
	ListJobNames(ctx context.Context) ([]string, error)
	ListRecentBuilds(ctx context.Context, job string, since int64) ([]domain.BuildSummary, error)
}

// Watermarks persists the last processed build number per job.
type Watermarks interface {
	Watermark(job string) (int64, error)
	SetWatermark(job string, build int64) error
}

type PollerOptions struct {
	// Jobs to poll; empty means discover every job on the controller.
	Jobs []string
	// Schedule is a 5-field cron expression. Empty falls back to
	// "@every <Interval>".
	Schedule string
	Interval time.Duration
	Timeout  time.Duration
	Debug    bool
}

type Poller struct {
	jenkins Jenkins
	marks   Watermarks
	sink    Sink
	opts    PollerOptions
	sched   cron.Schedule
}

// NewPoller parses the schedule up front so a bad cron expression fails at
// startup, not on the first tick.
func NewPoller(jenkins Jenkins, marks Watermarks, sink Sink, opts PollerOptions) (*Poller, error) {
	spec := strings.TrimSpace(opts.Schedule)
	if spec == "" {
		spec = fmt.Sprintf("@every %ds", int(opts.Interval/time.Second))
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid poll schedule '%s': %w", spec, err)
	}
	log.Printf("Poll scheduled (cron: %s) jobs=%d", spec, len(opts.Jobs))
	return &Poller{jenkins: jenkins, marks: marks, sink: sink, opts: opts, sched: sched}, nil
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		now := time.Now()
		next := p.sched.Next(now)
		wait := next.Sub(now)
		if p.opts.Debug {
			log.Printf("poll next at %s (in %s)", next.Format("15:04:05"), wait.Round(time.Second))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		p.PollOnce(ctx)
	}
}

// PollOnce queries every watched job for builds above its persisted
// high-water mark and emits them in ascending build-number order. The mark
// only advances after a successful hand-off, so a restart never re-emits a
// processed build and never skips one.
func (p *Poller) PollOnce(ctx context.Context) {
	jobs := p.opts.Jobs
	if len(jobs) == 0 {
		listCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		discovered, err := p.jenkins.ListJobNames(listCtx)
		cancel()
		if err != nil {
			log.Printf("poll job discovery error: %v", err)
			return
		}
		jobs = discovered
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		p.pollJob(ctx, job)
	}
}

func (p *Poller) pollJob(ctx context.Context, job string) {
	since, err := p.marks.Watermark(job)
	if err != nil {
		log.Printf("poll watermark read error job=%s err=%v", job, err)
		return
	}

	listCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	builds, err := p.jenkins.ListRecentBuilds(listCtx, job, since)
	cancel()
	if err != nil {
		log.Printf("poll error job=%s since=%d err=%v", job, since, err)
		return
	}
	if p.opts.Debug && len(builds) > 0 {
		log.Printf("poll job=%s since=%d new=%d", job, since, len(builds))
	}

	for _, b := range builds {
		ev := domain.BuildEvent{
			Job:       job,
			Number:    b.Number,
			Result:    b.Result,
			Branch:    b.Branch,
			Timestamp: b.Timestamp,
			URL:       b.URL,
		}
		if !p.sink.Enqueue(ev) {
			// Pipeline is shutting down; leave the mark so the build
			// is re-read on the next start.
			return
		}
		if err := p.marks.SetWatermark(job, b.Number); err != nil {
			log.Printf("poll watermark write error job=%s build=%d err=%v", job, b.Number, err)
			return
		}
	}
}
