package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"buildwatch/internal/domain"
)

type fakeJenkins struct {
	jobs    []string
	builds  map[string][]domain.BuildSummary
	listErr error
}

func (f *fakeJenkins) ListJobNames(ctx context.Context) ([]string, error) {
	return f.jobs, nil
}

func (f *fakeJenkins) ListRecentBuilds(ctx context.Context, job string, since int64) ([]domain.BuildSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.BuildSummary
	for _, b := range f.builds[job] {
		if b.Number > since {
			out = append(out, b)
		}
	}
	return out, nil
}

type memMarks struct {
	marks map[string]int64
}

func newMemMarks() *memMarks { return &memMarks{marks: map[string]int64{}} }

func (m *memMarks) Watermark(job string) (int64, error) { return m.marks[job], nil }

func (m *memMarks) SetWatermark(job string, build int64) error {
	if build > m.marks[job] {
		m.marks[job] = build
	}
	return nil
}

func summaries(numbers ...int64) []domain.BuildSummary {
	var out []domain.BuildSummary
	for _, n := range numbers {
		out = append(out, domain.BuildSummary{
			Number:    n,
			Result:    domain.ResultFailure,
			Timestamp: time.Now(),
		})
	}
	return out
}

func newTestPoller(t *testing.T, jenkins *fakeJenkins, marks *memMarks, sink Sink, jobs []string) *Poller {
	t.Helper()
	p, err := NewPoller(jenkins, marks, sink, PollerOptions{
		Jobs:     jobs,
		Interval: time.Minute,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewPoller failed: %v", err)
	}
	return p
}

func TestPollEmitsNewBuildsAscending(t *testing.T) {
	jenkins := &fakeJenkins{builds: map[string][]domain.BuildSummary{
		"build-A": summaries(40, 41, 42),
	}}
	marks := newMemMarks()
	sink := &fakeSink{}
	p := newTestPoller(t, jenkins, marks, sink, []string{"build-A"})

	p.PollOnce(context.Background())

	if len(sink.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(sink.events))
	}
	for i, want := range []int64{40, 41, 42} {
		if sink.events[i].Number != want {
			t.Fatalf("event %d: expected build %d, got %d", i, want, sink.events[i].Number)
		}
	}
	if marks.marks["build-A"] != 42 {
		t.Fatalf("watermark should be 42, got %d", marks.marks["build-A"])
	}
}

func TestPollCarriesBranchIntoEvents(t *testing.T) {
	jenkins := &fakeJenkins{builds: map[string][]domain.BuildSummary{
		"build-A": {{Number: 42, Result: domain.ResultFailure, Branch: "main", Timestamp: time.Now()}},
	}}
	marks := newMemMarks()
	sink := &fakeSink{}
	p := newTestPoller(t, jenkins, marks, sink, []string{"build-A"})

	p.PollOnce(context.Background())

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	// A branch filter must see poll-mode events the same as webhook ones.
	if sink.events[0].Branch != "main" {
		t.Fatalf("event dropped the branch: %q", sink.events[0].Branch)
	}
}

func TestPollSkipsBuildsAtOrBelowWatermark(t *testing.T) {
	jenkins := &fakeJenkins{builds: map[string][]domain.BuildSummary{
		"build-A": summaries(40, 41, 42),
	}}
	marks := newMemMarks()
	marks.marks["build-A"] = 41
	sink := &fakeSink{}
	p := newTestPoller(t, jenkins, marks, sink, []string{"build-A"})

	p.PollOnce(context.Background())

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].Number != 42 {
		t.Fatalf("expected build 42, got %d", sink.events[0].Number)
	}
}

func TestPollIsIdempotentAcrossRuns(t *testing.T) {
	jenkins := &fakeJenkins{builds: map[string][]domain.BuildSummary{
		"build-A": summaries(40, 41),
	}}
	marks := newMemMarks()
	sink := &fakeSink{}
	p := newTestPoller(t, jenkins, marks, sink, []string{"build-A"})

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	if len(sink.events) != 2 {
		t.Fatalf("second poll must not re-emit processed builds, got %d events", len(sink.events))
	}
}

func TestPollLeavesWatermarkWhenEnqueueRefused(t *testing.T) {
	jenkins := &fakeJenkins{builds: map[string][]domain.BuildSummary{
		"build-A": summaries(40, 41),
	}}
	marks := newMemMarks()
	sink := &fakeSink{closed: true}
	p := newTestPoller(t, jenkins, marks, sink, []string{"build-A"})

	p.PollOnce(context.Background())

	if marks.marks["build-A"] != 0 {
		t.Fatalf("watermark must not advance past an unprocessed build, got %d", marks.marks["build-A"])
	}
}

func TestPollSurvivesJenkinsErrors(t *testing.T) {
	jenkins := &fakeJenkins{listErr: errors.New("connection refused")}
	marks := newMemMarks()
	sink := &fakeSink{}
	p := newTestPoller(t, jenkins, marks, sink, []string{"build-A"})

	p.PollOnce(context.Background())

	if len(sink.events) != 0 {
		t.Fatalf("expected no events on poll error, got %d", len(sink.events))
	}
	if marks.marks["build-A"] != 0 {
		t.Fatal("watermark must not move on poll error")
	}
}

func TestPollDiscoversJobsWhenNoneConfigured(t *testing.T) {
	jenkins := &fakeJenkins{
		jobs: []string{"build-A", "build-B"},
		builds: map[string][]domain.BuildSummary{
			"build-A": summaries(1),
			"build-B": summaries(7),
		},
	}
	marks := newMemMarks()
	sink := &fakeSink{}
	p := newTestPoller(t, jenkins, marks, sink, nil)

	p.PollOnce(context.Background())

	if len(sink.events) != 2 {
		t.Fatalf("expected events from both discovered jobs, got %d", len(sink.events))
	}
}

func TestNewPollerRejectsBadSchedule(t *testing.T) {
	_, err := NewPoller(&fakeJenkins{}, newMemMarks(), &fakeSink{}, PollerOptions{
		Schedule: "not a cron line",
		Interval: time.Minute,
	})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestNewPollerAcceptsFiveFieldCron(t *testing.T) {
	_, err := NewPoller(&fakeJenkins{}, newMemMarks(), &fakeSink{}, PollerOptions{
		Schedule: "*/5 * * * *",
		Interval: time.Minute,
	})
	if err != nil {
		t.Fatalf("five-field cron expression should parse: %v", err)
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	p := newTestPoller(t, &fakeJenkins{}, newMemMarks(), &fakeSink{}, []string{"build-A"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
