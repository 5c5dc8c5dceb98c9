// Package jenkins wraps gojenkins behind the small collaborator surface
// the ingestor and dispatcher consume.
package jenkins

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/koderover/gojenkins"

	"buildwatch/internal/domain"
)

type Client struct {
	jenkins *gojenkins.Jenkins
}

// NewClient connects to Jenkins with URL + username + API token. The
// credentials are held by the underlying client and never logged.
func NewClient(ctx context.Context, url, username, apiToken string, timeout time.Duration) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}
	j, err := gojenkins.CreateJenkins(httpClient, url, username, apiToken).Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to jenkins at %s: %w", url, err)
	}
	return &Client{jenkins: j}, nil
}

// ListJobNames returns every job known to the Jenkins controller. Used
// when no explicit job list is configured.
func (c *Client) ListJobNames(ctx context.Context) ([]string, error) {
	innerJobs, err := c.jenkins.GetAllJobNames(ctx)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "list jenkins jobs", Err: err}
	}
	names := make([]string, 0, len(innerJobs))
	for _, innerJob := range innerJobs {
		names = append(names, innerJob.Name)
	}
	return names, nil
}

// ListRecentBuilds returns completed builds with numbers above since, in
// ascending build-number order. Enumeration stops at the first build that
// is still running so no completed build is ever skipped.
func (c *Client) ListRecentBuilds(ctx context.Context, jobName string, since int64) ([]domain.BuildSummary, error) {
	job, err := c.jenkins.GetJob(ctx, jobName)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "get jenkins job " + jobName, Err: err}
	}

	ids, err := job.GetAllBuildIds(ctx)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "list builds for " + jobName, Err: err}
	}

	var numbers []int64
	for _, id := range ids {
		if id.Number > since {
			numbers = append(numbers, id.Number)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	var summaries []domain.BuildSummary
	for _, number := range numbers {
		build, err := job.GetBuild(ctx, number)
		if err != nil {
			return nil, &domain.TransientIOError{Op: fmt.Sprintf("get build %s #%d", jobName, number), Err: err}
		}
		if build.IsRunning(ctx) {
			// Builds above a running one would finish out of order.
			break
		}
		summaries = append(summaries, domain.BuildSummary{
			Number:    number,
			Result:    domain.NormalizeResult(build.GetResult()),
			Branch:    normalizeBranch(build.GetRevisionBranch()),
			Timestamp: build.GetTimestamp(),
			URL:       build.GetUrl(),
		})
	}
	return summaries, nil
}

// normalizeBranch strips the remote prefix Jenkins puts on SCM branch
// names ("origin/main" or "refs/remotes/origin/main") so both ingestion
// modes report the bare branch the filter is configured with. Builds
// without SCM data keep an empty branch.
func normalizeBranch(raw string) string {
	raw = strings.TrimPrefix(raw, "refs/remotes/")
	raw = strings.TrimPrefix(raw, "origin/")
	return raw
}

// GetBuildLog fetches the console output for one build.
func (c *Client) GetBuildLog(ctx context.Context, jobName string, number int64) ([]byte, error) {
	job, err := c.jenkins.GetJob(ctx, jobName)
	if err != nil {
		return nil, &domain.TransientIOError{Op: "get jenkins job " + jobName, Err: err}
	}
	build, err := job.GetBuild(ctx, number)
	if err != nil {
		return nil, &domain.TransientIOError{Op: fmt.Sprintf("get build %s #%d", jobName, number), Err: err}
	}
	return []byte(build.GetConsoleOutput(ctx)), nil
}
