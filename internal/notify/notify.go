// Package notify fans analysis results out to the configured channels.
// Targets are independent: one failing delivery never blocks another.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"

	"buildwatch/internal/domain"
)

// Transport sends one message to one target on a single platform.
type Transport interface {
	Send(ctx context.Context, target domain.NotificationTarget, text string) error
}

// DeliveryReport summarizes one fan-out.
type DeliveryReport struct {
	Delivered int
	Failed    int
	Err       error
}

type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	// SendTimeout bounds every single Send attempt so a stalled
	// connection can never pin a worker past shutdown.
	SendTimeout time.Duration
}

type Router struct {
	transports map[domain.Platform]Transport
	targets    []domain.NotificationTarget

	// summaryTarget, when set, receives a condensed variant in addition
	// to the primary fan-out.
	summaryTarget *domain.NotificationTarget

	opts     Options
	failures atomic.Int64
}

func NewRouter(transports map[domain.Platform]Transport, targets []domain.NotificationTarget, summaryTarget *domain.NotificationTarget, opts Options) *Router {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Router{
		transports:    transports,
		targets:       targets,
		summaryTarget: summaryTarget,
		opts:          opts,
	}
}

// DeliverResult sends the full diagnosis to every target, plus the
// condensed variant to the summary target when one is configured.
func (r *Router) DeliverResult(ctx context.Context, ev domain.BuildEvent, res domain.AnalysisResult) DeliveryReport {
	return r.fanOut(ctx, FormatResult(ev, res), FormatSummary(ev, res))
}

// DeliverDegraded sends the fallback message used when analysis failed:
// no diagnosis, just the failure notice and the raw log link.
func (r *Router) DeliverDegraded(ctx context.Context, ev domain.BuildEvent, analysisErr error) DeliveryReport {
	text := FormatDegraded(ev, analysisErr)
	return r.fanOut(ctx, text, text)
}

// FailureCount reports deliveries that exhausted their retries since
// startup.
func (r *Router) FailureCount() int64 {
	return r.failures.Load()
}

func (r *Router) fanOut(ctx context.Context, text, summaryText string) DeliveryReport {
	type delivery struct {
		target domain.NotificationTarget
		text   string
	}
	deliveries := make([]delivery, 0, len(r.targets)+1)
	for _, t := range r.targets {
		deliveries = append(deliveries, delivery{target: t, text: text})
	}
	if r.summaryTarget != nil {
		deliveries = append(deliveries, delivery{target: *r.summaryTarget, text: summaryText})
	}

	var mu sync.Mutex
	var errs *multierror.Error
	delivered := 0

	var wg sync.WaitGroup
	for _, d := range deliveries {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()
			err := r.sendWithRetry(ctx, d.target, d.text)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, err)
				r.failures.Add(1)
				log.Printf("notify delivery failed platform=%s channel=%s failures_total=%d err=%v", d.target.Platform, d.target.Channel, r.failures.Load(), err)
				return
			}
			delivered++
		}(d)
	}
	wg.Wait()

	report := DeliveryReport{Delivered: delivered, Failed: len(deliveries) - delivered}
	if errs != nil {
		report.Err = errs.ErrorOrNil()
	}
	return report
}

func (r *Router) sendWithRetry(ctx context.Context, target domain.NotificationTarget, text string) error {
	transport, ok := r.transports[target.Platform]
	if !ok {
		// Config validation rejects targets without a transport.
		return backoff.Permanent(fmt.Errorf("no transport configured for platform %s", target.Platform))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
		defer cancel()
		return transport.Send(attemptCtx, target, text)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1)), ctx))
}
