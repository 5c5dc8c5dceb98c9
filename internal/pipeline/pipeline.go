// Package pipeline runs the Filter→Dedup→Dispatch→Notify sequence for
// each ingested event on a pool of workers.
package pipeline

import (
	"context"
	"log"
	"sync"

	"buildwatch/internal/dedup"
	"buildwatch/internal/dispatch"
	"buildwatch/internal/domain"
	"buildwatch/internal/filter"
	"buildwatch/internal/notify"
)

const queueCapacity = 256

type Pipeline struct {
	queue      chan domain.BuildEvent
	rule       filter.Rule
	dedup      *dedup.Store
	dispatcher *dispatch.Dispatcher
	router     *notify.Router
	workers    int
	debug      bool

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(rule filter.Rule, store *dedup.Store, dispatcher *dispatch.Dispatcher, router *notify.Router, workers int, debug bool) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		queue:      make(chan domain.BuildEvent, queueCapacity),
		rule:       rule,
		dedup:      store,
		dispatcher: dispatcher,
		router:     router,
		workers:    workers,
		debug:      debug,
	}
}

// Start launches the worker pool. Workers drain the queue even after
// Close, so pending events are flushed before Wait returns; per-event
// I/O is bounded by the timeouts the dispatcher and router carry.
func (p *Pipeline) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for ev := range p.queue {
				p.process(ev)
			}
		}()
	}
}

// Enqueue hands one event to the worker pool, preserving arrival order.
// It returns false once the pipeline has been closed.
func (p *Pipeline) Enqueue(ev domain.BuildEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.queue <- ev
	return true
}

// Close stops intake. Already-queued events still get processed.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Wait blocks until every worker has drained the queue.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// process contains one event's failures to that event: errors are reported
// through the router or the log, never propagated to other workers.
func (p *Pipeline) process(ev domain.BuildEvent) {
	if !filter.Evaluate(p.rule, ev) {
		if p.debug {
			log.Printf("pipeline filtered out job=%s build=%d result=%s branch=%s", ev.Job, ev.Number, ev.Result, ev.Branch)
		}
		return
	}

	if !p.dedup.Admit(ev.Key()) {
		log.Printf("pipeline duplicate suppressed job=%s build=%d", ev.Job, ev.Number)
		return
	}

	ctx := context.Background()
	result, err := p.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		log.Printf("pipeline analysis failed job=%s build=%d err=%v", ev.Job, ev.Number, err)
		report := p.router.DeliverDegraded(ctx, ev, err)
		logReport(ev, report, "degraded")
		return
	}

	report := p.router.DeliverResult(ctx, ev, result)
	logReport(ev, report, "result")
}

func logReport(ev domain.BuildEvent, report notify.DeliveryReport, kind string) {
	if report.Err != nil {
		log.Printf("pipeline %s delivery job=%s build=%d delivered=%d failed=%d err=%v", kind, ev.Job, ev.Number, report.Delivered, report.Failed, report.Err)
		return
	}
	log.Printf("pipeline %s delivered job=%s build=%d targets=%d", kind, ev.Job, ev.Number, report.Delivered)
}
