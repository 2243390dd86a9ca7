package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"typing-assistant/src/pipeline"
)

// Runner executes one generation cycle.
type Runner interface {
	Run(ctx context.Context, t pipeline.Trigger) (pipeline.Outcome, error)
}

// ResultCallback is invoked on completion (from a worker goroutine).
// The event loop should pass a closure that posts back into the event loop safely.
type ResultCallback func(out pipeline.Outcome, err error)

// Pool is a fixed-size worker pool with a 1-slot input queue (strict back-pressure).
type Pool struct {
	runner Runner
	jobs   chan job
	wg     sync.WaitGroup
	log    *zap.SugaredLogger
}

type job struct {
	ctx     context.Context
	trigger pipeline.Trigger
	cb      ResultCallback
}

// New creates a worker pool. Size defaults to 1 when size<=0. Queue is 1 slot.
func New(runner Runner, size int, log *zap.SugaredLogger) *Pool {
	if size <= 0 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Pool{runner: runner, jobs: make(chan job, 1), log: log}
	p.start(size)
	return p
}

func (p *Pool) start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for j := range p.jobs {
				p.run(j)
			}
		}()
	}
}

func (p *Pool) run(j job) {
	p.log.Debugw("worker starting generation", "source", j.trigger.Source)
	out, err := p.runSafely(j)
	p.log.Debugw("worker finished generation", "run_id", out.RunID, "error", err)
	if j.cb != nil {
		j.cb(out, err)
	}
}

// runSafely turns a panicking run into an error so the callback still fires.
func (p *Pool) runSafely(j job) (out pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("panic in worker", "panic", r)
			err = fmt.Errorf("generation panicked: %v", r)
		}
	}()
	return p.runner.Run(j.ctx, j.trigger)
}

// Submit enqueues a job if the single-slot queue is free. Returns false if dropped.
func (p *Pool) Submit(ctx context.Context, t pipeline.Trigger, cb ResultCallback) bool {
	select {
	case p.jobs <- job{ctx: ctx, trigger: t, cb: cb}:
		return true
	default:
		return false
	}
}

// Close stops the pool after draining current work.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
