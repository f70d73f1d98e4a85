package crawler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sjsage522/autoadworker/helpers"
	"sjsage522/autoadworker/logger"
)

// ErrStalled is returned when the machine is waiting on nothing and has not finished
var ErrStalled = errors.New("crawl stalled with no pending work")

// EngineConfig bounds how the engine talks to the upstream API
type EngineConfig struct {
	Concurrency       int
	RequestsPerSecond float64
}

type fetchResult struct {
	req     Request
	resp    *helpers.Response
	err     error
	dropped bool
}

// Engine drives a Machine: it runs fetches in parallel and feeds every
// outcome back to the machine from a single goroutine.
type Engine struct {
	machine *Machine
	fetcher helpers.Fetcher
	emitter Emitter
	limiter *rate.Limiter
	sem     chan struct{}
	paused  atomic.Bool
	log     *logger.Logger
}

// NewEngine creates an engine
func NewEngine(machine *Machine, fetcher helpers.Fetcher, emitter Emitter, cfg EngineConfig) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Engine{
		machine: machine,
		fetcher: fetcher,
		emitter: emitter,
		limiter: rate.NewLimiter(limit, cfg.Concurrency),
		sem:     make(chan struct{}, cfg.Concurrency),
		log:     logger.ForEngine(),
	}
}

// Run executes the crawl until every manufacturer is complete or ctx is done
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult)
	resumes := make(chan struct{})
	pending := 0

	apply := func(step Step) bool {
		for _, record := range step.Records {
			if err := e.emitter.EmitListing(runCtx, record); err != nil {
				e.machine.RecordPublishError()
				e.log.Error().Err(err).Str("source_ad_id", record.SourceAdID).Msg("Failed to emit listing")
			}
		}
		for _, set := range step.Completed {
			if err := e.emitter.EmitActiveIDs(runCtx, set); err != nil {
				e.machine.RecordPublishError()
				e.log.Error().Err(err).Str("make", set.ManufacturerName).Msg("Failed to emit active ids")
			}
		}
		for _, req := range step.Requests {
			pending++
			go e.fetch(runCtx, req, results)
		}
		if step.ResumeAfter > 0 {
			e.paused.Store(true)
			pending++
			timer := time.NewTimer(step.ResumeAfter)
			go func() {
				defer timer.Stop()
				select {
				case <-timer.C:
					select {
					case resumes <- struct{}{}:
					case <-runCtx.Done():
					}
				case <-runCtx.Done():
				}
			}()
		}
		return step.Finished
	}

	if apply(e.machine.Start()) {
		return nil
	}

	for {
		if pending == 0 {
			e.log.Error().Str("state", e.machine.State().String()).Msg("No pending requests left")
			return ErrStalled
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-results:
			pending--
			if res.dropped {
				continue
			}
			if apply(e.machine.HandleResponse(res.req, res.resp, res.err)) {
				return nil
			}
		case <-resumes:
			pending--
			e.paused.Store(false)
			if apply(e.machine.Resume()) {
				return nil
			}
		}
	}
}

// fetch waits out the request delay, takes a concurrency slot and fetches
func (e *Engine) fetch(ctx context.Context, req Request, results chan<- fetchResult) {
	res := fetchResult{req: req}
	defer func() {
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}()

	if req.Delay > 0 {
		timer := time.NewTimer(req.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.dropped = true
			return
		}
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		res.dropped = true
		return
	}
	defer func() { <-e.sem }()

	if e.paused.Load() {
		res.dropped = true
		return
	}

	if err := e.limiter.Wait(ctx); err != nil {
		res.dropped = true
		return
	}

	res.resp, res.err = e.fetcher.Fetch(ctx, req.URL)
}
