package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/ir"
	"github.com/roach88/tally/internal/metrics"
)

// EventSink receives execution events for the run log.
// Implemented by *stats.Logger. Calls come from the dispatcher and from
// every worker concurrently; implementations must serialize internally.
type EventSink interface {
	Started(runID string, threads, counters int)
	DispatcherLine(text string)
	JobStarted(worker int, job *ir.Job)
	JobFinished(worker int, job *ir.Job, submittedAt time.Time)
}

// MaxThreads is the largest worker pool the engine accepts.
const MaxThreads = 4096

// Engine executes one program with a fixed worker pool over a counter bank.
//
// An Engine is single-use: Run may be called once.
type Engine struct {
	counters *counter.Store
	threads  int
	runID    string
	runIDs   RunIDGenerator
	events   EventSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    func(time.Duration)
	now      func() time.Time

	ran atomic.Bool
}

// EngineOption allows configuration of engine collaborators.
type EngineOption func(*Engine)

// WithEvents routes execution events to sink. Pass a nil interface, never
// a typed nil pointer, to disable events.
func WithEvents(sink EventSink) EngineOption {
	return func(e *Engine) {
		e.events = sink
	}
}

// WithMetrics records run metrics into m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRunID fixes the run id.
func WithRunID(id string) EngineOption {
	return func(e *Engine) {
		e.runID = id
	}
}

// WithRunIDGenerator sets the generator used when no run id is fixed.
// Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithSleep replaces time.Sleep for msleep actions and dispatcher pauses.
func WithSleep(sleep func(time.Duration)) EngineOption {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithNow replaces time.Now for durations and turnaround stamps.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine running threads workers against counters.
// The same counter bank is shared by the dispatcher and the pool.
func New(counters *counter.Store, threads int, opts ...EngineOption) (*Engine, error) {
	if counters == nil {
		return nil, errors.New("engine: counter store is required")
	}
	if threads < 1 || threads > MaxThreads {
		return nil, fmt.Errorf("engine: threads must be in [1, %d], got %d", MaxThreads, threads)
	}

	e := &Engine{
		counters: counters,
		threads:  threads,
		runIDs:   UUIDv7Generator{},
		sleep:    time.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.runID == "" {
		e.runID = e.runIDs.Generate()
	}
	return e, nil
}

// RunID returns the id of this engine's run.
func (e *Engine) RunID() string {
	return e.runID
}

// Result describes a finished run.
type Result struct {
	RunID     string
	Threads   int
	Jobs      int   // jobs submitted
	Completed int64 // jobs executed by workers
	Barriers  int   // explicit waits plus the implicit final barrier
	Actions   ActionCounts
	Counters  []int64
	StartedAt time.Time
	Duration  time.Duration
}

// Run executes p to completion.
//
// The program is validated against the counter bank first; an invalid
// program runs no job. Run returns once the final barrier has passed and
// every worker has exited. The counter bank then holds the final values.
func (e *Engine) Run(p *ir.Program) (*Result, error) {
	if !e.ran.CompareAndSwap(false, true) {
		return nil, errors.New("engine: Run called more than once")
	}
	if errs := p.Validate(e.counters.Len()); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, ve := range errs {
			msgs[i] = ve.Error()
		}
		return nil, &RuntimeError{
			Code:    ErrCodeInvalidProgram,
			Message: strings.Join(msgs, "; "),
			Worker:  -1,
		}
	}

	log := e.logger.With("component", "engine", "run_id", e.runID)
	start := e.now()
	log.Info("run started",
		"threads", e.threads,
		"counters", e.counters.Len(),
		"commands", len(p.Commands),
		"jobs", p.JobCount())

	if e.events != nil {
		e.events.Started(e.runID, e.threads, e.counters.Len())
	}

	queue := NewJobQueue()
	pool := NewWorkerPool(e.threads, queue, e.counters, PoolOptions{
		Events:  e.events,
		Metrics: e.metrics,
		Logger:  e.logger,
		Sleep:   e.sleep,
		Now:     e.now,
	})
	disp := NewDispatcher(queue, DispatcherOptions{
		Events:  e.events,
		Metrics: e.metrics,
		Logger:  e.logger,
		Sleep:   e.sleep,
		Now:     e.now,
	})

	pool.Start()
	dispErr := disp.Dispatch(p)
	pool.Stop()

	res := &Result{
		RunID:     e.runID,
		Threads:   e.threads,
		Jobs:      disp.Submitted(),
		Completed: pool.Completed(),
		Barriers:  disp.Barriers(),
		Actions:   pool.Actions(),
		Counters:  e.counters.Snapshot(),
		StartedAt: start,
		Duration:  e.now().Sub(start),
	}

	if err := errors.Join(dispErr, pool.Err()); err != nil {
		log.Error("run failed", "error", err)
		return res, err
	}
	log.Info("run finished",
		"jobs", res.Jobs,
		"barriers", res.Barriers,
		"actions", res.Actions.Total(),
		"duration", res.Duration)
	return res, nil
}
