package engine

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/ir"
	"github.com/roach88/tally/internal/metrics"
)

// PoolOptions are the optional collaborators of a WorkerPool.
// Zero values disable the corresponding feature.
type PoolOptions struct {
	Events  EventSink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Sleep   func(time.Duration)
	Now     func() time.Time
}

// WorkerPool is a fixed set of worker goroutines consuming a JobQueue.
//
// Each worker loops: Pop a task (blocking), execute its actions in order,
// Done. It exits when Pop reports shutdown.
//
// Thread-safety model:
//   - Start(), Stop(): called by the owning goroutine
//   - Err(), Completed(), Actions(): valid after Stop()
type WorkerPool struct {
	size    int
	queue   *JobQueue
	exec    *Executor
	events  EventSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	wg      sync.WaitGroup
	started bool
	stopped bool

	// Per-worker results, each written only by its own worker.
	completed []int64
	actions   []ActionCounts

	errMu sync.Mutex
	err   error
}

// NewWorkerPool creates a pool of size workers. Workers are not started
// until Start.
func NewWorkerPool(size int, queue *JobQueue, counters *counter.Store, opts PoolOptions) *WorkerPool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &WorkerPool{
		size:      size,
		queue:     queue,
		exec:      NewExecutor(counters, opts.Sleep),
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "pool"),
		now:       now,
		completed: make([]int64, size),
		actions:   make([]ActionCounts, size),
	}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *WorkerPool) Start() {
	if p.started {
		return
	}
	p.started = true
	p.logger.Debug("starting workers", "workers", p.size)
	for id := 0; id < p.size; id++ {
		p.wg.Add(1)
		go p.work(id)
	}
}

// Stop closes the queue and joins every worker. Jobs still queued are
// executed before the workers exit.
func (p *WorkerPool) Stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	p.queue.Close()
	p.wg.Wait()
	p.logger.Debug("workers joined", "completed", p.Completed())
}

func (p *WorkerPool) work(id int) {
	defer p.wg.Done()
	for {
		t, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.run(id, t)
		p.queue.Done()
	}
}

func (p *WorkerPool) run(id int, t *Task) {
	var start time.Time
	if p.metrics != nil {
		p.metrics.JobStarted()
		start = p.now()
	}
	if p.events != nil {
		p.events.JobStarted(id, t.Job)
	}
	p.logger.Debug("job started", "worker", id, "seq", t.Seq, "line", t.Job.Line)

	counts, err := p.exec.Execute(t.Job.Actions)
	if err != nil {
		fault := NewCounterFault(id, t.Job.Line, err)
		p.logger.Error("job failed", "worker", id, "seq", t.Seq, "line", t.Job.Line, "error", err)
		p.setErr(fault)
	}

	p.completed[id]++
	a := &p.actions[id]
	a.Increments += counts.Increments
	a.Decrements += counts.Decrements
	a.Sleeps += counts.Sleeps
	a.Repeats += counts.Repeats

	if p.metrics != nil {
		p.metrics.JobFinished(p.now().Sub(start))
		p.metrics.AddActions(string(ir.ActionIncrement), counts.Increments)
		p.metrics.AddActions(string(ir.ActionDecrement), counts.Decrements)
		p.metrics.AddActions(string(ir.ActionSleep), counts.Sleeps)
		p.metrics.AddActions(string(ir.ActionRepeat), counts.Repeats)
	}
	if p.events != nil {
		p.events.JobFinished(id, t.Job, t.SubmittedAt)
	}
	p.logger.Debug("job finished", "worker", id, "seq", t.Seq, "line", t.Job.Line, "actions", counts.Total())
}

func (p *WorkerPool) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// Err returns the first job error, if any.
func (p *WorkerPool) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Completed returns the number of jobs executed. Call after Stop.
func (p *WorkerPool) Completed() int64 {
	var n int64
	for _, c := range p.completed {
		n += c
	}
	return n
}

// Actions returns executed action counts summed over all workers.
// Call after Stop.
func (p *WorkerPool) Actions() ActionCounts {
	var total ActionCounts
	for _, a := range p.actions {
		total.Increments += a.Increments
		total.Decrements += a.Decrements
		total.Sleeps += a.Sleeps
		total.Repeats += a.Repeats
	}
	return total
}
