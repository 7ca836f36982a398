package engine

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/tally/internal/ir"
	"github.com/roach88/tally/internal/metrics"
)

// DispatcherOptions are the optional collaborators of a Dispatcher.
type DispatcherOptions struct {
	Events  EventSink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Clock   *Clock
	Sleep   func(time.Duration)
	Now     func() time.Time
}

// Dispatcher submits a program's commands in file order.
//
// It is the only producer of its JobQueue and must be driven from a single
// goroutine.
type Dispatcher struct {
	queue   *JobQueue
	clock   *Clock
	events  EventSink
	metrics *metrics.Metrics
	logger  *slog.Logger
	sleep   func(time.Duration)
	now     func() time.Time

	submitted int
	barriers  int
}

// NewDispatcher creates a dispatcher feeding queue.
func NewDispatcher(queue *JobQueue, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		clock:   opts.Clock,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		sleep:   opts.Sleep,
		now:     opts.Now,
	}
	if d.clock == nil {
		d.clock = NewClock()
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d.logger = d.logger.With("component", "dispatcher")
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Dispatch walks every command of p, then performs the implicit final
// barrier. When it returns without error, every submitted job has finished.
func (d *Dispatcher) Dispatch(p *ir.Program) error {
	for _, c := range p.Commands {
		if d.events != nil {
			d.events.DispatcherLine(c.Text)
		}
		switch c.Kind {
		case ir.CommandJob:
			if err := d.Submit(c.Job); err != nil {
				return err
			}
		case ir.CommandWait:
			d.Barrier()
		case ir.CommandSleep:
			d.logger.Debug("dispatcher sleeping", "line", c.Line, "ms", c.Millis)
			d.sleep(time.Duration(c.Millis) * time.Millisecond)
		default:
			return fmt.Errorf("line %d: unknown command kind %q", c.Line, c.Kind)
		}
	}
	d.Barrier()
	return nil
}

// Submit stamps job and pushes it without blocking.
func (d *Dispatcher) Submit(job *ir.Job) error {
	t := &Task{Job: job, Seq: d.clock.Next()}
	if d.events != nil {
		t.SubmittedAt = d.now()
	}
	if !d.queue.Push(t) {
		return NewQueueClosedError(job.Line)
	}
	d.submitted++
	d.metrics.JobSubmitted()
	return nil
}

// Barrier blocks until every job submitted so far has finished and no
// worker is mid-job.
func (d *Dispatcher) Barrier() {
	start := d.now()
	d.queue.WaitDrained()
	wait := d.now().Sub(start)
	d.barriers++
	d.metrics.BarrierDone(wait)
	d.logger.Debug("barrier passed", "submitted", d.submitted, "wait", wait)
}

// Submitted returns the number of jobs pushed so far.
func (d *Dispatcher) Submitted() int {
	return d.submitted
}

// Barriers returns the number of barriers passed, including the implicit
// final one once Dispatch has returned.
func (d *Dispatcher) Barriers() int {
	return d.barriers
}
