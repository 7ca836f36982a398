package engine

import (
	"sync"
	"time"

	"github.com/roach88/tally/internal/ir"
)

// Task is a job waiting in, or taken from, the JobQueue.
type Task struct {
	Job         *ir.Job
	Seq         int64     // submission order from Clock.Next()
	SubmittedAt time.Time // wall time of the push, for turnaround stats
}

// JobQueue is the FIFO handoff between the dispatcher and the workers.
//
// Besides the tasks it tracks how many workers are mid-job, so "empty and
// nobody working" can be checked under a single lock. Pop moves a task out
// and marks the caller active in the same critical section; there is no
// instant at which a popped task is in neither the queue nor the active
// count.
//
// The queue is unbounded: Push never blocks the dispatcher.
//
// Thread-safety: all methods are safe for concurrent use.
type JobQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond // signaled on Push, broadcast on Close
	idle     *sync.Cond // broadcast when the queue becomes drained
	tasks    []*Task
	active   int
	closed   bool
}

// NewJobQueue creates an empty, open queue.
func NewJobQueue() *JobQueue {
	q := &JobQueue{
		tasks: make([]*Task, 0, 64),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Push appends a task and wakes one waiting worker.
// Returns false if the queue is closed.
func (q *JobQueue) Push(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)
	q.notEmpty.Signal()
	return true
}

// Pop blocks until a task is available and returns it with the caller
// counted as active. The caller must call Done when the task finishes.
//
// Returns (nil, false) once the queue is closed and empty; the worker
// should exit.
func (q *JobQueue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.tasks) == 0 {
		if q.closed {
			return nil, false
		}
		q.notEmpty.Wait()
	}

	t := q.tasks[0]
	// Nil out the slot so the backing array does not pin finished jobs.
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	q.active++
	return t, true
}

// Done marks one active worker idle. If that drains the queue, every
// goroutine blocked in WaitDrained wakes up.
func (q *JobQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active == 0 {
		panic("engine: JobQueue.Done called without a matching Pop")
	}
	q.active--
	if q.drained() {
		q.idle.Broadcast()
	}
}

// Drained reports whether the queue is empty and no worker is mid-job.
func (q *JobQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drained()
}

func (q *JobQueue) drained() bool {
	return len(q.tasks) == 0 && q.active == 0
}

// WaitDrained blocks until Drained would return true.
//
// Everything a worker did before its Done call is visible to the caller
// after WaitDrained returns.
func (q *JobQueue) WaitDrained() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.drained() {
		q.idle.Wait()
	}
}

// Close signals that no more tasks will be pushed. Workers drain what is
// left and then see Pop return false.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
}

// Len returns the number of queued tasks.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Active returns the number of workers mid-job.
func (q *JobQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}
