package engine

import (
	"fmt"
	"time"

	"github.com/roach88/tally/internal/counter"
	"github.com/roach88/tally/internal/ir"
)

// Executor runs the actions of one job against a counter bank.
//
// Repeat blocks are interpreted with an explicit frame stack instead of
// recursion, so nesting depth costs heap, not goroutine stack.
//
// Thread-safety: an Executor holds no per-job state and may be shared by
// all workers.
type Executor struct {
	counters *counter.Store
	sleep    func(time.Duration)
}

// NewExecutor creates an executor over counters. A nil sleep uses time.Sleep.
func NewExecutor(counters *counter.Store, sleep func(time.Duration)) *Executor {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Executor{counters: counters, sleep: sleep}
}

// ActionCounts tallies executed actions by kind. A repeat counts once per
// iteration of the enclosing body, and its body actions count individually.
type ActionCounts struct {
	Increments int
	Decrements int
	Sleeps     int
	Repeats    int
}

// Total returns the number of executed actions.
func (c ActionCounts) Total() int {
	return c.Increments + c.Decrements + c.Sleeps + c.Repeats
}

// frame is one active action list: the job itself or a repeat body.
type frame struct {
	body []ir.Action
	pc   int // next action to run
	left int // passes remaining, including the current one
}

// Execute runs actions in declared order. It stops at the first counter
// error; actions already applied stay applied.
func (x *Executor) Execute(actions []ir.Action) (ActionCounts, error) {
	var n ActionCounts
	stack := []frame{{body: actions, left: 1}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.pc == len(top.body) {
			top.left--
			if top.left > 0 {
				top.pc = 0
			} else {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		a := top.body[top.pc]
		top.pc++

		switch a.Kind {
		case ir.ActionIncrement:
			if err := x.counters.Increment(a.Counter); err != nil {
				return n, err
			}
			n.Increments++
		case ir.ActionDecrement:
			if err := x.counters.Decrement(a.Counter); err != nil {
				return n, err
			}
			n.Decrements++
		case ir.ActionSleep:
			// No lock is held here.
			x.sleep(time.Duration(a.Millis) * time.Millisecond)
			n.Sleeps++
		case ir.ActionRepeat:
			n.Repeats++
			if a.Count > 0 && len(a.Body) > 0 {
				stack = append(stack, frame{body: a.Body, left: a.Count})
			}
		default:
			return n, fmt.Errorf("unknown action kind %q", a.Kind)
		}
	}
	return n, nil
}
