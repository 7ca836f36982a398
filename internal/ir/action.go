package ir

import (
	"fmt"
	"strings"
)

// ActionKind tags the Action variant.
type ActionKind string

const (
	ActionIncrement ActionKind = "increment"
	ActionDecrement ActionKind = "decrement"
	ActionSleep     ActionKind = "msleep"
	ActionRepeat    ActionKind = "repeat"
)

// Action is a single instruction executed by a worker.
//
// Only the fields relevant to Kind are meaningful:
//   - increment/decrement: Counter
//   - msleep: Millis
//   - repeat: Count and Body
type Action struct {
	Kind    ActionKind `json:"kind"`
	Counter int        `json:"counter,omitempty"`
	Millis  int64      `json:"millis,omitempty"`
	Count   int        `json:"count,omitempty"`
	Body    []Action   `json:"body,omitempty"`
}

// Increment returns an action that adds one to counter id.
func Increment(id int) Action {
	return Action{Kind: ActionIncrement, Counter: id}
}

// Decrement returns an action that subtracts one from counter id.
func Decrement(id int) Action {
	return Action{Kind: ActionDecrement, Counter: id}
}

// Sleep returns an action that suspends the worker for ms milliseconds.
func Sleep(ms int64) Action {
	return Action{Kind: ActionSleep, Millis: ms}
}

// Repeat returns an action that runs body n times in order.
func Repeat(n int, body ...Action) Action {
	return Action{Kind: ActionRepeat, Count: n, Body: body}
}

// String renders the action back into command file syntax. A repeat
// swallows the rest of the line, so the tree flattens in pre-order.
func (a Action) String() string {
	var sb strings.Builder
	stack := []Action{a}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		switch cur.Kind {
		case ActionIncrement, ActionDecrement:
			fmt.Fprintf(&sb, "%s %d", cur.Kind, cur.Counter)
		case ActionSleep:
			fmt.Fprintf(&sb, "%s %d", cur.Kind, cur.Millis)
		case ActionRepeat:
			fmt.Fprintf(&sb, "%s %d", cur.Kind, cur.Count)
			for i := len(cur.Body) - 1; i >= 0; i-- {
				stack = append(stack, cur.Body[i])
			}
		default:
			sb.WriteString(string(cur.Kind))
		}
	}
	return sb.String()
}

// ValidationError represents a validation error with field path and message.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the action tree against a counter bank of size numCounters.
// Returns all errors (not fail-fast). The walk is iterative and keeps only
// the index chain of the current node; field paths are rendered when an
// error is recorded.
func (a Action) Validate(numCounters int) []ValidationError {
	type item struct {
		action Action
		depth  int // 0 for the root
		index  int // position in the parent body
	}

	var errs []ValidationError
	var chain []int // body indices from the root to the current node
	record := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   actionPath(chain) + "." + field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	stack := []item{{action: a}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		chain = chain[:max(it.depth-1, 0)]
		if it.depth > 0 {
			chain = append(chain, it.index)
		}

		switch it.action.Kind {
		case ActionIncrement, ActionDecrement:
			if it.action.Counter < 0 || it.action.Counter >= numCounters {
				record("counter", "counter %d outside [0, %d)", it.action.Counter, numCounters)
			}
		case ActionSleep:
			if it.action.Millis < 0 {
				record("millis", "negative duration %d", it.action.Millis)
			}
		case ActionRepeat:
			if it.action.Count < 0 {
				record("count", "negative repeat count %d", it.action.Count)
			}
			for i := len(it.action.Body) - 1; i >= 0; i-- {
				stack = append(stack, item{action: it.action.Body[i], depth: it.depth + 1, index: i})
			}
		default:
			record("kind", "unknown action kind %q", it.action.Kind)
		}
	}
	return errs
}

// actionPath renders an index chain as action.body[i].body[j]...
func actionPath(chain []int) string {
	var sb strings.Builder
	sb.WriteString("action")
	for _, i := range chain {
		fmt.Fprintf(&sb, ".body[%d]", i)
	}
	return sb.String()
}
