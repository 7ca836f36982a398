package ir

import "fmt"

// Job is the compiled action list of one "worker" line.
// It is the unit of scheduling; a Job never changes after compilation.
type Job struct {
	Line    int      `json:"line"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions"`
}

// Validate checks every action of the job against the counter bank size.
func (j *Job) Validate(numCounters int) []ValidationError {
	var errs []ValidationError
	for i, a := range j.Actions {
		for _, e := range a.Validate(numCounters) {
			e.Field = fmt.Sprintf("line %d: actions[%d]%s", j.Line, i, e.Field[len("action"):])
			errs = append(errs, e)
		}
	}
	return errs
}

// CommandKind distinguishes compiled command lines.
type CommandKind string

const (
	// CommandJob submits a Job to the worker pool.
	CommandJob CommandKind = "job"
	// CommandWait blocks the dispatcher until all submitted work has drained.
	CommandWait CommandKind = "wait"
	// CommandSleep pauses the dispatcher itself.
	CommandSleep CommandKind = "sleep"
)

// Command is one non-blank line of a command file.
type Command struct {
	Kind   CommandKind `json:"kind"`
	Line   int         `json:"line"`
	Text   string      `json:"text"`
	Job    *Job        `json:"job,omitempty"`
	Millis int64       `json:"millis,omitempty"`
}

// Program is the ordered list of commands compiled from one file.
type Program struct {
	Commands []Command `json:"commands"`
}

// JobCount returns the number of job commands in the program.
func (p *Program) JobCount() int {
	n := 0
	for _, c := range p.Commands {
		if c.Kind == CommandJob {
			n++
		}
	}
	return n
}

// BarrierCount returns the number of barriers a run of the program passes:
// one per wait command plus the final barrier.
func (p *Program) BarrierCount() int {
	n := 1
	for _, c := range p.Commands {
		if c.Kind == CommandWait {
			n++
		}
	}
	return n
}

// Validate checks all jobs of the program against the counter bank size.
func (p *Program) Validate(numCounters int) []ValidationError {
	var errs []ValidationError
	for _, c := range p.Commands {
		if c.Kind == CommandJob && c.Job != nil {
			errs = append(errs, c.Job.Validate(numCounters)...)
		}
	}
	return errs
}
