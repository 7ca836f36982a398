// Package stats records the execution log of a run.
//
// Workers and the dispatcher never write files themselves. They send events
// over a buffered channel to a single consumer goroutine that owns every log
// file, so concurrent producers cannot interleave partial lines and no
// logging lock is ever taken next to a counter lock.
//
// Files written under the output directory:
//
//	dispatcher.txt   TIME <ms>: read cmd line: <line>
//	threadNN.txt     TIME <ms>: START job <line> / END job <line>
//	stats.txt        five summary lines, written by Close
//
// A nil *Logger is valid and drops every event; that is how logging is
// disabled.
package stats

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/tally/internal/ir"
)

// File names written by the logger.
const (
	DispatcherFile = "dispatcher.txt"
	StatsFile      = "stats.txt"
)

// DefaultBuffer is the event channel capacity.
const DefaultBuffer = 1024

// ThreadFile returns the log file name of worker id.
func ThreadFile(id int) string {
	return fmt.Sprintf("thread%02d.txt", id)
}

type eventKind int

const (
	evStarted eventKind = iota
	evLine
	evJobStart
	evJobEnd
)

type event struct {
	kind      eventKind
	worker    int
	text      string
	at        time.Time
	submitted time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock sets the wall clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.buffer = n
		}
	}
}

// Logger is the serialized event sink of one run.
type Logger struct {
	dir    string
	now    func() time.Time
	start  time.Time
	buffer int

	events chan event
	done   chan struct{}
	once   sync.Once

	// Owned by the consumer goroutine until done is closed.
	dispatcher *bufio.Writer
	threads    []*bufio.Writer
	files      []*os.File
	summary    Summary
	err        error
}

// New creates dir/dispatcher.txt and one threadNN.txt per worker, truncating
// files left by an earlier run, and starts the consumer goroutine.
func New(dir string, threads int, opts ...Option) (*Logger, error) {
	if threads < 1 {
		return nil, fmt.Errorf("stats: threads must be positive, got %d", threads)
	}
	l := &Logger{
		dir:    dir,
		now:    time.Now,
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("stats: create output dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, DispatcherFile))
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	l.files = append(l.files, f)
	l.dispatcher = bufio.NewWriter(f)

	l.threads = make([]*bufio.Writer, threads)
	for i := range l.threads {
		f, err := os.Create(filepath.Join(dir, ThreadFile(i)))
		if err != nil {
			l.closeFiles()
			return nil, fmt.Errorf("stats: %w", err)
		}
		l.files = append(l.files, f)
		l.threads[i] = bufio.NewWriter(f)
	}

	l.start = l.now()
	l.events = make(chan event, l.buffer)
	l.done = make(chan struct{})
	go l.consume()
	return l, nil
}

// Started writes the startup marker to the dispatcher log.
func (l *Logger) Started(runID string, threads, counters int) {
	if l == nil {
		return
	}
	l.events <- event{
		kind: evStarted,
		text: fmt.Sprintf("dispatcher started run=%s threads=%d counters=%d", runID, threads, counters),
		at:   l.now(),
	}
}

// DispatcherLine records a command line read by the dispatcher.
func (l *Logger) DispatcherLine(text string) {
	if l == nil {
		return
	}
	l.events <- event{kind: evLine, text: text, at: l.now()}
}

// JobStarted records worker picking up job.
func (l *Logger) JobStarted(worker int, job *ir.Job) {
	if l == nil {
		return
	}
	l.events <- event{kind: evJobStart, worker: worker, text: job.Text, at: l.now()}
}

// JobFinished records worker completing job. submitted is the instant the
// dispatcher queued the job; turnaround is measured from it.
func (l *Logger) JobFinished(worker int, job *ir.Job, submitted time.Time) {
	if l == nil {
		return
	}
	l.events <- event{kind: evJobEnd, worker: worker, text: job.Text, at: l.now(), submitted: submitted}
}

// Close stops accepting events, waits for the consumer to drain, flushes all
// logs and writes stats.txt. No producer may send after Close.
func (l *Logger) Close() (Summary, error) {
	if l == nil {
		return Summary{}, nil
	}
	l.once.Do(func() {
		close(l.events)
		<-l.done

		l.summary.TotalRunning = l.now().Sub(l.start)
		for _, w := range append([]*bufio.Writer{l.dispatcher}, l.threads...) {
			l.setErr(w.Flush())
		}
		l.closeFiles()
		l.setErr(l.writeStats())
	})
	return l.summary, l.err
}

func (l *Logger) consume() {
	defer close(l.done)
	for ev := range l.events {
		ms := ev.at.Sub(l.start).Milliseconds()
		switch ev.kind {
		case evStarted, evLine:
			prefix := "read cmd line: "
			if ev.kind == evStarted {
				prefix = ""
			}
			_, err := fmt.Fprintf(l.dispatcher, "TIME %d: %s%s\n", ms, prefix, ev.text)
			l.setErr(err)
		case evJobStart:
			l.setErr(l.threadLine(ev.worker, "TIME %d: START job %s\n", ms, ev.text))
		case evJobEnd:
			l.setErr(l.threadLine(ev.worker, "TIME %d: END job %s\n", ms, ev.text))
			l.summary.observe(ev.at.Sub(ev.submitted))
		}
	}
}

func (l *Logger) threadLine(worker int, format string, ms int64, text string) error {
	if worker < 0 || worker >= len(l.threads) {
		return fmt.Errorf("stats: worker %d has no log file", worker)
	}
	_, err := fmt.Fprintf(l.threads[worker], format, ms, text)
	return err
}

func (l *Logger) writeStats() error {
	f, err := os.Create(filepath.Join(l.dir, StatsFile))
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	_, werr := l.summary.WriteTo(f)
	return errors.Join(werr, f.Close())
}

func (l *Logger) closeFiles() {
	for _, f := range l.files {
		l.setErr(f.Close())
	}
	l.files = nil
}

// setErr keeps the first error.
func (l *Logger) setErr(err error) {
	if err != nil && l.err == nil {
		l.err = err
	}
}
