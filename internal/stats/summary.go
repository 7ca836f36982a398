package stats

import (
	"fmt"
	"io"
	"time"
)

// Summary aggregates job turnaround times of one run.
// Turnaround is the time from submission by the dispatcher to the end of
// execution on a worker.
type Summary struct {
	TotalRunning  time.Duration
	JobsCompleted int
	TurnaroundSum time.Duration
	TurnaroundMin time.Duration
	TurnaroundMax time.Duration
}

func (s *Summary) observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if s.JobsCompleted == 0 || d < s.TurnaroundMin {
		s.TurnaroundMin = d
	}
	if d > s.TurnaroundMax {
		s.TurnaroundMax = d
	}
	s.TurnaroundSum += d
	s.JobsCompleted++
}

// Average returns the mean turnaround in milliseconds, 0 with no jobs.
func (s Summary) Average() float64 {
	if s.JobsCompleted == 0 {
		return 0
	}
	return float64(s.TurnaroundSum.Milliseconds()) / float64(s.JobsCompleted)
}

// WriteTo writes the five stats.txt lines.
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"total running time: %d milliseconds\n"+
			"sum of jobs turnaround time: %d milliseconds\n"+
			"min job turnaround time: %d milliseconds\n"+
			"average job turnaround time: %f milliseconds\n"+
			"max job turnaround time: %d milliseconds\n",
		s.TotalRunning.Milliseconds(),
		s.TurnaroundSum.Milliseconds(),
		s.TurnaroundMin.Milliseconds(),
		s.Average(),
		s.TurnaroundMax.Milliseconds(),
	)
	return int64(n), err
}
