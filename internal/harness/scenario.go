package harness

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines an end-to-end run: a command file, the pool and bank
// sizes, and what the run must produce.
type Scenario struct {
	// Name uniquely identifies this scenario (and its golden file).
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Threads is the worker pool size.
	Threads int `yaml:"threads"`

	// Counters is the counter bank size.
	Counters int `yaml:"counters"`

	// Log enables the stats log (logMode 1).
	Log bool `yaml:"log,omitempty"`

	// Lines are command file lines, in order.
	Lines []string `yaml:"lines,omitempty"`

	// Generate appends repeated lines after Lines.
	Generate []GenerateStep `yaml:"generate,omitempty"`

	// ShuffleSeed, when set, shuffles the complete line list
	// deterministically before compiling.
	ShuffleSeed *uint64 `yaml:"shuffle_seed,omitempty"`

	// RunID is a fixed run id for deterministic output.
	// If empty, defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Expect describes the required outcome.
	Expect Expectation `yaml:"expect"`
}

// GenerateStep appends Count copies of Line.
type GenerateStep struct {
	Line  string `yaml:"line"`
	Count int    `yaml:"count"`
}

// Expectation is what a scenario run must produce. Only set fields are
// checked.
type Expectation struct {
	// Counters maps counter id to final value. Counters not listed must be 0.
	Counters map[int]int64 `yaml:"counters,omitempty"`

	// Jobs is the number of jobs submitted.
	Jobs *int `yaml:"jobs,omitempty"`

	// Barriers counts explicit waits plus the implicit final barrier.
	Barriers *int `yaml:"barriers,omitempty"`

	// ParseError is the error code compilation must fail with. When set,
	// no job may run and no counter file may be written.
	ParseError string `yaml:"parse_error,omitempty"`

	// StatsLines is the minimum number of lines in stats.txt.
	// Requires log: true.
	StatsLines int `yaml:"stats_lines,omitempty"`
}

// BuildLines returns the command file lines of the scenario: Lines, then
// generated lines, shuffled if a seed is set.
func (s *Scenario) BuildLines() []string {
	lines := append([]string(nil), s.Lines...)
	for _, g := range s.Generate {
		for i := 0; i < g.Count; i++ {
			lines = append(lines, g.Line)
		}
	}
	if s.ShuffleSeed != nil {
		rng := rand.New(rand.NewPCG(*s.ShuffleSeed, 0))
		rng.Shuffle(len(lines), func(i, j int) { lines[i], lines[j] = lines[j], lines[i] })
	}
	return lines
}

// CommandFile renders the scenario's command file contents.
func (s *Scenario) CommandFile() string {
	return strings.Join(s.BuildLines(), "\n") + "\n"
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "counter:" vs "counters:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// LoadDir loads every *.yaml / *.yml file in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scenarios := make([]*Scenario, 0, len(names))
	seen := make(map[string]string)
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", name, s.Name, prev)
		}
		seen[s.Name] = name
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Threads < 1 {
		return fmt.Errorf("threads must be >= 1")
	}

	if s.Counters < 0 {
		return fmt.Errorf("counters must be >= 0")
	}

	if len(s.Lines) == 0 && len(s.Generate) == 0 {
		return fmt.Errorf("lines or generate is required")
	}

	for i, g := range s.Generate {
		if strings.TrimSpace(g.Line) == "" {
			return fmt.Errorf("generate[%d]: line is required", i)
		}
		if g.Count < 1 {
			return fmt.Errorf("generate[%d]: count must be >= 1", i)
		}
	}

	for id := range s.Expect.Counters {
		if id < 0 || id >= s.Counters {
			return fmt.Errorf("expect.counters: id %d outside [0, %d)", id, s.Counters)
		}
	}

	if s.Expect.ParseError != "" && (len(s.Expect.Counters) > 0 || s.Expect.Jobs != nil || s.Expect.Barriers != nil) {
		return fmt.Errorf("expect.parse_error cannot be combined with run expectations")
	}

	if s.Expect.StatsLines > 0 && !s.Log {
		return fmt.Errorf("expect.stats_lines requires log: true")
	}

	return nil
}
