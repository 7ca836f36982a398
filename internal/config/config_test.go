package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("tally", pflag.ContinueOnError)
	fs.String("out", ".", "")
	fs.String("db", "", "")
	fs.String("metrics-file", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.String("format", "text", "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	v := New()
	cfg, err := Load(v, []string{"cmds.txt", "4", "10", "1"})
	require.NoError(t, err)

	assert.Equal(t, "cmds.txt", cfg.CommandFile)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 10, cfg.Counters)
	assert.Equal(t, 1, cfg.LogMode)
	assert.True(t, cfg.LogEnabled())
	assert.Equal(t, ".", cfg.OutDir)
	assert.Equal(t, "text", cfg.Format)
	assert.Empty(t, cfg.DBPath)
}

func TestLoad_FlagsOverride(t *testing.T) {
	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--out", "/tmp/run", "--db", "runs.db", "--metrics-file", "m.prom", "-v", "--format", "json"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))

	cfg, err := Load(v, []string{"cmds.txt", "1", "0", "0"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/run", cfg.OutDir)
	assert.Equal(t, "runs.db", cfg.DBPath)
	assert.Equal(t, "m.prom", cfg.MetricsFile)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "json", cfg.Format)
	assert.False(t, cfg.LogEnabled())
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.yaml")
	require.NoError(t, os.WriteFile(path, []byte("out: artifacts\ndb: ledger.db\nmetrics_file: run.prom\n"), 0644))

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--db", "explicit.db"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, ReadFile(v, path))

	cfg, err := Load(v, []string{"cmds.txt", "2", "3", "0"})
	require.NoError(t, err)
	assert.Equal(t, "artifacts", cfg.OutDir, "file beats flag default")
	assert.Equal(t, "explicit.db", cfg.DBPath, "explicit flag beats file")
	assert.Equal(t, "run.prom", cfg.MetricsFile)
}

func TestReadFile_Missing(t *testing.T) {
	err := ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	assert.NoError(t, ReadFile(New(), ""))
}

func TestLoad_ArgumentCount(t *testing.T) {
	_, err := Load(New(), []string{"cmds.txt", "4"})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "expected 4 arguments")
}

func TestLoad_NonInteger(t *testing.T) {
	_, err := Load(New(), []string{"cmds.txt", "four", "10", "x"})
	require.Error(t, err)

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{
		`numThreads must be an integer, got "four"`,
		`logMode must be an integer, got "x"`,
	}, ce.Problems)
}

func TestLoad_Limits(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero threads", []string{"c", "0", "10", "0"}, "numThreads must be >= 1, got 0"},
		{"too many threads", []string{"c", "4097", "10", "0"}, "numThreads must be <= 4096, got 4097"},
		{"negative counters", []string{"c", "1", "-1", "0"}, "numCounters must be >= 0, got -1"},
		{"too many counters", []string{"c", "1", "101", "0"}, "numCounters must be <= 100, got 101"},
		{"bad log mode", []string{"c", "1", "10", "2"}, "logMode must be one of [0 1], got 2"},
		{"empty command file", []string{"", "1", "10", "0"}, "commandFile is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), tt.args)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_UpperBoundsAccepted(t *testing.T) {
	cfg, err := Load(New(), []string{"c", "4096", "100", "0"})
	require.NoError(t, err)
	assert.Equal(t, MaxThreads, cfg.Threads)
	assert.Equal(t, MaxCounters, cfg.Counters)
}

func TestValidate_Format(t *testing.T) {
	v := New()
	v.Set("format", "xml")
	_, err := Load(v, []string{"c", "1", "1", "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--format must be one of [text json], got xml")
}
