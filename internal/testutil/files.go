package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteCommandFile writes lines, newline separated, to dir/name and returns
// the full path. The test fails immediately on I/O errors.
func WriteCommandFile(t testing.TB, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		t.Fatalf("write command file: %v", err)
	}
	return path
}

// ReadLines returns the lines of a text file without trailing newlines.
func ReadLines(t testing.TB, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
