package runlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesDailyFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(dir, time.UTC, 7)
	ctx := context.Background()

	outPath, errPath, err := w.Append(ctx, "backup", 42, "hello\n", "oops")
	require.NoError(t, err)

	day := time.Now().UTC().Format("20060102")
	assert.Equal(t, filepath.Join(dir, fmt.Sprintf("run_%s.out.log", day)), outPath)
	assert.Equal(t, filepath.Join(dir, fmt.Sprintf("run_%s.err.log", day)), errPath)

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "task=backup run=42")
	assert.Contains(t, string(out), "hello\n")

	// Missing trailing newline is added.
	errContent, err := os.ReadFile(errPath)
	require.NoError(t, err)
	assert.Contains(t, string(errContent), "oops\n")
}

func TestAppendSkipsEmptyStreams(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(dir, time.UTC, 7)

	outPath, errPath, err := w.Append(context.Background(), "quiet", 1, "", "")
	require.NoError(t, err)
	assert.Empty(t, outPath)
	assert.Empty(t, errPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendAccumulates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(dir, time.UTC, 7)
	ctx := context.Background()

	outPath, _, err := w.Append(ctx, "a", 1, "first\n", "")
	require.NoError(t, err)
	_, _, err = w.Append(ctx, "b", 2, "second\n", "")
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "task=a run=1")
	assert.Contains(t, string(data), "task=b run=2")
	assert.Contains(t, string(data), "first\n")
	assert.Contains(t, string(data), "second\n")
}

func TestGCRemovesOldFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := NewWriter(dir, time.UTC, 2)

	oldDay := time.Now().UTC().AddDate(0, 0, -5).Format("20060102")
	oldFile := filepath.Join(dir, fmt.Sprintf("run_%s.out.log", oldDay))
	require.NoError(t, os.WriteFile(oldFile, []byte("stale\n"), 0600))
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep\n"), 0600))

	_, _, err := w.Append(context.Background(), "gc", 7, "new\n", "")
	require.NoError(t, err)

	assert.NoFileExists(t, oldFile)
	assert.FileExists(t, unrelated)

	today := time.Now().UTC().Format("20060102")
	assert.FileExists(t, filepath.Join(dir, fmt.Sprintf("run_%s.out.log", today)))
}

func TestParseDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"run_20250101.out.log", "20250101", true},
		{"run_20250101.err.log", "20250101", true},
		{"run_20250101.log", "", false},
		{"app.log", "", false},
		{"run_x.out.txt", "", false},
	}
	for _, tc := range tests {
		day, ok := parseDay(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		if ok {
			assert.Equal(t, tc.want, day, tc.name)
		}
	}
}
