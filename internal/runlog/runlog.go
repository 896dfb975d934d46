// Package runlog appends captured run output to daily rolling files and
// garbage-collects files older than the retention window.
package runlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/everping/everping/internal/fileutil"
	"github.com/everping/everping/internal/logger"
)

// Writer appends run output under dir using the configured local timezone
// for file naming and header timestamps.
type Writer struct {
	dir      string
	location *time.Location
	keepDays int
}

// NewWriter creates a run log writer. keepDays below 1 is clamped to 1.
func NewWriter(dir string, location *time.Location, keepDays int) *Writer {
	if keepDays < 1 {
		keepDays = 1
	}
	return &Writer{dir: dir, location: location, keepDays: keepDays}
}

// Append writes stdout and stderr of a run to today's out/err files and
// returns their paths. Empty streams are skipped (their path is returned
// empty). Old files are garbage-collected after every append.
func (w *Writer) Append(ctx context.Context, taskName string, runID int64, stdout, stderr string) (string, string, error) {
	if err := fileutil.EnsureDir(w.dir); err != nil {
		return "", "", err
	}

	now := time.Now().In(w.location)
	day := now.Format("20060102")
	header := fmt.Sprintf("[%s] task=%s run=%d\n", now.Format("2006-01-02 15:04:05"), taskName, runID)

	var outPath, errPath string
	if stdout != "" {
		outPath = filepath.Join(w.dir, fmt.Sprintf("run_%s.out.log", day))
		if err := appendWithHeader(outPath, header, stdout); err != nil {
			return "", "", err
		}
	}
	if stderr != "" {
		errPath = filepath.Join(w.dir, fmt.Sprintf("run_%s.err.log", day))
		if err := appendWithHeader(errPath, header, stderr); err != nil {
			return outPath, "", err
		}
	}

	w.gc(ctx, now)
	return outPath, errPath, nil
}

func appendWithHeader(path, header, content string) error {
	f, err := fileutil.OpenOrCreateAppendFile(path)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if _, err := f.WriteString(header + content); err != nil {
		return fmt.Errorf("failed to append run log: %w", err)
	}
	return nil
}

// gc removes run_*.log files whose encoded date is older than the retention
// window. Non-matching names are ignored.
func (w *Writer) gc(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -w.keepDays)
	cutoffDay := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, w.location)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn(ctx, "run log gc failed to read dir", "dir", w.dir, "err", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		day, ok := parseDay(name)
		if !ok {
			continue
		}
		fileDay, err := time.ParseInLocation("20060102", day, w.location)
		if err != nil {
			continue
		}
		if fileDay.Before(cutoffDay) {
			if err := os.Remove(filepath.Join(w.dir, name)); err != nil {
				logger.Warn(ctx, "run log gc failed to remove file", "file", name, "err", err)
			}
		}
	}
}

// parseDay extracts YYYYMMDD from run_YYYYMMDD.out.log / run_YYYYMMDD.err.log.
func parseDay(name string) (string, bool) {
	if !strings.HasPrefix(name, "run_") || !strings.HasSuffix(name, ".log") {
		return "", false
	}
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return "", false
	}
	return strings.TrimPrefix(parts[0], "run_"), true
}
