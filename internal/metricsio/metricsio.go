// Package metricsio appends parsed monitor samples to per-task CSV files
// and prunes rows past the retention window. Row format:
//
//	local_iso_timestamp, task_id, task_name, key, value
package metricsio

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/everping/everping/internal/fileutil"
	"github.com/everping/everping/internal/logger"
	"github.com/everping/everping/internal/outparse"
)

// Writer persists monitor metrics to the metrics directory.
type Writer struct {
	dir           string
	location      *time.Location
	retentionDays int
}

// NewWriter creates a metrics writer. retentionDays <= 0 disables pruning.
func NewWriter(dir string, location *time.Location, retentionDays int) *Writer {
	return &Writer{dir: dir, location: location, retentionDays: retentionDays}
}

// FilePath returns the CSV path for a task.
func (w *Writer) FilePath(taskID int64) string {
	return filepath.Join(w.dir, fmt.Sprintf("task_%d.csv", taskID))
}

// Append writes one row per pair and then prunes aged rows. Pruning is
// best-effort: I/O errors there are logged but never fail the run.
func (w *Writer) Append(ctx context.Context, taskID int64, taskName string, pairs []outparse.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := fileutil.EnsureDir(w.dir); err != nil {
		return err
	}

	path := w.FilePath(taskID)
	f, err := fileutil.OpenOrCreateAppendFile(path)
	if err != nil {
		return fmt.Errorf("failed to open metrics file: %w", err)
	}

	ts := time.Now().In(w.location).Format("2006-01-02T15:04:05")
	cw := csv.NewWriter(f)
	for _, pair := range pairs {
		record := []string{
			ts,
			strconv.FormatInt(taskID, 10),
			taskName,
			pair.Key,
			strconv.FormatFloat(pair.Value, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write metrics row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush metrics rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close metrics file: %w", err)
	}

	w.prune(ctx, path)
	return nil
}

// prune rewrites the file keeping only rows within the retention window.
func (w *Writer) prune(ctx context.Context, path string) {
	if w.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().In(w.location).AddDate(0, 0, -w.retentionDays)

	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		logger.Warn(ctx, "metrics prune failed to open file", "file", path, "err", err)
		return
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var kept [][]string
	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) < 4 {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02T15:04:05", record[0], w.location)
		if err != nil {
			continue
		}
		if !ts.Before(cutoff) {
			kept = append(kept, record)
		}
	}
	_ = f.Close()

	tmp := path + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec
	if err != nil {
		logger.Warn(ctx, "metrics prune failed to create temp file", "file", tmp, "err", err)
		return
	}
	cw := csv.NewWriter(out)
	if err := cw.WriteAll(kept); err != nil {
		logger.Warn(ctx, "metrics prune failed to rewrite rows", "file", tmp, "err", err)
		_ = out.Close()
		_ = os.Remove(tmp)
		return
	}
	if err := out.Close(); err != nil {
		logger.Warn(ctx, "metrics prune failed to close temp file", "file", tmp, "err", err)
		_ = os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.Warn(ctx, "metrics prune failed to replace file", "file", path, "err", err)
		_ = os.Remove(tmp)
	}
}
