// Package jobs holds the read-only catalogue of named argv templates loaded
// from the jobs file. The catalogue is replaced as a whole snapshot on
// reload; a failed reload keeps the last good snapshot and retains a
// diagnostic for the UI.
package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Job is one catalogue entry: a named argv template.
type Job struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Cmd   []string `json:"cmd"`
	Style string   `json:"style"`
}

// Registry is the in-memory catalogue. Reads take the lock briefly; the
// snapshot is swapped atomically under the same lock.
type Registry struct {
	path string

	mu      sync.RWMutex
	loaded  bool
	byID    map[string]*Job
	ordered []*Job
	lastErr string
}

// NewRegistry creates a registry reading from path. The file is loaded
// lazily on first access.
func NewRegistry(path string) *Registry {
	return &Registry{path: path, byID: map[string]*Job{}}
}

// Reload re-reads the jobs file and swaps in the new snapshot. On failure
// the previous snapshot is preserved and the error is retained.
func (r *Registry) Reload() error {
	if _, err := os.Stat(r.path); err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.loaded = true
		r.byID = map[string]*Job{}
		r.ordered = nil
		r.lastErr = fmt.Sprintf("jobs file not found: %s", r.path)
		return fmt.Errorf("jobs file not found: %s", r.path)
	}

	byID, ordered, err := loadFile(r.path)
	if err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.lastErr = fmt.Sprintf("failed to load jobs: %v", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = true
	r.byID = byID
	r.ordered = ordered
	r.lastErr = ""
	return nil
}

// Get returns the job with the given id, or nil.
func (r *Registry) Get(id string) *Job {
	if id == "" {
		return nil
	}
	r.ensureLoaded()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// List returns the catalogue in file order.
func (r *Registry) List() []*Job {
	r.ensureLoaded()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// LastError returns the diagnostic of the most recent failed reload, or ""
// when the catalogue is healthy.
func (r *Registry) LastError() string {
	r.ensureLoaded()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *Registry) ensureLoaded() {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		_ = r.Reload()
	}
}

// loadFile parses the jobs file: either a JSON list or {"jobs": [...]}.
// Entries lacking an id or with a non-array cmd are discarded silently.
// The [label]/[style] tokens resolve at load time.
func loadFile(path string) (map[string]*Job, []*Job, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("invalid jobs file: %w", err)
	}

	var items []json.RawMessage
	var wrapper struct {
		Jobs []json.RawMessage `json:"jobs"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Jobs != nil {
		items = wrapper.Jobs
	} else if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, fmt.Errorf("jobs file must be a list or {\"jobs\": [...]} object: %w", err)
	}

	byID := make(map[string]*Job, len(items))
	var ordered []*Job
	for _, item := range items {
		job, ok := parseEntry(item)
		if !ok {
			continue
		}
		byID[job.ID] = job
		ordered = append(ordered, job)
	}
	return byID, ordered, nil
}

// parseEntry decodes a single catalogue entry. Malformed entries (missing
// id, non-array cmd) report !ok rather than failing the whole file.
func parseEntry(raw json.RawMessage) (*Job, bool) {
	var entry struct {
		ID    string   `json:"id"`
		Label string   `json:"label"`
		Cmd   []string `json:"cmd"`
		Style string   `json:"style"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	id := entry.ID
	if id == "" {
		id = entry.Label
	}
	if id == "" || entry.Cmd == nil {
		return nil, false
	}
	cmd := make([]string, len(entry.Cmd))
	for i, token := range entry.Cmd {
		switch token {
		case "[label]", "{label}":
			cmd[i] = entry.Label
		case "[style]", "{style}":
			cmd[i] = entry.Style
		default:
			cmd[i] = token
		}
	}
	return &Job{ID: id, Label: id, Cmd: cmd}, true
}
