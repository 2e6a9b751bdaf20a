package pcap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Writer persists records to a directory with deterministic file names.
//
// The file name is derived from (step_id, action) only, so writing the same
// pair twice overwrites the earlier record instead of silently duplicating
// it. This is deliberate: a re-executed step supersedes its previous record,
// and the audit manifest must never package two artifacts for one step.
type Writer struct {
	dir string

	mu      sync.Mutex
	written map[string]struct{}
	count   int
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pcap: create dir: %w", err)
	}
	return &Writer{dir: dir, written: make(map[string]struct{})}, nil
}

// Write serializes the record and persists it, returning the file path.
func (w *Writer) Write(r *Record, stepID, action string) (string, error) {
	name := fmt.Sprintf("pcap_%s_%s.json", slug(stepID), slug(action))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("pcap: marshal record: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("pcap: write %s: %w", name, err)
	}

	w.mu.Lock()
	if _, seen := w.written[name]; !seen {
		w.written[name] = struct{}{}
		w.count++
	}
	w.mu.Unlock()
	return path, nil
}

// Count returns the number of distinct records persisted.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Paths returns the paths of all persisted records, for manifest building.
func (w *Writer) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.written))
	for name := range w.written {
		paths = append(paths, filepath.Join(w.dir, name))
	}
	return paths
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
