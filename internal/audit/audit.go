// Package audit persists an append-only trail of job lifecycle events as
// JSON lines in a single file shared by all jobs across process restarts.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gitmine/gitmine/internal/model"
)

// Log appends entries to a single JSONL file. Writes are serialized by a
// mutex so concurrent supervisors never interleave within a line.
type Log struct {
	mx   sync.Mutex
	path string
}

func New(path string) *Log {
	return &Log{path: path}
}

func (l *Log) Path() string {
	return l.path
}

// Append writes one entry as a JSON line. The file is created on first use.
func (l *Log) Append(entry model.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}

	l.mx.Lock()
	defer l.mx.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating audit log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Tail returns the most recent n entries in stored order. Malformed lines
// are skipped, so a partially corrupted log still yields the readable rest.
// A missing file is an empty log, not an error.
func (l *Log) Tail(n int) ([]model.AuditEntry, error) {
	l.mx.Lock()
	defer l.mx.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var entries []model.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry model.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		// surface what was read so far as a partial result
		return tail(entries, n), fmt.Errorf("reading audit log: %w", err)
	}
	return tail(entries, n), nil
}

func tail(entries []model.AuditEntry, n int) []model.AuditEntry {
	if n >= 0 && len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}
