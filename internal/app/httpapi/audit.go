package httpapi

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/codeway/config-service/internal/logging"
)

const (
	auditActionUpdate   = "config_update"
	auditActionConflict = "config_update_conflict"

	defaultAuditCapacity = 200
)

// AuditEntry records one admin write attempt against the configuration.
type AuditEntry struct {
	Time    time.Time `json:"time"`
	User    string    `json:"user"`
	Email   string    `json:"email,omitempty"`
	Action  string    `json:"action"`
	Details string    `json:"details,omitempty"`
}

// AuditLog keeps the most recent write attempts in a bounded ring and
// optionally appends each entry to a JSONL file.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	next    int
	full    bool

	sink *os.File
	log  *logging.Logger
}

// NewAuditLog creates an audit log with the given ring capacity. When
// filePath is non-empty, entries are also appended to that file.
func NewAuditLog(capacity int, filePath string, log *logging.Logger) (*AuditLog, error) {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	if log == nil {
		log = logging.NewDefault("audit")
	}
	a := &AuditLog{entries: make([]AuditEntry, capacity), log: log}
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		a.sink = f
	}
	return a, nil
}

// Record stores an entry in the ring and forwards it to the file sink.
func (a *AuditLog) Record(entry AuditEntry) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.entries[a.next] = entry
	a.next++
	if a.next == len(a.entries) {
		a.next = 0
		a.full = true
	}
	sink := a.sink
	a.mu.Unlock()

	if sink != nil {
		line, err := json.Marshal(entry)
		if err == nil {
			line = append(line, '\n')
			_, err = sink.Write(line)
		}
		if err != nil {
			a.log.WithError(err).Warn("write audit entry")
		}
	}
}

// ListLimit returns the most recent entries, newest first. A limit of zero
// returns every retained entry.
func (a *AuditLog) ListLimit(limit int) []AuditEntry {
	if a == nil {
		return []AuditEntry{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	count := a.next
	if a.full {
		count = len(a.entries)
	}
	out := make([]AuditEntry, 0, count)
	for i := 0; i < count; i++ {
		idx := (a.next - 1 - i + len(a.entries)) % len(a.entries)
		out = append(out, a.entries[idx])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Close releases the file sink if one was configured.
func (a *AuditLog) Close() error {
	if a == nil || a.sink == nil {
		return nil
	}
	return a.sink.Close()
}
