// Package auditlog appends tamper-evident JSONL audit records for every
// broker decision point. Writes never fail the caller: a write error is
// mirrored to stderr with an audit-loss marker instead of being returned.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rudenavuud/agent-gate/common/redact"
	"github.com/rudenavuud/agent-gate/common/trace"
)

// Record is one audit line. Fields carries whatever the call site wants
// alongside Action and Result (requestId, container, item, field,
// reason, message, …).
type Record struct {
	Timestamp string                 `json:"timestamp"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result,omitempty"`
	TraceID   string                 `json:"traceId,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink is the append-only audit writer. One Sink per broker process,
// guarding the underlying file with a mutex so lines never interleave.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens (creating if needed) the JSONL file at path for appending.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	return &Sink{file: f, path: path}, nil
}

// Close closes the underlying file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Append writes one audit record as a JSON line. If rec.Timestamp is
// unset, the current UTC time is injected. If rec.TraceID is unset, it is
// filled from ctx via common/trace, when present.
//
// Append never returns an error to signal failure back up the call chain;
// it always succeeds from the caller's point of view. Genuine write
// failures are mirrored to stderr prefixed with "AUDIT LOSS:" so an
// operator tailing stderr still sees the record.
func (s *Sink) Append(ctx context.Context, rec Record) {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if rec.TraceID == "" {
		rec.TraceID = trace.FromContext(ctx)
	}
	if rec.Fields != nil {
		rec.Fields = redact.Map(rec.Fields)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "AUDIT LOSS: failed to marshal record: %v (action=%s)\n", err, rec.Action)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		fmt.Fprintf(os.Stderr, "AUDIT LOSS: sink closed: %s\n", line)
		return
	}

	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		fmt.Fprintf(os.Stderr, "AUDIT LOSS: write to %s failed: %v: %s\n", s.path, err, line)
	}
}
