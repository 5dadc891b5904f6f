// Package fspoll implements the broker's filesystem callback ingress: a
// pending drop directory scanned on a fixed interval for
// "<requestId>.json" files, each carrying {"approved": bool}. The file
// is unlinked before the resolver is called — the unlink is the commit
// point, so a crash between unlink and resolve simply loses that one
// resolution rather than replaying it. A time.Ticker drives a bounded
// per-tick scan against a shutdown context.
package fspoll

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Interval is the directory-poll cadence: a fixed design constant, not
// tunable.
const Interval = 500 * time.Millisecond

// Resolver is the minimal surface the poller needs from the broker.
type Resolver interface {
	HandleCallback(id string, approved bool) bool
	PendingIDs() []string
}

type dropFile struct {
	Approved bool `json:"approved"`
}

// Poller scans dir for drop files on Interval.
type Poller struct {
	dir      string
	resolver Resolver

	mu   sync.Mutex
	done chan struct{}
}

// New constructs a Poller watching dir (not yet started).
func New(dir string, resolver Resolver) *Poller {
	return &Poller{dir: dir, resolver: resolver}
}

// Start begins scanning in the background until ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.scanOnce()
			}
		}
	}()
}

// Stop blocks until the background scan loop has exited. Callers
// typically cancel the context passed to Start and then call Stop to
// join the goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// scanOnce performs a single directory pass, resolving every drop file
// whose name matches a currently pending id. Files naming unknown ids
// are left in place — an external agent may still be racing to write
// them.
func (p *Poller) scanOnce() {
	pending := make(map[string]bool)
	for _, id := range p.resolver.PendingIDs() {
		pending[id] = true
	}
	if len(pending) == 0 {
		return
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		slog.Warn("fspoll: read dir failed", "dir", p.dir, "err", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if !pending[id] {
			continue
		}
		p.handleFile(filepath.Join(p.dir, name), id)
	}
}

func (p *Poller) handleFile(path, id string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Racing writer or racing unlink by another scan; leave it for
		// the next tick.
		return
	}

	var drop dropFile
	if err := json.Unmarshal(raw, &drop); err != nil {
		slog.Warn("fspoll: malformed drop file left in place", "path", path, "err", err)
		return
	}

	// Unlink is the commit point: it must happen before resolve so the
	// file never lingers after the request completes.
	if err := os.Remove(path); err != nil {
		slog.Warn("fspoll: failed to remove drop file", "path", path, "err", err)
		return
	}

	if !p.resolver.HandleCallback(id, drop.Approved) {
		slog.Warn("fspoll: drop file resolved to an id no longer pending", "id", id)
	}
}
