// Package registry implements the pending-request registry: the
// central map of outstanding gated approvals, each with a per-request
// deadline timer and a one-shot resolver. It is the single rendezvous
// that all three callback ingresses (HTTP, filesystem poller, and any
// future tailer-fed ingress) converge on.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Outcome distinguishes why a pending request was resolved.
type Outcome int

const (
	// OutcomeApproved means an operator approved the request.
	OutcomeApproved Outcome = iota
	// OutcomeDenied means an operator denied the request.
	OutcomeDenied
	// OutcomeTimeout means the deadline elapsed with no callback.
	OutcomeTimeout
	// OutcomeShutdown means the broker is tearing down with the request
	// still pending.
	OutcomeShutdown
)

// Resolution is delivered exactly once to the goroutine waiting on a
// pending entry's Done channel.
type Resolution struct {
	Outcome  Outcome
	Approved bool
}

// entry is one outstanding approval. resolved guards against a second
// send on done once the timer and a callback race each other.
type entry struct {
	done     chan Resolution
	timer    *time.Timer
	resolved bool
}

// Registry is a sync.Mutex-guarded map of pending entries. The zero value
// is not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// NewID mints a new pending-request identifier: a 64-bit random value
// rendered as 16 lowercase hex characters.
func NewID() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// Register creates a pending entry for id with the given deadline and
// returns a channel that receives exactly one Resolution: either from an
// explicit Resolve call, or from internal timeout firing once the
// deadline elapses.
//
// Register panics if id is already registered; callers are expected to
// mint ids via NewID, which makes collision astronomically unlikely, but
// a collision is a programming error worth surfacing loudly rather than
// silently clobbering an in-flight request.
func (r *Registry) Register(id string, deadline time.Time) <-chan Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		panic(fmt.Sprintf("registry: id %q already registered", id))
	}

	e := &entry{done: make(chan Resolution, 1)}
	r.entries[id] = e

	e.timer = time.AfterFunc(time.Until(deadline), func() {
		r.resolveLocked(id, Resolution{Outcome: OutcomeTimeout, Approved: false})
	})

	return e.done
}

// Resolve wakes the waiter registered under id with the given approval
// outcome, and reports whether a waiter actually existed (true) or the id
// was already resolved or never registered (false, a silent no-op).
//
// Resolve is idempotent: the second call for an id that has already fired
// (via a prior Resolve or via timeout) observes no entry and returns
// false, satisfying the exactly-once invariant even under simultaneous
// timer and callback firings.
func (r *Registry) Resolve(id string, approved bool) bool {
	outcome := OutcomeDenied
	if approved {
		outcome = OutcomeApproved
	}
	return r.resolveLocked(id, Resolution{Outcome: outcome, Approved: approved})
}

func (r *Registry) resolveLocked(id string, res Resolution) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.resolved {
		return false
	}

	// Removed before the resolver fires, so a concurrent Resolve/timeout
	// racing in sees no entry rather than a half-resolved one.
	e.resolved = true
	delete(r.entries, id)
	e.timer.Stop()
	e.done <- res
	return true
}

// Cancel removes a pending entry and stops its timer without firing its
// resolver; a waiter on that entry's channel is never woken. Unknown ids
// are ignored.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)
	e.timer.Stop()
}

// ResolveAllShutdown resolves every currently pending id with
// OutcomeShutdown/approved=false, for use during graceful teardown. It
// returns the ids that were resolved.
func (r *Registry) ResolveAllShutdown() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	resolved := make([]string, 0, len(ids))
	for _, id := range ids {
		if r.resolveLocked(id, Resolution{Outcome: OutcomeShutdown, Approved: false}) {
			resolved = append(resolved, id)
		}
	}
	return resolved
}

// Snapshot returns the number of currently pending requests.
func (r *Registry) Snapshot() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PendingIDs returns the ids currently registered and awaiting
// resolution. Used by the filesystem poller to decide which drop files
// it may safely unlink; files referring to unknown ids are left in
// place.
func (r *Registry) PendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
