// Package broker implements the request orchestrator: the central
// decision tree that classifies a secret request, consults the
// standing-approval matcher and cache, fans approval prompts out to
// channels, suspends on the pending-request registry, and interacts with
// the provider to fetch the final value — all while emitting audit
// events in causal order. One struct holds every collaborator, with one
// exported entry point per external action.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rudenavuud/agent-gate/common/retry"
	"github.com/rudenavuud/agent-gate/internal/auditlog"
	"github.com/rudenavuud/agent-gate/internal/cache"
	"github.com/rudenavuud/agent-gate/internal/channel"
	"github.com/rudenavuud/agent-gate/internal/provider"
	"github.com/rudenavuud/agent-gate/internal/registry"
	"github.com/rudenavuud/agent-gate/internal/standing"
)

// fetchRetry bounds retries of a provider fetch to transient backend
// hiccups (a flaky vault connection); it never masks a caller-facing
// failure beyond a few hundred milliseconds of extra latency.
// ShouldRetry excludes provider.ErrNotFound so a definite miss returns
// immediately instead of burning three attempts of backoff on a value
// that will never appear.
var fetchRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     time.Second,
	ShouldRetry: func(err error) bool {
		return !errors.Is(err, provider.ErrNotFound)
	},
}

// fetch wraps provider.Fetch with a short exponential-backoff retry,
// since the supported providers (e.g. sqlitevault) may see transient
// lock-contention errors under concurrent access.
func (b *Broker) fetch(ctx context.Context, reference string, elevated bool) (string, error) {
	var value string
	err := retry.Do(ctx, fetchRetry, func() error {
		v, err := b.provider.Fetch(ctx, reference, elevated)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// ReadRequest is the decoded "read" action payload.
type ReadRequest struct {
	Reference string
	Reason    string
}

// namedChannel pairs a configured Channel with the name it was
// registered under, used for audit records and the status action.
type namedChannel struct {
	name string
	ch   channel.Channel
}

// Broker holds every collaborator the orchestrator needs and exposes the
// two entry points external ingresses call: Read (from the local
// transport) and HandleCallback (the single rendezvous for all three
// callback ingresses).
type Broker struct {
	registry     *registry.Registry
	cache        *cache.Cache
	matcher      *standing.Matcher
	audit        *auditlog.Sink
	provider     provider.Provider
	providerName string
	channels     []namedChannel

	open  map[string]bool
	gated map[string]bool

	approvalTimeout time.Duration

	startedAt time.Time

	handlesMu sync.Mutex
	handles   map[string][]channelHandle // requestId -> outstanding message handles, for updateOutcome
}

type channelHandle struct {
	channelName string
	ch          channel.Channel
	handle      string
}

// Config bundles the orchestrator's static configuration: which
// containers are open vs. gated (matched case-insensitively) and the
// approval timeout applied to newly registered pending requests.
type Config struct {
	OpenContainers  []string
	GatedContainers []string
	ApprovalTimeout time.Duration
}

// New constructs a Broker from its collaborators.
func New(
	reg *registry.Registry,
	c *cache.Cache,
	matcher *standing.Matcher,
	audit *auditlog.Sink,
	prov provider.Provider,
	providerName string,
	channels map[string]channel.Channel,
	cfg Config,
) *Broker {
	open := make(map[string]bool, len(cfg.OpenContainers))
	for _, c := range cfg.OpenContainers {
		open[strings.ToLower(c)] = true
	}
	gated := make(map[string]bool, len(cfg.GatedContainers))
	for _, c := range cfg.GatedContainers {
		gated[strings.ToLower(c)] = true
	}

	named := make([]namedChannel, 0, len(channels))
	for name, ch := range channels {
		named = append(named, namedChannel{name: name, ch: ch})
	}

	return &Broker{
		registry:        reg,
		cache:           c,
		matcher:         matcher,
		audit:           audit,
		provider:        prov,
		providerName:    providerName,
		channels:        named,
		open:            open,
		gated:           gated,
		approvalTimeout: cfg.ApprovalTimeout,
		startedAt:       time.Now(),
		handles:         make(map[string][]channelHandle),
	}
}

// ChannelNames returns the configured channel names, for the status
// action.
func (b *Broker) ChannelNames() []string {
	names := make([]string, 0, len(b.channels))
	for _, nc := range b.channels {
		names = append(names, nc.name)
	}
	return names
}

// Pending returns the number of currently pending requests.
func (b *Broker) Pending() int {
	return b.registry.Snapshot()
}

// PendingIDs returns the ids currently awaiting resolution, for the
// filesystem poller to check drop files against before unlinking them.
func (b *Broker) PendingIDs() []string {
	return b.registry.PendingIDs()
}

// CacheSize returns the number of entries currently in the value cache.
func (b *Broker) CacheSize() int {
	return b.cache.Size()
}

// Uptime returns how long this Broker has been running.
func (b *Broker) Uptime() time.Duration {
	return time.Since(b.startedAt)
}

var (
	// errInvalidURI is returned when the provider cannot parse the
	// reference.
	errInvalidURI = errors.New("Invalid URI")
	// errReasonRequired is returned when a gated read arrives without a
	// reason.
	errReasonRequired = errors.New("Reason is REQUIRED for gated containers")
	// errContainerNotConfigured is returned for unknown containers.
	errContainerNotConfigured = errors.New("container is not configured")
	// errDenied is the exact message surfaced on explicit denial.
	errDenied = errors.New("Request denied by operator")
	// errNoChannelSucceeded is returned when every configured channel
	// failed to deliver a prompt.
	errNoChannelSucceeded = errors.New("Failed to send approval request to any channel")
)

// Read is the sole entry point the local transport's "read" action calls.
// It walks the full classify/cache/standing-approval/prompt/wait decision
// tree for a single secret reference.
func (b *Broker) Read(ctx context.Context, req ReadRequest) (string, error) {
	ref, err := b.provider.ParseReference(req.Reference)
	if err != nil {
		return "", errInvalidURI
	}
	container := strings.ToLower(ref.Container)

	switch {
	case b.open[container]:
		return b.readOpen(ctx, req.Reference)
	case b.gated[container]:
		return b.readGated(ctx, req.Reference, ref, req.Reason)
	default:
		return "", fmt.Errorf("%w: %q", errContainerNotConfigured, ref.Container)
	}
}

func (b *Broker) readOpen(ctx context.Context, reference string) (string, error) {
	value, err := b.fetch(ctx, reference, false)
	if err != nil {
		b.audit.Append(ctx, auditlog.Record{Action: "read_error", Fields: map[string]interface{}{
			"reference": reference, "message": err.Error(),
		}})
		return "", fmt.Errorf("read_error: %w", err)
	}

	b.audit.Append(ctx, auditlog.Record{Action: "read", Result: "allowed", Fields: map[string]interface{}{
		"reference": reference,
	}})
	return value, nil
}

func (b *Broker) readGated(ctx context.Context, reference string, ref provider.Reference, reason string) (string, error) {
	if strings.TrimSpace(reason) == "" {
		return "", errReasonRequired
	}

	if rule, ok := b.matcher.Match(ref.Item, reason); ok {
		return b.readStandingApproved(ctx, reference, rule, reason)
	}

	if value, ok := b.cache.Lookup(reference); ok {
		b.audit.Append(ctx, auditlog.Record{Action: "read", Result: "cache_hit", Fields: map[string]interface{}{
			"reference": reference,
		}})
		return value, nil
	}

	return b.readApprovalPath(ctx, reference, ref, reason)
}

func (b *Broker) readStandingApproved(ctx context.Context, reference string, rule standing.Rule, reason string) (string, error) {
	b.audit.Append(ctx, auditlog.Record{Action: "read", Result: "standing_approval", Fields: map[string]interface{}{
		"reference": reference, "item": rule.Item, "reason": reason, "note": rule.Note,
	}})

	value, err := b.fetch(ctx, reference, true)
	if err != nil {
		b.audit.Append(ctx, auditlog.Record{Action: "read_error", Fields: map[string]interface{}{
			"reference": reference, "message": err.Error(),
		}})
		return "", fmt.Errorf("read_error: %w", err)
	}

	b.audit.Append(ctx, auditlog.Record{Action: "read", Result: "standing_approved_read", Fields: map[string]interface{}{
		"reference": reference,
	}})
	return value, nil
}

func (b *Broker) readApprovalPath(ctx context.Context, reference string, ref provider.Reference, reason string) (string, error) {
	id, err := registry.NewID()
	if err != nil {
		return "", fmt.Errorf("mint request id: %w", err)
	}

	b.audit.Append(ctx, auditlog.Record{Action: "request", Result: "pending", Fields: map[string]interface{}{
		"requestId": id, "reference": reference, "reason": reason,
	}})

	handles := b.sendPrompts(ctx, id, ref, reason)
	if len(b.channels) > 0 && len(handles) == 0 {
		return "", errNoChannelSucceeded
	}

	b.handlesMu.Lock()
	b.handles[id] = handles
	b.handlesMu.Unlock()

	deadline := time.Now().Add(b.approvalTimeout)
	done := b.registry.Register(id, deadline)

	res := <-done

	b.handlesMu.Lock()
	finalHandles := b.handles[id]
	delete(b.handles, id)
	b.handlesMu.Unlock()

	switch res.Outcome {
	case registry.OutcomeApproved:
		return b.onApproved(ctx, reference, finalHandles, ref)
	case registry.OutcomeDenied:
		return b.onDenied(ctx, finalHandles, ref)
	case registry.OutcomeTimeout:
		return b.onTimeout(ctx, finalHandles, ref)
	case registry.OutcomeShutdown:
		// Shutdown denies without notifying channels.
		return b.onDenied(ctx, nil, ref)
	default:
		return "", fmt.Errorf("unexpected resolution outcome %v", res.Outcome)
	}
}

func (b *Broker) sendPrompts(ctx context.Context, id string, ref provider.Reference, reason string) []channelHandle {
	handles := make([]channelHandle, 0, len(b.channels))
	for _, nc := range b.channels {
		handle, err := nc.ch.SendPrompt(ctx, channel.Prompt{
			RequestID: id, Item: ref.Item, Field: ref.Field, Container: ref.Container, Reason: reason,
		})
		if err != nil {
			b.audit.Append(ctx, auditlog.Record{Action: "channel_error", Fields: map[string]interface{}{
				"requestId": id, "channel": nc.name, "message": err.Error(),
			}})
			slog.Warn("broker: channel send failed", "channel", nc.name, "requestId", id, "err", err)
			continue
		}
		handles = append(handles, channelHandle{channelName: nc.name, ch: nc.ch, handle: handle})
	}
	return handles
}

func (b *Broker) updateOutcomes(ctx context.Context, handles []channelHandle, ref provider.Reference, approved bool) {
	for _, h := range handles {
		if err := h.ch.UpdateOutcome(ctx, h.handle, channel.Outcome{
			Item: ref.Item, Field: ref.Field, Container: ref.Container, Approved: approved,
		}); err != nil {
			slog.Warn("broker: updateOutcome failed", "channel", h.channelName, "err", err)
		}
	}
}

func (b *Broker) onApproved(ctx context.Context, reference string, handles []channelHandle, ref provider.Reference) (string, error) {
	b.audit.Append(ctx, auditlog.Record{Action: "approved", Fields: map[string]interface{}{
		"reference": reference,
	}})
	b.updateOutcomes(ctx, handles, ref, true)

	value, err := b.fetch(ctx, reference, true)
	if err != nil {
		b.audit.Append(ctx, auditlog.Record{Action: "read_error", Fields: map[string]interface{}{
			"reference": reference, "message": err.Error(),
		}})
		return "", fmt.Errorf("read_error: %w", err)
	}

	b.cache.Store(reference, value)
	b.audit.Append(ctx, auditlog.Record{Action: "read", Result: "approved_read", Fields: map[string]interface{}{
		"reference": reference,
	}})
	return value, nil
}

func (b *Broker) onDenied(ctx context.Context, handles []channelHandle, ref provider.Reference) (string, error) {
	b.audit.Append(ctx, auditlog.Record{Action: "denied", Fields: map[string]interface{}{
		"item": ref.Item, "container": ref.Container,
	}})
	b.updateOutcomes(ctx, handles, ref, false)
	return "", errDenied
}

func (b *Broker) onTimeout(ctx context.Context, handles []channelHandle, ref provider.Reference) (string, error) {
	b.updateOutcomes(ctx, handles, ref, false)
	b.audit.Append(ctx, auditlog.Record{Action: "timeout", Fields: map[string]interface{}{
		"item": ref.Item, "container": ref.Container, "timeoutMillis": b.approvalTimeout.Milliseconds(),
	}})
	return "", fmt.Errorf("request timed out after %s", b.approvalTimeout)
}

// HandleCallback is the single rendezvous all three callback ingresses
// (HTTP, filesystem poller, and any future tailer-fed ingress) call to
// resolve a pending request. It returns true iff a waiter actually
// existed for id — a second resolution attempt, or one for an unknown
// id, is a silent no-op, never an error.
func (b *Broker) HandleCallback(id string, approved bool) bool {
	return b.registry.Resolve(id, approved)
}

// Shutdown resolves every pending request as denied without notifying
// channels and audits daemon_stop.
func (b *Broker) Shutdown(ctx context.Context) []string {
	resolved := b.registry.ResolveAllShutdown()
	b.audit.Append(ctx, auditlog.Record{Action: "daemon_stop", Fields: map[string]interface{}{
		"resolvedPending": resolved,
	}})
	return resolved
}
