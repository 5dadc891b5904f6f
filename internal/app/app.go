// Package app wires the broker's collaborators into a running process:
// load configuration, construct the provider/channels/broker, start the
// HTTP and filesystem callback ingresses and the local transport, write/remove the PID
// file, and resolve any still-pending requests as denied on shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rudenavuud/agent-gate/common/version"
	"github.com/rudenavuud/agent-gate/internal/auditlog"
	"github.com/rudenavuud/agent-gate/internal/broker"
	"github.com/rudenavuud/agent-gate/internal/cache"
	"github.com/rudenavuud/agent-gate/internal/callback/fspoll"
	"github.com/rudenavuud/agent-gate/internal/callback/httpcb"
	"github.com/rudenavuud/agent-gate/internal/channel"
	"github.com/rudenavuud/agent-gate/internal/config"
	"github.com/rudenavuud/agent-gate/internal/provider"
	"github.com/rudenavuud/agent-gate/internal/registry"
	"github.com/rudenavuud/agent-gate/internal/standing"
	"github.com/rudenavuud/agent-gate/internal/transport"

	_ "github.com/rudenavuud/agent-gate/internal/channel/matrixchannel"
	_ "github.com/rudenavuud/agent-gate/internal/provider/sqlitevault"
)

// App is the running broker process: every collaborator plus the
// listeners wired around it.
type App struct {
	cfg *config.Config

	audit   *auditlog.Sink
	broker  *broker.Broker
	transp  *transport.Server
	httpSrv *httpcb.Server
	poller  *fspoll.Poller

	cancel context.CancelFunc
}

// New loads cfg's collaborators (provider, channels, registry, cache,
// standing matcher, audit sink) and wires them into a Broker plus its
// listeners. The provider is validated immediately; a failure here is
// fatal — the process exits non-zero naming the provider.
func New(cfg *config.Config) (*App, error) {
	audit, err := auditlog.Open(cfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("app: open audit log: %w", err)
	}

	prov, err := provider.New(cfg.Provider.Name, cfg.Provider.Config)
	if err != nil {
		audit.Close()
		return nil, fmt.Errorf("app: construct provider %q: %w", cfg.Provider.Name, err)
	}
	if err := prov.Validate(context.Background()); err != nil {
		audit.Close()
		return nil, fmt.Errorf("app: provider %q failed validation: %w", cfg.Provider.Name, err)
	}

	channels := make(map[string]channel.Channel, len(cfg.Channels))
	for name, chCfg := range cfg.Channels {
		ch, err := channel.New(chCfg.Name, chCfg.Config)
		if err != nil {
			audit.Close()
			return nil, fmt.Errorf("app: construct channel %q (%s): %w", name, chCfg.Name, err)
		}
		if err := ch.Validate(context.Background()); err != nil {
			audit.Close()
			return nil, fmt.Errorf("app: channel %q (%s) failed validation: %w", name, chCfg.Name, err)
		}
		channels[name] = ch
	}

	b := broker.New(
		registry.New(),
		cache.New(cfg.CacheTTL()),
		standing.New(cfg.StandingRules),
		audit,
		prov,
		cfg.Provider.Name,
		channels,
		broker.Config{
			OpenContainers:  cfg.OpenContainers,
			GatedContainers: cfg.GatedContainers,
			ApprovalTimeout: cfg.ApprovalTimeout(),
		},
	)

	transp := transport.New(cfg.TransportPath, b.Dispatch)

	var httpSrv *httpcb.Server
	if cfg.HTTPPort != 0 {
		httpSrv = httpcb.New(fmt.Sprintf(":%d", cfg.HTTPPort), b)
	}

	poller := fspoll.New(cfg.PendingDropDir, b)

	return &App{
		cfg:     cfg,
		audit:   audit,
		broker:  b,
		transp:  transp,
		httpSrv: httpSrv,
		poller:  poller,
	}, nil
}

// Run starts every listener, writes the PID file, and blocks until
// SIGINT/SIGTERM or ctx is cancelled, resolving pending requests as
// denied and exiting 0 before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	a.audit.Append(ctx, auditlog.Record{Action: "daemon_start", Fields: map[string]interface{}{
		"version": version.Version,
	}})

	writePIDFile(a.cfg.PIDFile)
	defer removePIDFile(a.cfg.PIDFile)

	if err := a.transp.Start(ctx); err != nil {
		return fmt.Errorf("app: start transport: %w", err)
	}

	if a.httpSrv != nil {
		if err := a.httpSrv.Start(ctx); err != nil {
			slog.Warn("app: http callback server failed to start; continuing without it", "err", err)
		}
	}

	a.poller.Start(ctx)

	slog.Info("agent-gate broker running", "version", version.Version, "transport", a.cfg.TransportPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("app: shutdown signal received")
	case <-ctx.Done():
	}

	a.Stop()
	return nil
}

// Stop resolves every pending request as denied, audits daemon_stop, and
// tears down the listeners. Safe to call more than once.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}

	resolved := a.broker.Shutdown(context.Background())
	slog.Info("app: resolved pending requests on shutdown", "count", len(resolved))

	a.transp.Stop()
	if a.httpSrv != nil {
		a.httpSrv.Stop()
	}
	a.poller.Stop()
	a.audit.Close()
}

func writePIDFile(path string) {
	if path == "" {
		return
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0644); err != nil {
		slog.Warn("app: failed to write pid file", "path", path, "err", err)
	}
}

func removePIDFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("app: failed to remove pid file", "path", path, "err", err)
	}
}
