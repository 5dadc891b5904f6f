package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rudenavuud/agent-gate/internal/config"
	"github.com/rudenavuud/agent-gate/internal/provider"
)

type stubProvider struct{}

func (stubProvider) ParseReference(reference string) (provider.Reference, error) {
	return provider.Reference{Container: "pub", Item: "k", Field: "f"}, nil
}
func (stubProvider) Fetch(ctx context.Context, reference string, elevated bool) (string, error) {
	return "v", nil
}
func (stubProvider) Validate(ctx context.Context) error { return nil }

func init() {
	provider.Register("stub-for-app-test", func(map[string]interface{}) (provider.Provider, error) {
		return stubProvider{}, nil
	})
}

func dialWithRetry(t *testing.T, path string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %q: %v", path, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAppRunServesPingOverTransport(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		TransportPath:  filepath.Join(dir, "agent-gate.sock"),
		PIDFile:        filepath.Join(dir, "agent-gate.pid"),
		AuditLogPath:   filepath.Join(dir, "audit.jsonl"),
		PendingDropDir: dir,
		OpenContainers: []string{"pub"},
		Provider:       config.NamedConfig{Name: "stub-for-app-test"},
	}

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx) }()

	conn := dialWithRetry(t, cfg.TransportPath)
	defer conn.Close()

	fmt.Fprintf(conn, `{"action":"ping"}`+"\n")
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if _, err := os.Stat(cfg.PIDFile); err != nil {
		t.Fatalf("expected pid file to exist: %v", err)
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, err := os.Stat(cfg.PIDFile); !os.IsNotExist(err) {
		t.Fatal("expected pid file to be removed after shutdown")
	}
}

func TestAppNewFailsOnUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		TransportPath: filepath.Join(dir, "agent-gate.sock"),
		AuditLogPath:  filepath.Join(dir, "audit.jsonl"),
		Provider:      config.NamedConfig{Name: "no-such-provider"},
	}

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
