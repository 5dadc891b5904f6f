package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const validDoc = `
transportPath: /tmp/agent-gate.sock
httpPort: 8765
pidFile: /tmp/agent-gate.pid
auditLogPath: /tmp/audit.jsonl
pendingDropDir: /tmp/pending
cacheTtlMillis: 60000
approvalTimeoutMillis: 120000
openContainers: ["pub"]
gatedContainers: ["sec"]
standingRules:
  - item: cron-key
    reasonMatch: "cron:*"
provider:
  name: sqlitevault
  config:
    path: /tmp/vault.sqlite
channels:
  ops:
    name: matrix
    config:
      homeserver: https://example.org
`

func TestLoadValidDocument(t *testing.T) {
	path := writeConfig(t, validDoc)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TransportPath != "/tmp/agent-gate.sock" {
		t.Errorf("unexpected transport path: %q", cfg.TransportPath)
	}
	if cfg.CacheTTL().Seconds() != 60 {
		t.Errorf("unexpected cache ttl: %v", cfg.CacheTTL())
	}
	if cfg.Provider.Name != "sqlitevault" {
		t.Errorf("unexpected provider name: %q", cfg.Provider.Name)
	}
}

func TestLoadRejectsMissingProvider(t *testing.T) {
	path := writeConfig(t, `
transportPath: /tmp/agent-gate.sock
pidFile: /tmp/agent-gate.pid
auditLogPath: /tmp/audit.jsonl
pendingDropDir: /tmp/pending
provider:
  name: ""
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing provider name")
	}
}

func TestLoadRejectsGatedWithoutChannels(t *testing.T) {
	path := writeConfig(t, `
transportPath: /tmp/agent-gate.sock
pidFile: /tmp/agent-gate.pid
auditLogPath: /tmp/audit.jsonl
pendingDropDir: /tmp/pending
gatedContainers: ["sec"]
provider:
  name: sqlitevault
  config:
    path: /tmp/vault.sqlite
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for gated containers with no channels")
	}
}

func TestLoadRejectsStandingRuleMissingFields(t *testing.T) {
	path := writeConfig(t, `
transportPath: /tmp/agent-gate.sock
pidFile: /tmp/agent-gate.pid
auditLogPath: /tmp/audit.jsonl
pendingDropDir: /tmp/pending
standingRules:
  - item: cron-key
provider:
  name: sqlitevault
  config:
    path: /tmp/vault.sqlite
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for standing rule missing reasonMatch")
	}
}

func TestLoadRejectsApprovalTimeoutBelowMinimum(t *testing.T) {
	path := writeConfig(t, `
transportPath: /tmp/agent-gate.sock
pidFile: /tmp/agent-gate.pid
auditLogPath: /tmp/audit.jsonl
pendingDropDir: /tmp/pending
approvalTimeoutMillis: 500
provider:
  name: sqlitevault
  config:
    path: /tmp/vault.sqlite
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for approval timeout below the 10s minimum")
	}
}

func TestLoadRejectsOmittedApprovalTimeout(t *testing.T) {
	path := writeConfig(t, `
transportPath: /tmp/agent-gate.sock
pidFile: /tmp/agent-gate.pid
auditLogPath: /tmp/audit.jsonl
pendingDropDir: /tmp/pending
provider:
  name: sqlitevault
  config:
    path: /tmp/vault.sqlite
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for omitted approvalTimeoutMillis")
	}
}

func TestEnvOverrideTransportPath(t *testing.T) {
	path := writeConfig(t, validDoc)
	t.Setenv(EnvTransportPath, "/tmp/override.sock")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TransportPath != "/tmp/override.sock" {
		t.Fatalf("expected env override, got %q", cfg.TransportPath)
	}
}

func TestResolveConfigPathUsesEnvOverride(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/agent-gate/custom.yaml")
	if got := ResolveConfigPath("/etc/agent-gate/config.yaml"); got != "/etc/agent-gate/custom.yaml" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveConfigPathDefaultsWhenUnset(t *testing.T) {
	if got := ResolveConfigPath("/etc/agent-gate/config.yaml"); got != "/etc/agent-gate/config.yaml" {
		t.Fatalf("got %q", got)
	}
}
