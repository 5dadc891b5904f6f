// Package config loads and validates the broker's configuration
// document: a single YAML file, overridable by environment variables
// via common/environment, additionally validated against an embedded
// JSON Schema with github.com/santhosh-tekuri/jsonschema/v5.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/rudenavuud/agent-gate/common/environment"
	"github.com/rudenavuud/agent-gate/internal/standing"
)

// Config is the broker's full configuration document.
type Config struct {
	TransportPath      string             `yaml:"transportPath" json:"transportPath"`
	HTTPPort           int                `yaml:"httpPort" json:"httpPort"`
	PIDFile            string             `yaml:"pidFile" json:"pidFile"`
	AuditLogPath       string             `yaml:"auditLogPath" json:"auditLogPath"`
	PendingDropDir     string             `yaml:"pendingDropDir" json:"pendingDropDir"`
	CacheTTLMillis     int64              `yaml:"cacheTtlMillis" json:"cacheTtlMillis"`
	ApprovalTimeoutMs  int64              `yaml:"approvalTimeoutMillis" json:"approvalTimeoutMillis"`
	OpenContainers     []string           `yaml:"openContainers" json:"openContainers"`
	GatedContainers    []string           `yaml:"gatedContainers" json:"gatedContainers"`
	StandingRules      []standing.Rule    `yaml:"standingRules" json:"standingRules"`
	Provider           NamedConfig        `yaml:"provider" json:"provider"`
	Channels           map[string]Channel `yaml:"channels" json:"channels"`
}

// NamedConfig is a component selected by name plus its nested, backend
// specific configuration document.
type NamedConfig struct {
	Name   string                 `yaml:"name" json:"name"`
	Config map[string]interface{} `yaml:"config" json:"config"`
}

// Channel is one entry in the channels configuration map. The map key is
// the channel's own reference name (used in audit/status output); Name
// selects the registered Channel implementation.
type Channel struct {
	Name   string                 `yaml:"name" json:"name"`
	Config map[string]interface{} `yaml:"config" json:"config"`
}

// minApprovalTimeout is the minimum approval timeout accepted by
// configuration.
const minApprovalTimeout = 10 * time.Second

// CacheTTL returns the configured cache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMillis) * time.Millisecond
}

// ApprovalTimeout returns the configured approval timeout as a
// time.Duration.
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.ApprovalTimeoutMs) * time.Millisecond
}

// Environment variable names used to override file-based configuration.
const (
	EnvTransportPath  = "AGENT_GATE_TRANSPORT_PATH"
	EnvConfigPath     = "AGENT_GATE_CONFIG"
	EnvPendingDropDir = "AGENT_GATE_PENDING_DROP_DIR"
	EnvTailerScanDir  = "AGENT_GATE_TAILER_SCAN_DIR"
)

// Load reads and parses the YAML document at path, applies environment
// overrides, and validates it both structurally (Go-level) and against
// the embedded JSON Schema.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validateSchema(&cfg); err != nil {
		return nil, fmt.Errorf("config: schema validation: %w", err)
	}
	if err := validateSemantics(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// ResolveConfigPath determines the configuration file path: the
// EnvConfigPath override, if set, otherwise the given default.
func ResolveConfigPath(defaultPath string) string {
	return environment.StringOr(EnvConfigPath, defaultPath)
}

func applyEnvOverrides(cfg *Config) {
	cfg.TransportPath = environment.StringOr(EnvTransportPath, cfg.TransportPath)
	cfg.PendingDropDir = environment.StringOr(EnvPendingDropDir, cfg.PendingDropDir)
}

// validateSemantics enforces the Go-level rules beyond plain structural
// shape: missing provider configuration is rejected; gated containers
// configured with no channels at all are rejected; every standing rule
// must carry both item and reasonMatch.
func validateSemantics(cfg *Config) error {
	if cfg.Provider.Name == "" {
		return fmt.Errorf("provider configuration is required")
	}
	if len(cfg.GatedContainers) > 0 && len(cfg.Channels) == 0 {
		return fmt.Errorf("gated containers are configured but no channels are configured")
	}
	for i, r := range cfg.StandingRules {
		if r.Item == "" || r.ReasonMatch == "" {
			return fmt.Errorf("standing rule %d: both item and reasonMatch are required", i)
		}
	}
	if time.Duration(cfg.ApprovalTimeoutMs)*time.Millisecond < minApprovalTimeout {
		return fmt.Errorf("approvalTimeoutMillis must be at least %d", minApprovalTimeout.Milliseconds())
	}
	return nil
}

// schemaDocument is the embedded JSON Schema the parsed config is
// additionally checked against, giving malformed documents a single,
// precise validation error path independent of the Go struct tags above.
const schemaDocument = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["transportPath", "pidFile", "auditLogPath", "pendingDropDir", "provider"],
  "properties": {
    "transportPath": {"type": "string", "minLength": 1},
    "httpPort": {"type": "integer", "minimum": 0, "maximum": 65535},
    "pidFile": {"type": "string", "minLength": 1},
    "auditLogPath": {"type": "string", "minLength": 1},
    "pendingDropDir": {"type": "string", "minLength": 1},
    "cacheTtlMillis": {"type": "integer"},
    "approvalTimeoutMillis": {"type": "integer"},
    "openContainers": {"type": "array", "items": {"type": "string"}},
    "gatedContainers": {"type": "array", "items": {"type": "string"}},
    "standingRules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["item", "reasonMatch"],
        "properties": {
          "item": {"type": "string", "minLength": 1},
          "reasonMatch": {"type": "string", "minLength": 1},
          "note": {"type": "string"}
        }
      }
    },
    "provider": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "config": {"type": "object"}
      }
    },
    "channels": {"type": "object"}
  }
}`

func validateSchema(cfg *Config) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader([]byte(schemaDocument))); err != nil {
		return fmt.Errorf("compile embedded schema: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile embedded schema: %w", err)
	}

	asJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config for schema validation: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return fmt.Errorf("unmarshal config for schema validation: %w", err)
	}
	// Unset optional lists and maps marshal as null; drop them so the
	// schema treats them as absent rather than as values of the wrong type.
	for k, v := range doc {
		if v == nil {
			delete(doc, k)
		}
	}
	if p, ok := doc["provider"].(map[string]interface{}); ok && p["config"] == nil {
		delete(p, "config")
	}

	if err := schema.Validate(doc); err != nil {
		return err
	}
	return nil
}
