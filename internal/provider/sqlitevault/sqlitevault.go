// Package sqlitevault is a reference Provider implementation: secret
// values live in a local SQLite file, encrypted at rest with
// AES-256-GCM (common/crypto).
//
// References take the form "<container>/<item>/<field>". elevated=true
// (every gated read) selects rows from a separate elevated_secrets table
// keyed by its own, more restrictively loaded key, so gated reads use an
// isolated high-privilege credential.
package sqlitevault

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rudenavuud/agent-gate/common/crypto"
	"github.com/rudenavuud/agent-gate/internal/provider"
)

func init() {
	provider.Register("sqlitevault", newFromConfig)
}

// Vault is the sqlitevault Provider.
type Vault struct {
	db          *sql.DB
	standardKey []byte
	elevatedKey []byte
}

// Config is the provider's nested configuration document (the value of
// config.provider.config in the broker's YAML file).
type Config struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

func newFromConfig(raw map[string]interface{}) (provider.Provider, error) {
	path, _ := raw["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("sqlitevault: config.provider.config.path is required")
	}

	standardKey, err := crypto.LoadMasterKey()
	if err != nil {
		return nil, fmt.Errorf("sqlitevault: load standard key: %w", err)
	}

	elevatedKey, err := loadElevatedKey()
	if err != nil {
		return nil, fmt.Errorf("sqlitevault: load elevated key: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitevault: open %q: %w", path, err)
	}

	v := &Vault{db: db, standardKey: standardKey, elevatedKey: elevatedKey}
	if err := v.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("sqlitevault: migrate: %w", err)
	}
	return v, nil
}

// elevatedKeyEnv names the environment variable carrying the separate,
// more restrictively permissioned key used for elevated (gated) reads.
const elevatedKeyEnv = "AGENT_GATE_ELEVATED_KEY"

func loadElevatedKey() ([]byte, error) {
	// Mirrors crypto.LoadMasterKey's hex-decode-and-size-check discipline
	// against a distinct environment variable, so the elevated credential
	// can be provisioned from a file only the broker's distinct OS
	// identity can read, isolated from the standard key.
	raw := strings.TrimSpace(os.Getenv(elevatedKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s is not set", elevatedKeyEnv)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid hex in %s: %w", elevatedKeyEnv, err)
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("%s must be %d bytes (%d hex chars), got %d bytes",
			elevatedKeyEnv, crypto.KeySize, crypto.KeySize*2, len(key))
	}
	return key, nil
}

func (v *Vault) migrate(ctx context.Context) error {
	_, err := v.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS secrets (
			container TEXT NOT NULL,
			item TEXT NOT NULL,
			field TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			PRIMARY KEY (container, item, field)
		);
		CREATE TABLE IF NOT EXISTS elevated_secrets (
			container TEXT NOT NULL,
			item TEXT NOT NULL,
			field TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			PRIMARY KEY (container, item, field)
		);
	`)
	return err
}

// ParseReference decomposes "<container>/<item>/<field>".
func (v *Vault) ParseReference(reference string) (provider.Reference, error) {
	parts := strings.SplitN(strings.TrimPrefix(reference, "op://"), "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return provider.Reference{}, fmt.Errorf("%w: %q", provider.ErrUnrecognisedReference, reference)
	}
	return provider.Reference{Container: parts[0], Item: parts[1], Field: parts[2]}, nil
}

// Fetch decrypts and returns the stored value for reference. elevated
// selects the isolated high-privilege table and key.
func (v *Vault) Fetch(ctx context.Context, reference string, elevated bool) (string, error) {
	ref, err := v.ParseReference(reference)
	if err != nil {
		return "", err
	}

	table, key := "secrets", v.standardKey
	if elevated {
		table, key = "elevated_secrets", v.elevatedKey
	}

	var ciphertext []byte
	row := v.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT ciphertext FROM %s WHERE container = ? AND item = ? AND field = ?", table),
		ref.Container, ref.Item, ref.Field)
	if err := row.Scan(&ciphertext); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("sqlitevault: no value for %q (elevated=%v): %w", reference, elevated, provider.ErrNotFound)
		}
		return "", fmt.Errorf("sqlitevault: query: %w", err)
	}

	plaintext, err := crypto.DecryptWithAAD(key, ciphertext, rowAAD(table, ref))
	if err != nil {
		return "", fmt.Errorf("sqlitevault: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// rowAAD binds a row's ciphertext to its own table and primary key, so a
// ciphertext blob copied between rows (or between the open and elevated
// tables) fails authentication instead of silently decrypting under the
// wrong reference.
func rowAAD(table string, ref provider.Reference) []byte {
	return []byte(table + "/" + ref.Container + "/" + ref.Item + "/" + ref.Field)
}

// Put stores value for ref, encrypted with the appropriate key. Exposed
// for provisioning/test setup; not part of the Provider contract.
func (v *Vault) Put(ctx context.Context, ref provider.Reference, value string, elevated bool) error {
	table, key := "secrets", v.standardKey
	if elevated {
		table, key = "elevated_secrets", v.elevatedKey
	}

	ciphertext, err := crypto.EncryptWithAAD(key, []byte(value), rowAAD(table, ref))
	if err != nil {
		return fmt.Errorf("sqlitevault: encrypt: %w", err)
	}

	_, err = v.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (container, item, field, ciphertext) VALUES (?, ?, ?, ?)
		ON CONFLICT(container, item, field) DO UPDATE SET ciphertext = excluded.ciphertext
	`, table), ref.Container, ref.Item, ref.Field, ciphertext)
	return err
}

// Validate pings the database; a failure here is fatal at broker
// startup.
func (v *Vault) Validate(ctx context.Context) error {
	if err := v.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlitevault: ping: %w", err)
	}
	slog.Debug("sqlitevault: validated", "driver", "modernc.org/sqlite")
	return nil
}

// Close releases the underlying database handle.
func (v *Vault) Close() error {
	return v.db.Close()
}
