package sqlitevault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rudenavuud/agent-gate/common/crypto"
	"github.com/rudenavuud/agent-gate/internal/provider"
)

func TestParseReference(t *testing.T) {
	v := &Vault{}

	ref, err := v.ParseReference("op://pub/k/f")
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	want := provider.Reference{Container: "pub", Item: "k", Field: "f"}
	if ref != want {
		t.Fatalf("got %+v, want %+v", ref, want)
	}
}

func TestParseReferenceRejectsMalformed(t *testing.T) {
	v := &Vault{}
	for _, bad := range []string{"", "op://pub", "op://pub/k", "op:///k/f"} {
		if _, err := v.ParseReference(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestFetchRoundTrip(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	elevatedKey := make([]byte, crypto.KeySize)
	for i := range elevatedKey {
		elevatedKey[i] = byte(i + 1)
	}

	t.Setenv("AGENT_GATE_MASTER_KEY", hexEncode(key))
	t.Setenv(elevatedKeyEnv, hexEncode(elevatedKey))

	dbPath := filepath.Join(t.TempDir(), "vault.sqlite")
	p, err := newFromConfig(map[string]interface{}{"path": dbPath})
	if err != nil {
		t.Fatalf("newFromConfig: %v", err)
	}
	v := p.(*Vault)
	defer v.Close()

	ctx := context.Background()
	ref := provider.Reference{Container: "sec", Item: "stripe", Field: "key"}

	if err := v.Put(ctx, ref, "sk_live_123", false); err != nil {
		t.Fatalf("Put standard: %v", err)
	}
	if err := v.Put(ctx, ref, "sk_elevated_456", true); err != nil {
		t.Fatalf("Put elevated: %v", err)
	}

	got, err := v.Fetch(ctx, "op://sec/stripe/key", false)
	if err != nil || got != "sk_live_123" {
		t.Fatalf("standard fetch: got (%q, %v)", got, err)
	}

	got, err = v.Fetch(ctx, "op://sec/stripe/key", true)
	if err != nil || got != "sk_elevated_456" {
		t.Fatalf("elevated fetch: got (%q, %v)", got, err)
	}
}

func TestFetchRejectsCiphertextSwappedBetweenRows(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	t.Setenv("AGENT_GATE_MASTER_KEY", hexEncode(key))
	t.Setenv(elevatedKeyEnv, hexEncode(key))

	dbPath := filepath.Join(t.TempDir(), "vault.sqlite")
	p, err := newFromConfig(map[string]interface{}{"path": dbPath})
	if err != nil {
		t.Fatalf("newFromConfig: %v", err)
	}
	v := p.(*Vault)
	defer v.Close()

	ctx := context.Background()
	refA := provider.Reference{Container: "sec", Item: "a", Field: "key"}
	refB := provider.Reference{Container: "sec", Item: "b", Field: "key"}

	if err := v.Put(ctx, refA, "value-a", false); err != nil {
		t.Fatalf("Put a: %v", err)
	}

	var ciphertextA []byte
	row := v.db.QueryRowContext(ctx, "SELECT ciphertext FROM secrets WHERE container = ? AND item = ? AND field = ?",
		refA.Container, refA.Item, refA.Field)
	if err := row.Scan(&ciphertextA); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if _, err := v.db.ExecContext(ctx,
		"INSERT INTO secrets (container, item, field, ciphertext) VALUES (?, ?, ?, ?)",
		refB.Container, refB.Item, refB.Field, ciphertextA); err != nil {
		t.Fatalf("insert swapped row: %v", err)
	}

	if _, err := v.Fetch(ctx, "op://sec/b/key", false); err == nil {
		t.Fatal("expected decrypt failure for ciphertext copied from another row")
	}
}

func TestValidatePings(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	t.Setenv("AGENT_GATE_MASTER_KEY", hexEncode(key))
	t.Setenv(elevatedKeyEnv, hexEncode(key))

	dbPath := filepath.Join(t.TempDir(), "vault.sqlite")
	p, err := newFromConfig(map[string]interface{}{"path": dbPath})
	if err != nil {
		t.Fatalf("newFromConfig: %v", err)
	}
	v := p.(*Vault)
	defer v.Close()

	if err := v.Validate(context.Background()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
